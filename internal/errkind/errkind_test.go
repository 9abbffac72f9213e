package errkind

import (
	"errors"
	"fmt"
	"testing"
)

// TestClassify_Wrapped tests that classification survives fmt.Errorf wrapping
func TestClassify_Wrapped(t *testing.T) {
	base := New(KindPersistence, "state.UpsertMapping", errors.New("disk full"))
	wrapped := fmt.Errorf("apply failed: %w", base)

	if got := Classify(wrapped); got != KindPersistence {
		t.Errorf("Classify() = %q, want %q", got, KindPersistence)
	}
	if !IsPersistence(wrapped) {
		t.Error("IsPersistence() = false, want true")
	}
}

// TestClassify_Unclassified tests that plain errors report KindUnknown
func TestClassify_Unclassified(t *testing.T) {
	err := errors.New("something broke")
	if got := Classify(err); got != KindUnknown {
		t.Errorf("Classify() = %q, want %q", got, KindUnknown)
	}
	if IsPersistence(err) {
		t.Error("IsPersistence() = true for plain error, want false")
	}
}

// TestNew_NilError tests that wrapping nil returns nil
func TestNew_NilError(t *testing.T) {
	if err := New(KindAdapter, "source.GetDocument", nil); err != nil {
		t.Errorf("New(nil) = %v, want nil", err)
	}
}

// TestIsAdapter_Subkinds tests that unauthorized and not-found count as adapter failures
func TestIsAdapter_Subkinds(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindAdapter, true},
		{KindUnauthorized, true},
		{KindNotFound, true},
		{KindPrecondition, false},
		{KindPersistence, false},
	}

	for _, tc := range cases {
		err := Newf(tc.kind, "op", "boom")
		if got := IsAdapter(err); got != tc.want {
			t.Errorf("IsAdapter(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

// TestError_Message tests the rendered error string
func TestError_Message(t *testing.T) {
	err := New(KindAdapter, "dest.CreateObject", errors.New("503 from upstream"))
	want := "dest.CreateObject: 503 from upstream"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
