package state

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// testStorePath returns a temporary path for test databases
func testStorePath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "state.db")
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testMapping(sourceID string, syncedAt time.Time) *Mapping {
	return &Mapping{
		SourceID:           sourceID,
		SourceType:         "document",
		DestObjectID:       "dest-" + sourceID,
		Name:               "Doc " + sourceID,
		Direction:          DirectionPush,
		SourceFingerprint:  "fp-src-1",
		PayloadFingerprint: "fp-pay-1",
		LastSyncedAt:       syncedAt,
		RegionID:           "region-1",
	}
}

// TestOpen_Success tests database creation and schema initialization
func TestOpen_Success(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}

	tables := []string{"mappings", "conflicts", "media_records", "sync_runs"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := s.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

// TestOpen_Idempotent tests that reopening an existing store is safe
func TestOpen_Idempotent(t *testing.T) {
	path := testStorePath(t)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("First Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Second Open() failed: %v", err)
	}
	defer s2.Close()
}

// TestGetMapping_Absent tests that a missing mapping returns (nil, nil)
func TestGetMapping_Absent(t *testing.T) {
	s := openTestStore(t)

	m, err := s.GetMapping(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetMapping() failed: %v", err)
	}
	if m != nil {
		t.Errorf("GetMapping() = %+v, want nil for absent mapping", m)
	}
}

// TestUpsertMapping_RoundTrip tests insert and retrieval of a mapping
func TestUpsertMapping_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	syncedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := testMapping("doc-1", syncedAt)

	if err := s.UpsertMapping(ctx, m); err != nil {
		t.Fatalf("UpsertMapping() failed: %v", err)
	}

	got, err := s.GetMapping(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetMapping() failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetMapping() returned nil for existing mapping")
	}

	if got.DestObjectID != "dest-doc-1" {
		t.Errorf("DestObjectID = %q, want 'dest-doc-1'", got.DestObjectID)
	}
	if got.SourceFingerprint != "fp-src-1" {
		t.Errorf("SourceFingerprint = %q, want 'fp-src-1'", got.SourceFingerprint)
	}
	if !got.LastSyncedAt.Equal(syncedAt) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, syncedAt)
	}
	if got.RegionID != "region-1" {
		t.Errorf("RegionID = %q, want 'region-1'", got.RegionID)
	}
}

// TestUpsertMapping_Replace tests that upsert replaces the row, not duplicates it
func TestUpsertMapping_Replace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	m := testMapping("doc-1", now)
	if err := s.UpsertMapping(ctx, m); err != nil {
		t.Fatalf("First UpsertMapping() failed: %v", err)
	}

	m.SourceFingerprint = "fp-src-2"
	m.RegionID = "region-2"
	m.LastSyncedAt = now.Add(time.Hour)
	if err := s.UpsertMapping(ctx, m); err != nil {
		t.Fatalf("Second UpsertMapping() failed: %v", err)
	}

	count, err := s.CountMappings(ctx)
	if err != nil {
		t.Fatalf("CountMappings() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("mapping count = %d, want 1 (no duplicate rows)", count)
	}

	got, err := s.GetMapping(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetMapping() failed: %v", err)
	}
	if got.SourceFingerprint != "fp-src-2" {
		t.Errorf("SourceFingerprint = %q, want 'fp-src-2'", got.SourceFingerprint)
	}
	if got.RegionID != "region-2" {
		t.Errorf("RegionID = %q, want 'region-2'", got.RegionID)
	}
}

// TestUpsertMapping_EmptyRegionID tests that an empty region id round-trips as empty
func TestUpsertMapping_EmptyRegionID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := testMapping("doc-1", time.Now().UTC())
	m.RegionID = ""
	if err := s.UpsertMapping(ctx, m); err != nil {
		t.Fatalf("UpsertMapping() failed: %v", err)
	}

	got, err := s.GetMapping(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetMapping() failed: %v", err)
	}
	if got.RegionID != "" {
		t.Errorf("RegionID = %q, want empty", got.RegionID)
	}
}

func testConflict(id string, changedAt time.Time) *Conflict {
	return &Conflict{
		ID:                id,
		SourceID:          "doc-1",
		DestObjectID:      "dest-1",
		SourceChangedAt:   changedAt,
		DestChangedAt:     changedAt.Add(time.Minute),
		SourceFingerprint: "fp-new",
		DestFingerprint:   FingerprintUnknown,
		Status:            ConflictOpen,
	}
}

// TestInsertConflict_Idempotent tests insert-or-replace keyed by conflict id
func TestInsertConflict_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := testConflict("conf-1", time.Now().UTC())
	if err := s.InsertConflict(ctx, c); err != nil {
		t.Fatalf("First InsertConflict() failed: %v", err)
	}
	if err := s.InsertConflict(ctx, c); err != nil {
		t.Fatalf("Second InsertConflict() failed: %v", err)
	}

	count, err := s.CountConflicts(ctx, "")
	if err != nil {
		t.Fatalf("CountConflicts() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("conflict count = %d, want 1", count)
	}
}

// TestListConflicts_FilterAndOrder tests status filtering and descending order
func TestListConflicts_FilterAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	older := testConflict("conf-old", base)
	newer := testConflict("conf-new", base.Add(time.Hour))
	resolved := testConflict("conf-done", base.Add(2*time.Hour))
	resolved.Status = ConflictResolved

	for _, c := range []*Conflict{older, newer, resolved} {
		if err := s.InsertConflict(ctx, c); err != nil {
			t.Fatalf("InsertConflict(%s) failed: %v", c.ID, err)
		}
	}

	t.Run("All", func(t *testing.T) {
		all, err := s.ListConflicts(ctx, "")
		if err != nil {
			t.Fatalf("ListConflicts() failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 conflicts, got %d", len(all))
		}
		// Newest source-changed first
		if all[0].ID != "conf-done" || all[1].ID != "conf-new" || all[2].ID != "conf-old" {
			t.Errorf("unexpected order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
		}
	})

	t.Run("OpenOnly", func(t *testing.T) {
		open, err := s.ListConflicts(ctx, ConflictOpen)
		if err != nil {
			t.Fatalf("ListConflicts(open) failed: %v", err)
		}
		if len(open) != 2 {
			t.Errorf("expected 2 open conflicts, got %d", len(open))
		}
	})
}

// TestResolveConflict tests explicit manual resolution
func TestResolveConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := testConflict("conf-1", time.Now().UTC())
	if err := s.InsertConflict(ctx, c); err != nil {
		t.Fatalf("InsertConflict() failed: %v", err)
	}

	changed, err := s.ResolveConflict(ctx, "conf-1", ConflictResolved, "took the source version")
	if err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}
	if !changed {
		t.Error("ResolveConflict() = false, want true for existing conflict")
	}

	got, err := s.ListConflicts(ctx, ConflictResolved)
	if err != nil {
		t.Fatalf("ListConflicts() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 resolved conflict, got %d", len(got))
	}
	if got[0].Notes != "took the source version" {
		t.Errorf("Notes = %q, want 'took the source version'", got[0].Notes)
	}
}

// TestResolveConflict_Rewriteable tests that re-resolving overwrites status and notes
func TestResolveConflict_Rewriteable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := testConflict("conf-1", time.Now().UTC())
	if err := s.InsertConflict(ctx, c); err != nil {
		t.Fatalf("InsertConflict() failed: %v", err)
	}

	if _, err := s.ResolveConflict(ctx, "conf-1", ConflictResolved, "first pass"); err != nil {
		t.Fatalf("First ResolveConflict() failed: %v", err)
	}

	changed, err := s.ResolveConflict(ctx, "conf-1", ConflictIgnored, "actually ignore it")
	if err != nil {
		t.Fatalf("Second ResolveConflict() failed: %v", err)
	}
	if !changed {
		t.Error("re-resolving an already-resolved conflict should be permitted")
	}

	got, err := s.ListConflicts(ctx, ConflictIgnored)
	if err != nil {
		t.Fatalf("ListConflicts() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 ignored conflict, got %d", len(got))
	}
	if got[0].Notes != "actually ignore it" {
		t.Errorf("Notes = %q, second call's notes should win", got[0].Notes)
	}
}

// TestResolveConflict_Missing tests that a nonexistent id returns false without error
func TestResolveConflict_Missing(t *testing.T) {
	s := openTestStore(t)

	changed, err := s.ResolveConflict(context.Background(), "no-such-id", ConflictResolved, "")
	if err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}
	if changed {
		t.Error("ResolveConflict() = true for nonexistent conflict, want false")
	}
}

// TestResolveConflict_InvalidStatus tests that only resolved/ignored are accepted
func TestResolveConflict_InvalidStatus(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ResolveConflict(context.Background(), "conf-1", ConflictOpen, "")
	if err == nil {
		t.Error("expected error resolving to 'open', got nil")
	}
}

// TestUpsertMediaRecord tests media record persistence keyed by asset id
func TestUpsertMediaRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &MediaRecord{
		AssetID:     "asset-1",
		SourceURL:   "https://cdn.example/a.png",
		StoredRef:   "media/ab12cd.png",
		Checksum:    "ab12cd",
		Size:        2048,
		ValidatedAt: time.Now().UTC(),
	}

	if err := s.UpsertMediaRecord(ctx, r); err != nil {
		t.Fatalf("UpsertMediaRecord() failed: %v", err)
	}

	// Re-validate with a new timestamp; still one row
	r.ValidatedAt = r.ValidatedAt.Add(time.Hour)
	if err := s.UpsertMediaRecord(ctx, r); err != nil {
		t.Fatalf("Second UpsertMediaRecord() failed: %v", err)
	}

	count, err := s.CountMediaRecords(ctx)
	if err != nil {
		t.Fatalf("CountMediaRecords() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("media record count = %d, want 1", count)
	}

	got, err := s.GetMediaRecord(ctx, "asset-1")
	if err != nil {
		t.Fatalf("GetMediaRecord() failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetMediaRecord() returned nil for existing record")
	}
	if got.Checksum != "ab12cd" {
		t.Errorf("Checksum = %q, want 'ab12cd'", got.Checksum)
	}
}

// TestGetMediaRecord_Absent tests that a missing record returns (nil, nil)
func TestGetMediaRecord_Absent(t *testing.T) {
	s := openTestStore(t)

	r, err := s.GetMediaRecord(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetMediaRecord() failed: %v", err)
	}
	if r != nil {
		t.Errorf("GetMediaRecord() = %+v, want nil", r)
	}
}

// TestRunLifecycle tests the start-then-finish write pattern
func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:        "run-1",
		StartedAt: time.Now().UTC(),
		Mode:      RunFull,
	}
	if err := s.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun() failed: %v", err)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != RunRunning {
		t.Errorf("Status = %q, want 'running'", runs[0].Status)
	}
	if runs[0].EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil before finish", runs[0].EndedAt)
	}

	summary := map[string]int{"create": 2, "update": 1, "skip": 1}
	if err := s.FinishRun(ctx, "run-1", RunSuccess, summary, ""); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	runs, err = s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if runs[0].Status != RunSuccess {
		t.Errorf("Status = %q, want 'success'", runs[0].Status)
	}
	if runs[0].EndedAt == nil {
		t.Error("EndedAt = nil after finish, want a timestamp")
	}
	if runs[0].Summary["create"] != 2 {
		t.Errorf("Summary[create] = %d, want 2", runs[0].Summary["create"])
	}
}

// TestFinishRun_Failed tests that the error detail is recorded
func TestFinishRun_Failed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{ID: "run-1", StartedAt: time.Now().UTC(), Mode: RunIncremental}
	if err := s.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun() failed: %v", err)
	}

	if err := s.FinishRun(ctx, "run-1", RunFailed, nil, "state write failed"); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if runs[0].Status != RunFailed {
		t.Errorf("Status = %q, want 'failed'", runs[0].Status)
	}
	if runs[0].Error != "state write failed" {
		t.Errorf("Error = %q, want 'state write failed'", runs[0].Error)
	}
}

// TestListRuns_LimitAndOrder tests run history ordering
func TestListRuns_LimitAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := &Run{
			ID:        fmt.Sprintf("run-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Mode:      RunIncremental,
		}
		if err := s.StartRun(ctx, run); err != nil {
			t.Fatalf("StartRun(%s) failed: %v", run.ID, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs with limit, got %d", len(runs))
	}
	if runs[0].ID != "run-4" {
		t.Errorf("newest run = %s, want 'run-4'", runs[0].ID)
	}
}

// TestStartRun_InvalidMode tests mode validation
func TestStartRun_InvalidMode(t *testing.T) {
	s := openTestStore(t)

	run := &Run{ID: "run-1", StartedAt: time.Now().UTC(), Mode: "bogus"}
	if err := s.StartRun(context.Background(), run); err == nil {
		t.Error("expected error for invalid run mode, got nil")
	}
}

// TestGetMediaRecordByChecksum tests content lookup across asset ids
func TestGetMediaRecordByChecksum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &MediaRecord{
		AssetID:     "asset-1",
		StoredRef:   "/media/abc123.png",
		Checksum:    "abc123",
		Size:        9,
		ValidatedAt: time.Now().UTC(),
	}
	if err := s.UpsertMediaRecord(ctx, rec); err != nil {
		t.Fatalf("UpsertMediaRecord() failed: %v", err)
	}

	got, err := s.GetMediaRecordByChecksum(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetMediaRecordByChecksum() failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record for known checksum")
	}
	if got.StoredRef != rec.StoredRef {
		t.Errorf("StoredRef = %q, want %q", got.StoredRef, rec.StoredRef)
	}

	missing, err := s.GetMediaRecordByChecksum(ctx, "nope")
	if err != nil {
		t.Fatalf("GetMediaRecordByChecksum() failed for unknown checksum: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown checksum, got %+v", missing)
	}
}

// TestMalformedTimestampsError tests that corrupted timestamp columns
// surface as read errors instead of zero-value times
func TestMalformedTimestampsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO mappings (source_id, source_type, dest_object_id, name, direction,
	                      source_fingerprint, payload_fingerprint, last_synced_at)
	VALUES ('doc-1', 'document', 'obj-1', 'Alpha', 'push', 'fp', 'pfp', 'garbage')
	`)
	if err != nil {
		t.Fatalf("failed to seed malformed mapping: %v", err)
	}
	if _, err := s.GetMapping(ctx, "doc-1"); err == nil {
		t.Error("expected error for malformed last_synced_at, got nil")
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO conflicts (id, source_id, dest_object_id, source_changed_at, dest_changed_at,
	                       source_fingerprint, dest_fingerprint, status)
	VALUES ('c-1', 'doc-1', 'obj-1', 'garbage', 'garbage', 'fp', 'dfp', 'open')
	`)
	if err != nil {
		t.Fatalf("failed to seed malformed conflict: %v", err)
	}
	if _, err := s.ListConflicts(ctx, ""); err == nil {
		t.Error("expected error for malformed conflict timestamps, got nil")
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO sync_runs (id, started_at, status, mode)
	VALUES ('run-1', 'garbage', 'running', 'full')
	`)
	if err != nil {
		t.Fatalf("failed to seed malformed run: %v", err)
	}
	if _, err := s.ListRuns(ctx, 0); err == nil {
		t.Error("expected error for malformed started_at, got nil")
	}
}
