// Package engine orchestrates the one-way mirror from the source content
// system into the destination workspace.
//
// A preview pass computes the action plan (create/update/conflict/skip)
// without touching the destination; an apply pass re-runs the plan and
// executes it item by item. Documents are processed strictly sequentially
// within one run: that bounds destination rate consumption and keeps
// conflict and audit ordering deterministic. Each applied item commits its
// own state before the next begins, so a failed run preserves the
// progress of earlier items (at-least-once, per-item atomic).
//
// Two invocations must not run concurrently against the same state file;
// the engine does not guard against it.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docmirror/docmirror/internal/audit"
	"github.com/docmirror/docmirror/internal/dest"
	"github.com/docmirror/docmirror/internal/errkind"
	"github.com/docmirror/docmirror/internal/fingerprint"
	"github.com/docmirror/docmirror/internal/media"
	"github.com/docmirror/docmirror/internal/source"
	"github.com/docmirror/docmirror/internal/state"
)

// Action is the planned disposition for one document.
type Action string

const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionConflict Action = "conflict"
	ActionSkip     Action = "skip"
)

// Config carries the engine's run-independent settings. It is built once
// at startup from the loaded configuration and passed into New; the
// engine performs no ambient configuration lookup.
type Config struct {
	// SourceType tags mappings with the kind of source document.
	SourceType string

	// RootPath is the destination container path under which mirrored
	// objects live. A document's own path is appended to it. When both
	// are empty there is no creation target and new documents are
	// skipped with a reason.
	RootPath []string

	// ItemDelay is the pause between applied items, backpressure
	// against destination rate limits. Zero disables the pause.
	ItemDelay time.Duration
}

// Engine coordinates the source adapter, destination adapter, state
// store, media cache, and audit trail for preview and apply passes.
type Engine struct {
	src    source.Adapter
	dst    dest.Adapter
	store  *state.Store
	media  *media.Cache
	trail  *audit.Trail
	cfg    Config
	logger *log.Logger
}

// New creates a sync engine. If logger is nil, a default logger writing
// to stderr is used.
func New(src source.Adapter, dst dest.Adapter, store *state.Store, cache *media.Cache, trail *audit.Trail, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.SourceType == "" {
		cfg.SourceType = "document"
	}
	return &Engine{
		src:    src,
		dst:    dst,
		store:  store,
		media:  cache,
		trail:  trail,
		cfg:    cfg,
		logger: logger,
	}
}

// Item is one planned document in a preview result.
type Item struct {
	SourceID     string `json:"source_id"`
	Name         string `json:"name"`
	Action       Action `json:"action"`
	Reason       string `json:"reason,omitempty"`
	DestObjectID string `json:"dest_object_id,omitempty"`

	// carried into apply, not serialized
	doc          *source.Document
	mapping      *state.Mapping
	fingerprint  string
	path         []string
	destEditedAt time.Time
}

// PreviewResult is the action plan for a set of candidate documents.
type PreviewResult struct {
	Items []Item `json:"items"`
}

// Summary returns counts by planned action.
func (r *PreviewResult) Summary() map[string]int {
	summary := make(map[string]int)
	for _, item := range r.Items {
		summary[string(item.Action)]++
	}
	return summary
}

// PreviewOptions narrows the candidate set for a preview pass.
type PreviewOptions struct {
	// IDs restricts the pass to specific source documents. Empty means
	// every document the source lists.
	IDs []string

	// Since restricts the pass to documents modified after the given
	// time. Nil means no time bound.
	Since *time.Time
}

// ApplyOptions configures an apply pass.
type ApplyOptions struct {
	// IDs restricts the pass to specific source documents.
	IDs []string

	// IncludeMedia resolves referenced assets through the media cache
	// and lists them in the generated region.
	IncludeMedia bool

	// Mode selects the candidate set: full considers every document,
	// incremental only those modified since the last successful run.
	Mode state.RunMode
}

// ApplyItem is the outcome for one document in an apply pass.
type ApplyItem struct {
	SourceID     string `json:"source_id"`
	Name         string `json:"name"`
	Action       Action `json:"action"`
	Reason       string `json:"reason,omitempty"`
	DestObjectID string `json:"dest_object_id,omitempty"`
	ConflictID   string `json:"conflict_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ApplyResult is the outcome of one apply pass.
type ApplyResult struct {
	RunID   string         `json:"run_id"`
	Items   []ApplyItem    `json:"items"`
	Summary map[string]int `json:"summary"`
}

// ListConflicts returns recorded conflicts filtered by status (empty for
// all), newest source change first.
func (e *Engine) ListConflicts(ctx context.Context, status state.ConflictStatus) ([]*state.Conflict, error) {
	return e.store.ListConflicts(ctx, status)
}

// ResolveConflict marks a conflict resolved or ignored with operator
// notes. Returns whether a conflict row was actually changed; a
// nonexistent id returns false without error.
func (e *Engine) ResolveConflict(ctx context.Context, id string, status state.ConflictStatus, notes string) (bool, error) {
	changed, err := e.store.ResolveConflict(ctx, id, status, notes)
	if err != nil {
		return false, err
	}
	if changed {
		if err := e.trail.Record("conflict.resolved", map[string]any{
			"conflict_id": id,
			"status":      string(status),
		}); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// DiffResult echoes a document's current content and fingerprints.
type DiffResult struct {
	SourceID          string `json:"source_id"`
	SourceFingerprint string `json:"source_fingerprint"`
	LastSyncedAt      string `json:"last_synced_at,omitempty"`
	SyncedFingerprint string `json:"synced_fingerprint,omitempty"`
	Body              string `json:"body"`
}

// Diff returns the document's current body and fingerprint next to the
// fingerprint recorded at last sync. It is an identity echo, not a
// semantic diff; callers compare the two fingerprints to see whether the
// source changed.
func (e *Engine) Diff(ctx context.Context, sourceID string) (*DiffResult, error) {
	doc, err := e.src.GetDocument(ctx, sourceID)
	if err != nil {
		return nil, errkind.New(errkind.KindAdapter, "engine.Diff", err)
	}

	result := &DiffResult{
		SourceID:          doc.ID,
		SourceFingerprint: fingerprint.Document(doc),
		Body:              doc.Body,
	}

	mapping, err := e.store.GetMapping(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if mapping != nil {
		result.SyncedFingerprint = mapping.SourceFingerprint
		result.LastSyncedAt = mapping.LastSyncedAt.UTC().Format(time.RFC3339)
	}

	return result, nil
}

// pause sleeps for the configured inter-item delay, returning early if
// the context is cancelled.
func (e *Engine) pause(ctx context.Context) {
	if e.cfg.ItemDelay <= 0 {
		return
	}
	timer := time.NewTimer(e.cfg.ItemDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// effectivePath is the destination container path a document syncs
// under: the configured root with the document's own path appended.
func (e *Engine) effectivePath(doc *source.Document) []string {
	if len(e.cfg.RootPath) == 0 {
		return doc.Path
	}
	path := make([]string, 0, len(e.cfg.RootPath)+len(doc.Path))
	path = append(path, e.cfg.RootPath...)
	path = append(path, doc.Path...)
	return path
}

// lastSuccessAt returns the start time of the most recent successful
// run, or nil when none exists.
func (e *Engine) lastSuccessAt(ctx context.Context) (*time.Time, error) {
	runs, err := e.store.ListRuns(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}
	for _, r := range runs {
		if r.Status == state.RunSuccess {
			t := r.StartedAt
			return &t, nil
		}
	}
	return nil, nil
}
