package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docmirror/docmirror/internal/dest"
	"github.com/docmirror/docmirror/internal/errkind"
	"github.com/docmirror/docmirror/internal/fingerprint"
	"github.com/docmirror/docmirror/internal/source"
	"github.com/docmirror/docmirror/internal/state"
)

// Apply re-runs the preview plan and executes it. Each item commits its
// own mapping and audit record before the next starts, so a run that
// fails midway keeps the progress of earlier items. State store failures
// abort the run; adapter failures mark the item failed and the run
// continues.
func (e *Engine) Apply(ctx context.Context, opts ApplyOptions) (*ApplyResult, error) {
	if opts.Mode == "" {
		opts.Mode = state.RunFull
	}

	run := &state.Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    state.RunRunning,
		Mode:      opts.Mode,
	}
	if err := e.store.StartRun(ctx, run); err != nil {
		return nil, err
	}
	if err := e.trail.Record("run.started", map[string]any{
		"run_id": run.ID,
		"mode":   string(opts.Mode),
	}); err != nil {
		return nil, err
	}

	result, applyErr := e.applyItems(ctx, run.ID, opts)
	result.RunID = run.ID

	if applyErr != nil {
		if err := e.store.FinishRun(ctx, run.ID, state.RunFailed, result.Summary, applyErr.Error()); err != nil {
			e.logger.Printf("WARNING: failed to record run failure: %v", err)
		}
		if err := e.trail.Record("run.failed", map[string]any{
			"run_id": run.ID,
			"error":  applyErr.Error(),
		}); err != nil {
			e.logger.Printf("WARNING: failed to audit run failure: %v", err)
		}
		return result, applyErr
	}

	if err := e.store.FinishRun(ctx, run.ID, state.RunSuccess, result.Summary, ""); err != nil {
		return result, err
	}
	if err := e.trail.Record("run.finished", map[string]any{
		"run_id":  run.ID,
		"summary": result.Summary,
	}); err != nil {
		return result, err
	}
	return result, nil
}

// applyItems plans and executes the run body. The returned result is
// never nil; partial outcomes survive an error return.
func (e *Engine) applyItems(ctx context.Context, runID string, opts ApplyOptions) (*ApplyResult, error) {
	result := &ApplyResult{Summary: make(map[string]int)}

	preview := PreviewOptions{IDs: opts.IDs}
	if opts.Mode == state.RunIncremental {
		since, err := e.lastSuccessAt(ctx)
		if err != nil {
			return result, err
		}
		preview.Since = since
	}

	plan, err := e.Preview(ctx, preview)
	if err != nil {
		return result, err
	}

	for i, item := range plan.Items {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("run cancelled: %w", err)
		}

		outcome, err := e.applyItem(ctx, runID, item, opts)
		result.Items = append(result.Items, outcome)
		key := string(outcome.Action)
		if outcome.Error != "" {
			key = "failed"
		}
		result.Summary[key]++
		if err != nil {
			return result, err
		}

		if outcome.Action == ActionCreate || outcome.Action == ActionUpdate {
			if i < len(plan.Items)-1 {
				e.pause(ctx)
			}
		}
	}
	return result, nil
}

// applyItem executes one planned item. The returned error is fatal to
// the run; adapter failures are folded into the outcome instead.
func (e *Engine) applyItem(ctx context.Context, runID string, item Item, opts ApplyOptions) (ApplyItem, error) {
	outcome := ApplyItem{
		SourceID: item.SourceID,
		Name:     item.Name,
		Action:   item.Action,
		Reason:   item.Reason,
	}

	switch item.Action {
	case ActionSkip:
		if err := e.trail.Record("document.skipped", map[string]any{
			"run_id":    runID,
			"source_id": item.SourceID,
			"reason":    item.Reason,
		}); err != nil {
			return outcome, err
		}
		return outcome, nil

	case ActionConflict:
		id, err := e.recordConflict(ctx, runID, item)
		outcome.ConflictID = id
		outcome.DestObjectID = item.DestObjectID
		return outcome, err

	case ActionCreate, ActionUpdate:
		destID, err := e.syncDocument(ctx, runID, item, opts.IncludeMedia)
		outcome.DestObjectID = destID
		if err != nil {
			if errkind.IsPersistence(err) {
				return outcome, err
			}
			outcome.Error = err.Error()
			e.logger.Printf("WARNING: failed to sync document %s: %v", item.SourceID, err)
			if auditErr := e.trail.Record("document.failed", map[string]any{
				"run_id":    runID,
				"source_id": item.SourceID,
				"error":     err.Error(),
			}); auditErr != nil {
				return outcome, auditErr
			}
			return outcome, nil
		}
		return outcome, nil

	default:
		return outcome, fmt.Errorf("unknown action %q for document %s", item.Action, item.SourceID)
	}
}

// recordConflict persists an open conflict and audits it. The
// destination is left untouched.
func (e *Engine) recordConflict(ctx context.Context, runID string, item Item) (string, error) {
	destFP := state.FingerprintUnknown
	if item.mapping != nil && item.mapping.PayloadFingerprint != "" {
		destFP = item.mapping.PayloadFingerprint
	}
	changedAt := time.Now().UTC()
	if item.doc.UpdatedAt != nil {
		changedAt = item.doc.UpdatedAt.UTC()
	}

	conflict := &state.Conflict{
		ID:                uuid.New().String(),
		SourceID:          item.SourceID,
		DestObjectID:      item.DestObjectID,
		SourceChangedAt:   changedAt,
		DestChangedAt:     item.destEditedAt.UTC(),
		SourceFingerprint: item.fingerprint,
		DestFingerprint:   destFP,
		Status:            state.ConflictOpen,
	}
	if err := e.store.InsertConflict(ctx, conflict); err != nil {
		return "", err
	}
	if err := e.trail.Record("conflict.detected", map[string]any{
		"run_id":         runID,
		"conflict_id":    conflict.ID,
		"source_id":      item.SourceID,
		"dest_object_id": item.DestObjectID,
	}); err != nil {
		return conflict.ID, err
	}
	return conflict.ID, nil
}

// syncDocument writes one document's generated region into the
// destination and commits the mapping. Stale-region deletion is
// best-effort; the upsert that follows replaces the region either way.
func (e *Engine) syncDocument(ctx context.Context, runID string, item Item, includeMedia bool) (string, error) {
	doc := item.doc
	destID := item.DestObjectID

	if item.Action == ActionCreate {
		containerID, err := e.dst.EnsureContainerPath(ctx, item.path)
		if err != nil {
			return "", errkind.New(errkind.KindAdapter, "engine.syncDocument", err)
		}
		destID, err = e.dst.CreateObject(ctx, containerID, doc.Name)
		if err != nil {
			return "", errkind.New(errkind.KindAdapter, "engine.syncDocument", err)
		}
	}

	var mediaItems []dest.MediaItem
	if includeMedia && len(doc.Media) > 0 {
		results, err := e.media.Resolve(ctx, doc.Media)
		if err != nil {
			return destID, err
		}
		for _, res := range results {
			if res.Err != nil {
				if auditErr := e.trail.Record("media.failed", map[string]any{
					"run_id":    runID,
					"source_id": doc.ID,
					"asset":     res.Ref.Locator(),
					"error":     res.Err.Error(),
				}); auditErr != nil {
					return destID, auditErr
				}
				continue
			}
			mediaItems = append(mediaItems, dest.MediaItem{
				Name:     mediaName(res.Ref, res.Record),
				Ref:      res.Record.StoredRef,
				Checksum: res.Record.Checksum,
				Size:     res.Record.Size,
			})
		}
	}

	syncedAt := time.Now().UTC()
	payload := &dest.Payload{
		SourceID:        doc.ID,
		SourceName:      doc.Name,
		SourceUpdatedAt: doc.UpdatedAt,
		Path:            item.path,
		Body:            normalizeBody(doc.Body),
		Media:           mediaItems,
		SyncedAt:        syncedAt,
	}

	previousRegion := ""
	if item.mapping != nil {
		previousRegion = item.mapping.RegionID
	}
	if previousRegion != "" {
		if err := e.dst.DeleteGeneratedRegion(ctx, previousRegion); err != nil {
			e.logger.Printf("WARNING: failed to delete stale region %s for %s (continuing): %v", previousRegion, doc.ID, err)
		}
	}

	regionID, err := e.dst.UpsertGeneratedRegion(ctx, destID, payload, previousRegion)
	if err != nil {
		return destID, errkind.New(errkind.KindAdapter, "engine.syncDocument", err)
	}

	mapping := &state.Mapping{
		SourceID:           doc.ID,
		SourceType:         e.cfg.SourceType,
		DestObjectID:       destID,
		Name:               doc.Name,
		Direction:          state.DirectionPush,
		SourceFingerprint:  item.fingerprint,
		PayloadFingerprint: fingerprint.Payload(payload),
		LastSyncedAt:       syncedAt,
		RegionID:           regionID,
	}
	if err := e.store.UpsertMapping(ctx, mapping); err != nil {
		return destID, err
	}

	if err := e.trail.Record("document.synced", map[string]any{
		"run_id":         runID,
		"source_id":      doc.ID,
		"dest_object_id": destID,
		"action":         string(item.Action),
		"region_id":      regionID,
	}); err != nil {
		return destID, err
	}
	return destID, nil
}

// mediaName picks the display name for a cached asset: the declared
// filename when present, otherwise the stored asset id.
func mediaName(ref source.MediaReference, record *state.MediaRecord) string {
	if ref.Filename != "" {
		return ref.Filename
	}
	return record.AssetID
}

// normalizeBody canonicalizes line endings and trailing whitespace so
// fingerprints stay stable across cosmetic source differences.
func normalizeBody(body string) string {
	if body == "" {
		return ""
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	body = strings.Join(lines, "\n")
	return strings.TrimRight(body, "\n") + "\n"
}
