package engine

import (
	"context"
	"fmt"

	"github.com/docmirror/docmirror/internal/errkind"
	"github.com/docmirror/docmirror/internal/fingerprint"
	"github.com/docmirror/docmirror/internal/source"
	"github.com/docmirror/docmirror/internal/state"
)

// Preview computes the action plan for the candidate documents without
// mutating the destination or the state store. Per-item adapter failures
// surface as skip items with a reason; only source listing and state
// store failures abort the pass.
func (e *Engine) Preview(ctx context.Context, opts PreviewOptions) (*PreviewResult, error) {
	docs, skipped, err := e.loadDocuments(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{Items: skipped}
	for _, doc := range docs {
		item, err := e.planDocument(ctx, doc)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// loadDocuments lists the candidate documents and fetches each one in
// full. Documents that fail to fetch come back as skip items so one bad
// document does not abort the pass.
func (e *Engine) loadDocuments(ctx context.Context, opts PreviewOptions) ([]*source.Document, []Item, error) {
	filter := source.ListFilter{IDs: opts.IDs, UpdatedSince: opts.Since}
	summaries, err := e.src.ListDocuments(ctx, filter)
	if err != nil {
		return nil, nil, errkind.New(errkind.KindAdapter, "engine.loadDocuments", err)
	}

	var docs []*source.Document
	var skipped []Item
	for _, s := range summaries {
		doc, err := e.src.GetDocument(ctx, s.ID)
		if err != nil {
			e.logger.Printf("WARNING: failed to fetch document %s: %v", s.ID, err)
			skipped = append(skipped, Item{
				SourceID: s.ID,
				Name:     s.Name,
				Action:   ActionSkip,
				Reason:   fmt.Sprintf("source fetch failed: %v", err),
			})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, skipped, nil
}

// planDocument decides the action for one document. The returned error
// is reserved for state store failures, which abort the whole pass;
// destination adapter trouble degrades to a skip item.
func (e *Engine) planDocument(ctx context.Context, doc *source.Document) (Item, error) {
	item := Item{
		SourceID:    doc.ID,
		Name:        doc.Name,
		doc:         doc,
		fingerprint: fingerprint.Document(doc),
		path:        e.effectivePath(doc),
	}

	mapping, err := e.store.GetMapping(ctx, doc.ID)
	if err != nil {
		return item, err
	}
	item.mapping = mapping

	destID, err := e.findDestination(ctx, doc, mapping)
	if err != nil {
		item.Action = ActionSkip
		item.Reason = fmt.Sprintf("destination lookup failed: %v", err)
		return item, nil
	}

	if destID == "" {
		if len(item.path) == 0 {
			item.Action = ActionSkip
			item.Reason = "no destination match and no creation path configured"
			return item, nil
		}
		item.Action = ActionCreate
		return item, nil
	}
	item.DestObjectID = destID

	if mapping == nil || mapping.SourceFingerprint == item.fingerprint {
		// Unmapped match adopts the existing object; unchanged source
		// rewrites it idempotently.
		item.Action = ActionUpdate
		return item, nil
	}

	// Source changed since last sync. Conflict only when the destination
	// was also edited after that sync.
	editedAt, err := e.dst.GetLastEditedTimestamp(ctx, destID)
	if err != nil {
		item.Action = ActionSkip
		item.Reason = fmt.Sprintf("destination timestamp lookup failed: %v", err)
		return item, nil
	}
	item.destEditedAt = editedAt

	if editedAt.After(mapping.LastSyncedAt) {
		item.Action = ActionConflict
		return item, nil
	}
	item.Action = ActionUpdate
	return item, nil
}

// findDestination locates the destination object for a document: the
// mapped object id when still present, otherwise a lookup by name and
// then by each alias under the effective path. An empty id means no
// match; the document gets created fresh.
func (e *Engine) findDestination(ctx context.Context, doc *source.Document, mapping *state.Mapping) (string, error) {
	path := e.effectivePath(doc)

	if mapping != nil && mapping.DestObjectID != "" {
		id, err := e.dst.FindObjectByNameUnderPath(ctx, mapping.Name, path)
		if err != nil {
			return "", err
		}
		if id == mapping.DestObjectID {
			return id, nil
		}
	}

	names := append([]string{doc.Name}, doc.Aliases...)
	for _, name := range names {
		if name == "" {
			continue
		}
		id, err := e.dst.FindObjectByNameUnderPath(ctx, name, path)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}
