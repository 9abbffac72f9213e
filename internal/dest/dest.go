// Package dest defines the destination workspace system as seen by the
// sync engine.
//
// The engine owns exactly one labeled region on each destination object
// (the generated region); everything else on the object is operator-owned
// and must be preserved. Markup translation and destination-specific size
// limits (payload chunking) live entirely inside adapter implementations;
// the engine supplies only logical content.
package dest

import (
	"context"
	"time"
)

// MediaItem is one resolved asset listed in a generated-region payload.
type MediaItem struct {
	// Name is the display name, usually the original filename.
	Name string `json:"name"`

	// Ref is the stored reference: a local path or public URL.
	Ref string `json:"ref"`

	// Checksum is the content hash of the stored bytes, hex encoded.
	Checksum string `json:"checksum"`

	// Size is the stored size in bytes.
	Size int64 `json:"size"`
}

// Payload is the logical content of one generated region. The adapter
// renders it into destination markup and chunks it as needed.
type Payload struct {
	// SourceID identifies the mirrored document.
	SourceID string `json:"source_id"`

	// SourceName is the canonical display name at sync time.
	SourceName string `json:"source_name"`

	// SourceUpdatedAt is the source's last-modified timestamp, nil if
	// the source did not report one.
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty"`

	// Path is the hierarchical path the document was synced under.
	Path []string `json:"path,omitempty"`

	// Body is the normalized body text.
	Body string `json:"body"`

	// Media lists the resolved assets, in document order. May be partial
	// when individual downloads failed.
	Media []MediaItem `json:"media,omitempty"`

	// SyncedAt is when this payload was built.
	SyncedAt time.Time `json:"synced_at"`
}

// Adapter is the interface onto the destination workspace system.
//
// Lookup methods report absence with an empty identifier and a nil error;
// errors are reserved for adapter failures (classified via errkind).
type Adapter interface {
	// FindObjectByNameUnderPath locates an existing object by display
	// name, scoped under the given container path. Path segments are
	// matched top-down; if any segment is missing there is no match.
	// Returns "" when absent.
	FindObjectByNameUnderPath(ctx context.Context, name string, path []string) (string, error)

	// EnsureContainerPath resolves the container hierarchy for path,
	// creating missing segments as empty containers. Returns the id of
	// the deepest container, or "" for an empty path (destination root).
	EnsureContainerPath(ctx context.Context, path []string) (string, error)

	// CreateObject creates an empty object under the given container.
	CreateObject(ctx context.Context, containerID, name string) (string, error)

	// GetLastEditedTimestamp returns the destination's own last-edited
	// time for the object.
	GetLastEditedTimestamp(ctx context.Context, objectID string) (time.Time, error)

	// DeleteGeneratedRegion removes a previously written generated
	// region by its recorded identifier. Best-effort: callers tolerate
	// failure to find or delete a stale region.
	DeleteGeneratedRegion(ctx context.Context, regionID string) error

	// UpsertGeneratedRegion writes the payload as the object's generated
	// region and returns the new region identifier. previousRegionID, if
	// non-empty, identifies stale generated content to replace so that
	// repeated syncs do not accumulate regions.
	UpsertGeneratedRegion(ctx context.Context, objectID string, payload *Payload, previousRegionID string) (string, error)
}
