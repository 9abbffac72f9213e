// Package source defines the upstream content system as seen by the sync
// engine: the document model and the adapter interface through which
// documents, containers, and binary assets are fetched.
//
// The engine never mutates anything behind this interface.
package source

import (
	"context"
	"time"
)

// MediaReference points at one binary asset referenced by a document.
// Either AssetID or URL must be set for the reference to be resolvable;
// references with neither are skipped by the media cache.
type MediaReference struct {
	// AssetID is the source system's stable identifier for the asset, if any.
	AssetID string `json:"asset_id,omitempty"`

	// URL is the location the asset bytes can be fetched from.
	URL string `json:"url,omitempty"`

	// Filename is the declared filename, used for extension guessing.
	Filename string `json:"filename,omitempty"`

	// MIMEType is the declared content type. Not trusted for checksums,
	// only for extension guessing.
	MIMEType string `json:"mime_type,omitempty"`

	// Size is the declared size in bytes, zero if unknown.
	Size int64 `json:"size,omitempty"`
}

// Locator returns the best identifier for this reference: the asset id
// when present, otherwise the URL. Empty means the reference is unusable.
func (r MediaReference) Locator() string {
	if r.AssetID != "" {
		return r.AssetID
	}
	return r.URL
}

// Document is the unit being mirrored. All fields are owned by the source
// system; the engine reads them and never writes back.
type Document struct {
	// ID is the stable source identifier.
	ID string `json:"id"`

	// Name is the canonical display name.
	Name string `json:"name"`

	// Aliases are alternative names the destination may know this
	// document by. Unordered.
	Aliases []string `json:"aliases,omitempty"`

	// Path is the ordered list of folder names from the root of the
	// source hierarchy. Empty means the document lives at the root.
	Path []string `json:"path,omitempty"`

	// UpdatedAt is the source's last-modified timestamp, nil if the
	// source does not report one.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Body is the raw markup content.
	Body string `json:"body"`

	// Media lists the binary assets the body references, in order.
	Media []MediaReference `json:"media,omitempty"`
}

// Summary is a lightweight listing entry returned by ListDocuments.
type Summary struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Container is a folder in the source hierarchy.
type Container struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// ListFilter narrows a ListDocuments call.
type ListFilter struct {
	// IDs restricts the listing to specific documents. Empty means all.
	IDs []string

	// UpdatedSince restricts the listing to documents modified after the
	// given time. Nil means no time bound.
	UpdatedSince *time.Time
}

// Asset is the fetched bytes of one media reference.
type Asset struct {
	Bytes       []byte
	ContentType string
}

// Adapter is the read-only interface onto the source content system.
//
// Implementations must surface authentication failures and missing
// objects as errkind.KindUnauthorized / errkind.KindNotFound so the
// engine can distinguish them; timeouts are the adapter's responsibility.
type Adapter interface {
	// ListDocuments returns summaries of documents matching the filter.
	ListDocuments(ctx context.Context, filter ListFilter) ([]Summary, error)

	// GetDocument fetches one document with its full body and media list.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// ListContainers returns the source folder hierarchy.
	ListContainers(ctx context.Context) ([]Container, error)

	// FetchAsset downloads the bytes behind a media reference.
	FetchAsset(ctx context.Context, ref MediaReference) (*Asset, error)
}
