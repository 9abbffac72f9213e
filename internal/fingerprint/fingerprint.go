// Package fingerprint computes deterministic content hashes for change
// detection.
//
// A fingerprint changes if and only if a synchronizable field changes.
// Unordered inputs (aliases) are normalized before hashing; ordered inputs
// (path, media list) are hashed in their given order. Fingerprints never
// depend on wall-clock time, so identical input hashes identically across
// runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"time"

	"github.com/docmirror/docmirror/internal/dest"
	"github.com/docmirror/docmirror/internal/source"
)

// Document fingerprints the synchronizable fields of a source document:
// id, name, aliases, path, last-modified timestamp, body, and the media
// references reduced to asset id/URL/filename/MIME.
func Document(d *source.Document) string {
	h := sha256.New()

	field(h, "id", d.ID)
	field(h, "name", d.Name)

	// Aliases are a set; sort a copy so iteration order cannot leak in.
	aliases := append([]string(nil), d.Aliases...)
	sort.Strings(aliases)
	for _, a := range aliases {
		field(h, "alias", a)
	}

	for _, seg := range d.Path {
		field(h, "path", seg)
	}

	field(h, "updated_at", timeField(d.UpdatedAt))
	field(h, "body", d.Body)

	for _, m := range d.Media {
		field(h, "media", m.AssetID)
		field(h, "media", m.URL)
		field(h, "media", m.Filename)
		field(h, "media", m.MIMEType)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Payload fingerprints a generated-region payload so the engine can
// record what it last wrote without storing the content twice.
func Payload(p *dest.Payload) string {
	h := sha256.New()

	field(h, "source_id", p.SourceID)
	field(h, "source_name", p.SourceName)
	field(h, "source_updated_at", timeField(p.SourceUpdatedAt))

	for _, seg := range p.Path {
		field(h, "path", seg)
	}

	field(h, "body", p.Body)

	for _, m := range p.Media {
		field(h, "media", m.Name)
		field(h, "media", m.Ref)
		field(h, "media", m.Checksum)
		field(h, "media", fmt.Sprintf("%d", m.Size))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// field writes one length-delimited labeled value. The length prefix
// keeps adjacent fields from aliasing each other ("ab"+"c" vs "a"+"bc").
func field(h hash.Hash, label, value string) {
	fmt.Fprintf(h, "%s:%d:%s\n", label, len(value), value)
}

// timeField renders an optional timestamp in a fixed form. Absent
// timestamps hash as the empty string, which no RFC3339 value equals.
func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
