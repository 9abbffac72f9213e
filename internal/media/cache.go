// Package media provides the content-addressed local store for binary
// assets referenced by documents.
//
// Assets are stored under a filename derived from the SHA-256 of the
// downloaded bytes, so re-downloading identical content never duplicates
// a stored file and calls are safe to retry.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/docmirror/docmirror/internal/errkind"
	"github.com/docmirror/docmirror/internal/source"
	"github.com/docmirror/docmirror/internal/state"
)

// Result is the outcome for one resolvable media reference. Exactly one
// of Record and Err is set.
type Result struct {
	Ref    source.MediaReference
	Record *state.MediaRecord
	Err    error
}

// Cache downloads assets through the source adapter and stores them
// content-addressed on local disk, recording each distinct asset in the
// state store.
type Cache struct {
	dir    string
	src    source.Adapter
	store  *state.Store
	logger *log.Logger
}

// New creates a media cache rooted at dir. If logger is nil, a default
// logger writing to stderr is used.
func New(dir string, src source.Adapter, store *state.Store, logger *log.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[media] ", log.LstdFlags)
	}
	return &Cache{dir: dir, src: src, store: store, logger: logger}, nil
}

// Resolve fetches every reference that has a usable locator (asset id or
// URL), stores the bytes content-addressed, and upserts a MediaRecord per
// distinct asset. References lacking both an id and a URL are silently
// skipped. A fetch failure is reported in that reference's Result only;
// the batch continues.
//
// The returned error is non-nil only for state store write failures,
// which are fatal to the caller.
func (c *Cache) Resolve(ctx context.Context, refs []source.MediaReference) ([]Result, error) {
	var results []Result

	for _, ref := range refs {
		if ref.Locator() == "" {
			continue
		}

		record, err := c.resolveOne(ctx, ref)
		if err != nil {
			if errkind.IsPersistence(err) {
				return results, err
			}
			c.logger.Printf("WARNING: failed to resolve asset %s: %v", ref.Locator(), err)
			results = append(results, Result{Ref: ref, Err: err})
			continue
		}

		results = append(results, Result{Ref: ref, Record: record})
	}

	return results, nil
}

// resolveOne downloads one asset, stores it, and records it.
func (c *Cache) resolveOne(ctx context.Context, ref source.MediaReference) (*state.MediaRecord, error) {
	asset, err := c.src.FetchAsset(ctx, ref)
	if err != nil {
		return nil, errkind.New(errkind.KindAdapter, "media.FetchAsset", err)
	}

	// Checksum comes from the downloaded bytes, never from metadata.
	sum := sha256.Sum256(asset.Bytes)
	checksum := hex.EncodeToString(sum[:])

	// A checksum seen before keeps its original stored path, whatever
	// the current reference declares about type or filename. Extension
	// guessing only runs for first-seen content.
	var path string
	existing, err := c.store.GetMediaRecordByChecksum(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		path = existing.StoredRef
	} else {
		declaredMIME := ref.MIMEType
		if declaredMIME == "" {
			declaredMIME = asset.ContentType
		}
		ext := extensionFor(declaredMIME, ref.Filename, asset.Bytes)
		path = filepath.Join(c.dir, checksum+ext)
	}
	if err := c.writeIfAbsent(path, asset.Bytes); err != nil {
		return nil, err
	}

	assetID := ref.AssetID
	if assetID == "" {
		assetID = checksum
	}

	record := &state.MediaRecord{
		AssetID:     assetID,
		SourceURL:   ref.URL,
		StoredRef:   path,
		Checksum:    checksum,
		Size:        int64(len(asset.Bytes)),
		ValidatedAt: time.Now().UTC(),
	}

	if err := c.store.UpsertMediaRecord(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// writeIfAbsent writes the bytes only when no file exists at the
// content-addressed path. An existing file already holds these exact
// bytes, so skipping the write keeps the operation idempotent.
func (c *Cache) writeIfAbsent(path string, data []byte) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat media file %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write media file %s: %w", path, err)
	}
	return nil
}

// preferredExt overrides mime.ExtensionsByType where it picks an
// unconventional member of the set (e.g. ".jpe" for image/jpeg).
var preferredExt = map[string]string{
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/svg+xml":    ".svg",
	"image/webp":       ".webp",
	"application/pdf":  ".pdf",
	"text/plain":       ".txt",
	"video/mp4":        ".mp4",
	"application/json": ".json",
}

// extensionFor derives a best-guess filename extension: declared MIME
// type first, declared filename second, byte sniffing third, generic
// binary last.
func extensionFor(declaredMIME, filename string, data []byte) string {
	if declaredMIME != "" {
		if mt, _, err := mime.ParseMediaType(declaredMIME); err == nil {
			if ext, ok := preferredExt[mt]; ok {
				return ext
			}
			if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
				return exts[0]
			}
		}
	}

	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}

	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}

	return ".bin"
}
