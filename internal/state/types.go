package state

import (
	"fmt"
	"time"
)

// DirectionPush is the only sync direction in the current design:
// source to destination, one way.
const DirectionPush = "push"

// FingerprintUnknown marks a destination fingerprint that was never
// recorded because the pair has not been synced.
const FingerprintUnknown = "unknown"

// Mapping is one row per synchronized source identifier: the persistent
// link between a source document and its destination object, plus the
// fingerprints and timestamp of the last successful sync.
//
// At most one mapping exists per source id. Created on first successful
// apply, updated on every subsequent one, never deleted automatically.
type Mapping struct {
	SourceID           string    `json:"source_id"`
	SourceType         string    `json:"source_type"`
	DestObjectID       string    `json:"dest_object_id"`
	Name               string    `json:"name"`
	Direction          string    `json:"direction"`
	SourceFingerprint  string    `json:"source_fingerprint"`
	PayloadFingerprint string    `json:"payload_fingerprint"`
	LastSyncedAt       time.Time `json:"last_synced_at"`

	// RegionID identifies the destination's generated-region container
	// from the last apply. Empty until the first region is written.
	RegionID string `json:"region_id,omitempty"`
}

// Validate checks required mapping fields.
func (m *Mapping) Validate() error {
	if m.SourceID == "" {
		return fmt.Errorf("source_id is required")
	}
	if m.DestObjectID == "" {
		return fmt.Errorf("dest_object_id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Direction == "" {
		return fmt.Errorf("direction is required")
	}
	if m.SourceFingerprint == "" {
		return fmt.Errorf("source_fingerprint is required")
	}
	if m.LastSyncedAt.IsZero() {
		return fmt.Errorf("last_synced_at is required")
	}
	return nil
}

// ConflictStatus is the lifecycle state of a detected conflict.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
	ConflictIgnored  ConflictStatus = "ignored"
)

// Conflict records a detected divergence: both the source and the
// destination changed independently since the last successful sync.
// Transitions out of 'open' happen only through an explicit manual
// resolution call; there is no automatic transition.
type Conflict struct {
	ID                string         `json:"id"`
	SourceID          string         `json:"source_id"`
	DestObjectID      string         `json:"dest_object_id"`
	SourceChangedAt   time.Time      `json:"source_changed_at"`
	DestChangedAt     time.Time      `json:"dest_changed_at"`
	SourceFingerprint string         `json:"source_fingerprint"`
	DestFingerprint   string         `json:"dest_fingerprint"`
	Status            ConflictStatus `json:"status"`
	Notes             string         `json:"notes,omitempty"`
}

// Validate checks required conflict fields.
func (c *Conflict) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.SourceID == "" {
		return fmt.Errorf("source_id is required")
	}
	if c.DestObjectID == "" {
		return fmt.Errorf("dest_object_id is required")
	}
	switch c.Status {
	case ConflictOpen, ConflictResolved, ConflictIgnored:
	default:
		return fmt.Errorf("invalid status %q", c.Status)
	}
	return nil
}

// MediaRecord is one row per distinct downloaded asset. The checksum is
// computed from the downloaded bytes, never trusted from metadata, and
// the stored reference is derived from the checksum so identical content
// never duplicates a stored file.
type MediaRecord struct {
	// AssetID is the source asset identifier; falls back to the content
	// checksum when the source has no stable id.
	AssetID string `json:"asset_id"`

	SourceURL   string    `json:"source_url,omitempty"`
	StoredRef   string    `json:"stored_ref"`
	Checksum    string    `json:"checksum"`
	Size        int64     `json:"size"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Validate checks required media record fields.
func (r *MediaRecord) Validate() error {
	if r.AssetID == "" {
		return fmt.Errorf("asset_id is required")
	}
	if r.StoredRef == "" {
		return fmt.Errorf("stored_ref is required")
	}
	if r.Checksum == "" {
		return fmt.Errorf("checksum is required")
	}
	return nil
}

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunMode selects which documents a run considers.
type RunMode string

const (
	RunIncremental RunMode = "incremental"
	RunFull        RunMode = "full"
)

// Run is the bookkeeping row for one preview/apply invocation. Written
// exactly twice: once on start, once on finish.
type Run struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Status    RunStatus      `json:"status"`
	Mode      RunMode        `json:"mode"`
	Summary   map[string]int `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}
