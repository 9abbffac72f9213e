// Package state provides the durable sync state store on embedded SQLite.
//
// The store is the sole source of truth for "what was last synced": it
// holds the source-to-destination mappings, detected conflicts, media
// records, and run history. Every mutating call persists before returning;
// a write failure propagates to the caller as a persistence error and is
// fatal to the enclosing run.
//
// The database runs in embedded mode with WAL for concurrent reads.
// Schema creation is idempotent on open.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docmirror/docmirror/internal/errkind"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection holding all sync state.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at the specified path and
// initializes the schema.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL for concurrent reads during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Writes must be on durable storage before they are acknowledged
	if _, err := s.conn.Exec("PRAGMA synchronous=FULL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the filesystem location of the state database.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates the four state relations if they don't exist.
// Idempotent - safe to call on every open.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS mappings (
		source_id           TEXT PRIMARY KEY,
		source_type         TEXT NOT NULL,
		dest_object_id      TEXT NOT NULL,
		name                TEXT NOT NULL,
		direction           TEXT NOT NULL DEFAULT 'push',
		source_fingerprint  TEXT NOT NULL,
		payload_fingerprint TEXT NOT NULL,
		last_synced_at      TEXT NOT NULL,
		region_id           TEXT
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id                  TEXT PRIMARY KEY,
		source_id           TEXT NOT NULL,
		dest_object_id      TEXT NOT NULL,
		source_changed_at   TEXT NOT NULL,
		dest_changed_at     TEXT NOT NULL,
		source_fingerprint  TEXT NOT NULL,
		dest_fingerprint    TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'open',
		notes               TEXT
	);

	CREATE TABLE IF NOT EXISTS media_records (
		asset_id     TEXT PRIMARY KEY,
		source_url   TEXT,
		stored_ref   TEXT NOT NULL,
		checksum     TEXT NOT NULL,
		size         INTEGER NOT NULL,
		validated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id         TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		ended_at   TEXT,
		status     TEXT NOT NULL DEFAULT 'running',
		mode       TEXT NOT NULL,
		summary    TEXT,  -- JSON object of counts by action
		error      TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);
	CREATE INDEX IF NOT EXISTS idx_conflicts_source ON conflicts(source_id);
	CREATE INDEX IF NOT EXISTS idx_media_checksum ON media_records(checksum);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return errkind.New(errkind.KindPersistence, "state.initSchema", err)
	}

	return nil
}

// GetMapping retrieves the sync mapping for a source id.
// Returns (nil, nil) when no mapping exists.
func (s *Store) GetMapping(ctx context.Context, sourceID string) (*Mapping, error) {
	query := `
	SELECT source_id, source_type, dest_object_id, name, direction,
	       source_fingerprint, payload_fingerprint, last_synced_at, region_id
	FROM mappings
	WHERE source_id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, sourceID)

	var m Mapping
	var lastSynced string
	var regionID sql.NullString

	err := row.Scan(
		&m.SourceID,
		&m.SourceType,
		&m.DestObjectID,
		&m.Name,
		&m.Direction,
		&m.SourceFingerprint,
		&m.PayloadFingerprint,
		&lastSynced,
		&regionID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping %s: %w", sourceID, err)
	}

	t, err := time.Parse(time.RFC3339Nano, lastSynced)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_synced_at for mapping %s: %w", sourceID, err)
	}
	m.LastSyncedAt = t
	if regionID.Valid {
		m.RegionID = regionID.String
	}

	return &m, nil
}

// UpsertMapping inserts or replaces the mapping keyed by source id.
// Atomic with respect to concurrent readers of the same key.
func (s *Store) UpsertMapping(ctx context.Context, m *Mapping) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mapping: %w", err)
	}

	query := `
	INSERT INTO mappings (
		source_id, source_type, dest_object_id, name, direction,
		source_fingerprint, payload_fingerprint, last_synced_at, region_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source_id) DO UPDATE SET
		source_type         = excluded.source_type,
		dest_object_id      = excluded.dest_object_id,
		name                = excluded.name,
		direction           = excluded.direction,
		source_fingerprint  = excluded.source_fingerprint,
		payload_fingerprint = excluded.payload_fingerprint,
		last_synced_at      = excluded.last_synced_at,
		region_id           = excluded.region_id
	`

	_, err := s.conn.ExecContext(ctx, query,
		m.SourceID,
		m.SourceType,
		m.DestObjectID,
		m.Name,
		m.Direction,
		m.SourceFingerprint,
		m.PayloadFingerprint,
		m.LastSyncedAt.UTC().Format(time.RFC3339Nano),
		stringToNull(m.RegionID),
	)
	if err != nil {
		return errkind.New(errkind.KindPersistence, "state.UpsertMapping", err)
	}

	return nil
}

// CountMappings returns the number of mapping rows.
func (s *Store) CountMappings(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM mappings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count mappings: %w", err)
	}
	return count, nil
}

// InsertConflict inserts or replaces a conflict keyed by its identifier.
// Idempotent: re-inserting the same id overwrites the row.
func (s *Store) InsertConflict(ctx context.Context, c *Conflict) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid conflict: %w", err)
	}

	query := `
	INSERT INTO conflicts (
		id, source_id, dest_object_id, source_changed_at, dest_changed_at,
		source_fingerprint, dest_fingerprint, status, notes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		source_id          = excluded.source_id,
		dest_object_id     = excluded.dest_object_id,
		source_changed_at  = excluded.source_changed_at,
		dest_changed_at    = excluded.dest_changed_at,
		source_fingerprint = excluded.source_fingerprint,
		dest_fingerprint   = excluded.dest_fingerprint,
		status             = excluded.status,
		notes              = excluded.notes
	`

	_, err := s.conn.ExecContext(ctx, query,
		c.ID,
		c.SourceID,
		c.DestObjectID,
		c.SourceChangedAt.UTC().Format(time.RFC3339Nano),
		c.DestChangedAt.UTC().Format(time.RFC3339Nano),
		c.SourceFingerprint,
		c.DestFingerprint,
		string(c.Status),
		stringToNull(c.Notes),
	)
	if err != nil {
		return errkind.New(errkind.KindPersistence, "state.InsertConflict", err)
	}

	return nil
}

// ListConflicts returns conflicts filtered by status (empty string for
// all), ordered by source-changed timestamp descending.
func (s *Store) ListConflicts(ctx context.Context, status ConflictStatus) ([]*Conflict, error) {
	query := `
	SELECT id, source_id, dest_object_id, source_changed_at, dest_changed_at,
	       source_fingerprint, dest_fingerprint, status, notes
	FROM conflicts
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}

	query += " ORDER BY source_changed_at DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		var c Conflict
		var srcChanged, dstChanged, cStatus string
		var notes sql.NullString

		err := rows.Scan(
			&c.ID,
			&c.SourceID,
			&c.DestObjectID,
			&srcChanged,
			&dstChanged,
			&c.SourceFingerprint,
			&c.DestFingerprint,
			&cStatus,
			&notes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		if c.SourceChangedAt, err = time.Parse(time.RFC3339Nano, srcChanged); err != nil {
			return nil, fmt.Errorf("failed to parse source_changed_at for conflict %s: %w", c.ID, err)
		}
		if c.DestChangedAt, err = time.Parse(time.RFC3339Nano, dstChanged); err != nil {
			return nil, fmt.Errorf("failed to parse dest_changed_at for conflict %s: %w", c.ID, err)
		}
		c.Status = ConflictStatus(cStatus)
		if notes.Valid {
			c.Notes = notes.String
		}

		conflicts = append(conflicts, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return conflicts, nil
}

// CountConflicts returns the number of conflicts with the given status
// (empty string for all).
func (s *Store) CountConflicts(ctx context.Context, status ConflictStatus) (int, error) {
	query := "SELECT COUNT(*) FROM conflicts"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}

	var count int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return count, nil
}

// ResolveConflict sets status and notes on an existing conflict. Returns
// whether a row was actually changed; resolving a nonexistent id returns
// false without error.
//
// Only 'resolved' and 'ignored' are accepted as targets. Re-resolving an
// already-resolved conflict overwrites status and notes; operator
// correction is permitted.
func (s *Store) ResolveConflict(ctx context.Context, id string, status ConflictStatus, notes string) (bool, error) {
	if status != ConflictResolved && status != ConflictIgnored {
		return false, fmt.Errorf("invalid resolution status %q (want %q or %q)",
			status, ConflictResolved, ConflictIgnored)
	}

	query := `UPDATE conflicts SET status = ?, notes = ? WHERE id = ?`
	res, err := s.conn.ExecContext(ctx, query, string(status), stringToNull(notes), id)
	if err != nil {
		return false, errkind.New(errkind.KindPersistence, "state.ResolveConflict", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errkind.New(errkind.KindPersistence, "state.ResolveConflict", err)
	}

	return n > 0, nil
}

// UpsertMediaRecord inserts or replaces a media record keyed by asset id.
func (s *Store) UpsertMediaRecord(ctx context.Context, r *MediaRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid media record: %w", err)
	}

	query := `
	INSERT INTO media_records (asset_id, source_url, stored_ref, checksum, size, validated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(asset_id) DO UPDATE SET
		source_url   = excluded.source_url,
		stored_ref   = excluded.stored_ref,
		checksum     = excluded.checksum,
		size         = excluded.size,
		validated_at = excluded.validated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		r.AssetID,
		stringToNull(r.SourceURL),
		r.StoredRef,
		r.Checksum,
		r.Size,
		r.ValidatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errkind.New(errkind.KindPersistence, "state.UpsertMediaRecord", err)
	}

	return nil
}

// GetMediaRecord retrieves a media record by asset id.
// Returns (nil, nil) when no record exists.
func (s *Store) GetMediaRecord(ctx context.Context, assetID string) (*MediaRecord, error) {
	query := `
	SELECT asset_id, source_url, stored_ref, checksum, size, validated_at
	FROM media_records
	WHERE asset_id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, assetID)

	var r MediaRecord
	var sourceURL sql.NullString
	var validated string

	err := row.Scan(&r.AssetID, &sourceURL, &r.StoredRef, &r.Checksum, &r.Size, &validated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media record %s: %w", assetID, err)
	}

	if sourceURL.Valid {
		r.SourceURL = sourceURL.String
	}
	if r.ValidatedAt, err = time.Parse(time.RFC3339Nano, validated); err != nil {
		return nil, fmt.Errorf("failed to parse validated_at for media record %s: %w", assetID, err)
	}

	return &r, nil
}

// GetMediaRecordByChecksum retrieves a media record whose content matches
// the given checksum, regardless of asset id. Returns (nil, nil) when no
// record exists. With multiple asset ids sharing one checksum any of
// their rows may come back; they all reference the same stored file.
func (s *Store) GetMediaRecordByChecksum(ctx context.Context, checksum string) (*MediaRecord, error) {
	query := `
	SELECT asset_id, source_url, stored_ref, checksum, size, validated_at
	FROM media_records
	WHERE checksum = ?
	LIMIT 1
	`

	row := s.conn.QueryRowContext(ctx, query, checksum)

	var r MediaRecord
	var sourceURL sql.NullString
	var validated string

	err := row.Scan(&r.AssetID, &sourceURL, &r.StoredRef, &r.Checksum, &r.Size, &validated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media record by checksum %s: %w", checksum, err)
	}

	if sourceURL.Valid {
		r.SourceURL = sourceURL.String
	}
	if r.ValidatedAt, err = time.Parse(time.RFC3339Nano, validated); err != nil {
		return nil, fmt.Errorf("failed to parse validated_at for media record %s: %w", r.AssetID, err)
	}

	return &r, nil
}

// CountMediaRecords returns the number of media record rows.
func (s *Store) CountMediaRecords(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_records").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count media records: %w", err)
	}
	return count, nil
}

// StartRun records the start of a preview/apply invocation. Exactly one
// write on start; the row is finished once via FinishRun and never
// touched again.
func (s *Store) StartRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.Mode != RunIncremental && r.Mode != RunFull {
		return fmt.Errorf("invalid run mode %q", r.Mode)
	}

	query := `
	INSERT INTO sync_runs (id, started_at, status, mode)
	VALUES (?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		r.ID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		string(RunRunning),
		string(r.Mode),
	)
	if err != nil {
		return errkind.New(errkind.KindPersistence, "state.StartRun", err)
	}

	return nil
}

// FinishRun records the terminal status of a run with its summary counts.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, summary map[string]int, errMsg string) error {
	if status != RunSuccess && status != RunFailed {
		return fmt.Errorf("invalid terminal run status %q", status)
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	query := `
	UPDATE sync_runs
	SET ended_at = ?, status = ?, summary = ?, error = ?
	WHERE id = ?
	`

	_, err = s.conn.ExecContext(ctx, query,
		time.Now().UTC().Format(time.RFC3339Nano),
		string(status),
		string(summaryJSON),
		stringToNull(errMsg),
		id,
	)
	if err != nil {
		return errkind.New(errkind.KindPersistence, "state.FinishRun", err)
	}

	return nil
}

// ListRuns returns the most recent runs, newest first.
// limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `
	SELECT id, started_at, ended_at, status, mode, summary, error
	FROM sync_runs
	ORDER BY started_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var started string
		var ended, summary, errMsg sql.NullString
		var status, mode string

		err := rows.Scan(&r.ID, &started, &ended, &status, &mode, &summary, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("failed to parse started_at for run %s: %w", r.ID, err)
		}
		if ended.Valid {
			t, err := time.Parse(time.RFC3339Nano, ended.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse ended_at for run %s: %w", r.ID, err)
			}
			r.EndedAt = &t
		}
		r.Status = RunStatus(status)
		r.Mode = RunMode(mode)
		if summary.Valid && summary.String != "" {
			if err := json.Unmarshal([]byte(summary.String), &r.Summary); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
			}
		}
		if errMsg.Valid {
			r.Error = errMsg.String
		}

		runs = append(runs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// stringToNull converts an empty string to a SQL NULL.
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
