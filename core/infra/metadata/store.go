package metadata

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial.sql
var initialMigration string

// ErrNotFound is returned when no live record matches a lookup.
var ErrNotFound = errors.New("metadata: record not found")

// ErrHashConflict is returned by Insert when another record already
// holds the same (content_hash, hash_algorithm) pair. The caller
// decides whether the conflicting record is a live duplicate or an
// expired leftover that should be purged.
var ErrHashConflict = errors.New("metadata: content hash already recorded")

// Store is a SQLite-backed record store. Safe for concurrent use; a
// single pooled connection serializes writes, which SQLite wants anyway.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the database at dsn and applies
// the schema. Use ":memory:" in tests.
func Open(dsn string) (*Store, error) {
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(initialMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Insert stores a new record. The content hash must be unique across
// all records, expired ones included, until they are purged.
func (s *Store) Insert(ctx context.Context, rec *ArtifactRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts
			(id, filename, content_hash, hash_algorithm, local_path, remote_path,
			 size_bytes, compressed, encrypted, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.ContentHash, rec.HashAlgorithm, rec.LocalPath, rec.RemotePath,
		rec.SizeBytes, boolInt(rec.Compressed), boolInt(rec.Encrypted),
		rec.CreatedAt.Unix(), expiryValue(rec.ExpiresAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrHashConflict
		}
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns the record for id if it is still live at the given
// instant. Expired records are invisible to lookups even before the
// reaper removes them.
func (s *Store) GetByID(ctx context.Context, id string, now time.Time) (*ArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		id, now.Unix())
	return scanRecord(row)
}

// GetByHash returns the live record holding the given content hash.
func (s *Store) GetByHash(ctx context.Context, hash, algorithm string, now time.Time) (*ArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE content_hash = ? AND hash_algorithm = ?
		  AND (expires_at IS NULL OR expires_at > ?)`,
		hash, algorithm, now.Unix())
	return scanRecord(row)
}

// GetAnyByHash returns the record holding the given content hash
// regardless of expiry. Used to resolve insert conflicts.
func (s *Store) GetAnyByHash(ctx context.Context, hash, algorithm string) (*ArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE content_hash = ? AND hash_algorithm = ?`,
		hash, algorithm)
	return scanRecord(row)
}

// Delete removes the record for id. Deleting a missing id is not an
// error; lifecycle sweeps race with each other.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// ListExpired returns up to limit records whose expiry has passed,
// oldest expiry first.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at ASC LIMIT ?`,
		now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return scanRecords(rows)
}

// ListCreatedBefore returns up to limit records created before the
// cutoff, ordered by (created_at, id). A non-nil after resumes a scan
// past that record, so callers can walk the table in batches without
// ever loading it whole. The reconciler uses the cutoff as a grace
// period so in-flight uploads are never judged dangling.
func (s *Store) ListCreatedBefore(ctx context.Context, cutoff time.Time, after *ArtifactRecord, limit int) ([]*ArtifactRecord, error) {
	query := selectColumns + ` WHERE created_at < ?`
	args := []any{cutoff.Unix()}
	if after != nil {
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, after.CreatedAt.Unix(), after.CreatedAt.Unix(), after.ID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list created before: %w", err)
	}
	return scanRecords(rows)
}

// ListMissingRemote returns up to limit live records created before the
// cutoff whose remote upload has not completed.
func (s *Store) ListMissingRemote(ctx context.Context, cutoff, now time.Time, limit int) ([]*ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE remote_path = '' AND created_at < ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at ASC LIMIT ?`,
		cutoff.Unix(), now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("list missing remote: %w", err)
	}
	return scanRecords(rows)
}

// SetRemotePath records a caught-up remote upload. This is the only
// field that changes after insert.
func (s *Store) SetRemotePath(ctx context.Context, id, remotePath string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET remote_path = ? WHERE id = ?`, remotePath, id); err != nil {
		return fmt.Errorf("set remote path for %s: %w", id, err)
	}
	return nil
}

// Stats summarizes the store for the admin surface.
type Stats struct {
	Total      int64
	Live       int64
	Expired    int64
	TotalBytes int64
}

// Stats returns record counts and cumulative payload size.
func (s *Store) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(size_bytes), 0)
		FROM artifacts`, now.Unix()).Scan(&st.Total, &st.Live, &st.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	st.Expired = st.Total - st.Live
	return &st, nil
}

const selectColumns = `
	SELECT id, filename, content_hash, hash_algorithm, local_path, remote_path,
	       size_bytes, compressed, encrypted, created_at, expires_at
	FROM artifacts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ArtifactRecord, error) {
	var (
		rec                   ArtifactRecord
		compressed, encrypted int
		createdAt             int64
		expiresAt             sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.Filename, &rec.ContentHash, &rec.HashAlgorithm,
		&rec.LocalPath, &rec.RemotePath, &rec.SizeBytes,
		&compressed, &encrypted, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.Compressed = compressed != 0
	rec.Encrypted = encrypted != 0
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt.Valid {
		rec.ExpiresAt = time.Unix(expiresAt.Int64, 0).UTC()
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*ArtifactRecord, error) {
	defer rows.Close()
	var out []*ArtifactRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expiryValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
