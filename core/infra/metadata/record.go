// Package metadata persists artifact records in SQLite. A record is the
// source of truth for an artifact's identity, payload location, and
// lifecycle; stored payload bytes without a record are garbage, and the
// reconciler treats records without payload bytes the same way.
package metadata

import "time"

// ArtifactRecord describes one stored artifact.
//
// Records are immutable after insert with one exception: RemotePath may
// be filled in later when a remote upload that failed at ingest time is
// caught up by the reconciler.
type ArtifactRecord struct {
	ID            string
	Filename      string // original display name, cosmetic only
	ContentHash   string
	HashAlgorithm string
	LocalPath     string
	RemotePath    string
	SizeBytes     int64
	Compressed    bool
	Encrypted     bool
	CreatedAt     time.Time
	ExpiresAt     time.Time // zero means the artifact never expires
}

// Permanent reports whether the record has no expiry.
func (r *ArtifactRecord) Permanent() bool { return r.ExpiresAt.IsZero() }

// Expired reports whether the record is past its expiry at the given
// instant. Permanent records never expire.
func (r *ArtifactRecord) Expired(now time.Time) bool {
	return !r.Permanent() && !r.ExpiresAt.After(now)
}
