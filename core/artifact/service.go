// Package artifact implements the upload and retrieval pipeline:
// validation, content-hash deduplication, the transform chain, the dual
// storage write, and the metadata insert that makes an upload durable.
package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/cyqddx/shuyuan/core/fault"
	"github.com/cyqddx/shuyuan/core/infra/config"
	"github.com/cyqddx/shuyuan/core/infra/logging"
	"github.com/cyqddx/shuyuan/core/infra/metadata"
	"github.com/cyqddx/shuyuan/core/infra/metrics"
	"github.com/cyqddx/shuyuan/core/infra/storage"
	"github.com/cyqddx/shuyuan/core/transform"
)

const (
	component = "artifact"

	payloadSuffix  = ".bin"
	recordCacheTTL = 30 * time.Second
)

// Service wires the pipeline together. All methods take one
// configuration snapshot at entry and never re-read it mid-operation.
type Service struct {
	meta    *metadata.Store
	store   *storage.Dual
	coord   *config.Coordinator
	metrics metrics.Metrics
	cache   *recordCache

	now func() time.Time
}

// NewService builds a Service over its collaborators.
func NewService(meta *metadata.Store, store *storage.Dual, coord *config.Coordinator, m metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Service{
		meta:    meta,
		store:   store,
		coord:   coord,
		metrics: m,
		cache:   newRecordCache(recordCacheTTL),
		now:     time.Now,
	}
}

// UploadResult describes the outcome of an upload.
type UploadResult struct {
	ID        string
	URL       string
	Duplicate bool
	SizeBytes int64
	ExpiresAt time.Time // zero for permanent artifacts
}

// Upload validates, dedups, transforms, and stores one payload.
// Byte-equivalent content (after canonicalization) maps to one id for
// as long as that id is live.
func (s *Service) Upload(ctx context.Context, filename string, raw []byte, limit TimeLimit) (*UploadResult, error) {
	snap := s.coord.Current()
	now := s.now()

	canonical, err := ValidatePayload(raw, snap.MaxFileSize)
	if err != nil {
		s.metrics.IncUploads("rejected")
		return nil, err
	}
	hash := Digest(canonical)

	if existing, err := s.meta.GetByHash(ctx, hash, HashAlgorithm, now); err == nil {
		s.metrics.IncUploads("duplicate")
		return s.duplicateResult(snap, existing), nil
	} else if !errors.Is(err, metadata.ErrNotFound) {
		s.metrics.IncUploads("error")
		return nil, fault.Wrap(fault.KindInternal, "dedup lookup", err)
	}

	codec, err := s.encodeCodec(snap)
	if err != nil {
		s.metrics.IncUploads("error")
		return nil, err
	}
	encoded, compressed, encrypted, err := codec.Encode(canonical)
	if err != nil {
		s.metrics.IncUploads("error")
		return nil, err
	}

	id, err := newID()
	if err != nil {
		s.metrics.IncUploads("error")
		return nil, fault.Wrap(fault.KindInternal, "allocate id", err)
	}
	key := id + payloadSuffix
	remotePath, err := s.store.Put(ctx, key, encoded)
	if err != nil {
		s.metrics.IncUploads("error")
		return nil, fault.Wrap(fault.KindStorageUnavailable, "store payload", err)
	}

	rec := &metadata.ArtifactRecord{
		ID:            id,
		Filename:      filename,
		ContentHash:   hash,
		HashAlgorithm: HashAlgorithm,
		LocalPath:     key,
		RemotePath:    remotePath,
		SizeBytes:     int64(len(encoded)),
		Compressed:    compressed,
		Encrypted:     encrypted,
		CreatedAt:     now,
		ExpiresAt:     limit.Expiry(now),
	}
	result, err := s.insertResolvingConflict(ctx, snap, rec, now)
	if err != nil {
		s.metrics.IncUploads("error")
		return nil, err
	}
	if result.Duplicate {
		s.metrics.IncUploads("duplicate")
	} else {
		s.metrics.IncUploads("stored")
	}
	return result, nil
}

// insertResolvingConflict inserts rec, resolving a content-hash race
// with whoever got there first. A live conflicting record wins and our
// stored bytes are rolled back; an expired leftover is purged and the
// insert retried once.
func (s *Service) insertResolvingConflict(ctx context.Context, snap *config.Snapshot, rec *metadata.ArtifactRecord, now time.Time) (*UploadResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		err := s.meta.Insert(ctx, rec)
		if err == nil {
			return &UploadResult{
				ID:        rec.ID,
				URL:       artifactURL(snap, rec.ID),
				SizeBytes: rec.SizeBytes,
				ExpiresAt: rec.ExpiresAt,
			}, nil
		}
		if !errors.Is(err, metadata.ErrHashConflict) {
			s.rollbackPayload(ctx, rec)
			return nil, fault.Wrap(fault.KindInternal, "insert record", err)
		}

		existing, gerr := s.meta.GetAnyByHash(ctx, rec.ContentHash, rec.HashAlgorithm)
		if errors.Is(gerr, metadata.ErrNotFound) {
			// The conflicting row vanished between insert and
			// re-query; the retry will settle it.
			continue
		}
		if gerr != nil {
			s.rollbackPayload(ctx, rec)
			return nil, fault.Wrap(fault.KindInternal, "resolve hash conflict", gerr)
		}
		if !existing.Expired(now) {
			s.rollbackPayload(ctx, rec)
			return s.duplicateResult(snap, existing), nil
		}
		// Expired leftover still holding the hash: purge it and retry.
		logging.Info(component, "purging expired record on hash conflict",
			"id", existing.ID, "hash", existing.ContentHash)
		if derr := s.store.Delete(ctx, existing.LocalPath, existing.RemotePath); derr != nil {
			s.rollbackPayload(ctx, rec)
			return nil, fault.Wrap(fault.KindInternal, "purge expired payload", derr)
		}
		if derr := s.meta.Delete(ctx, existing.ID); derr != nil {
			s.rollbackPayload(ctx, rec)
			return nil, fault.Wrap(fault.KindInternal, "purge expired record", derr)
		}
		s.cache.invalidate(existing.ID)
	}
	s.rollbackPayload(ctx, rec)
	return nil, fault.New(fault.KindInternal, "content hash conflict not resolved after retry")
}

func (s *Service) rollbackPayload(ctx context.Context, rec *metadata.ArtifactRecord) {
	if err := s.store.Delete(ctx, rec.LocalPath, rec.RemotePath); err != nil {
		logging.Warn(component, "rollback of stored payload failed",
			"key", rec.LocalPath, "error", err)
	}
}

func (s *Service) duplicateResult(snap *config.Snapshot, existing *metadata.ArtifactRecord) *UploadResult {
	return &UploadResult{
		ID:        existing.ID,
		URL:       artifactURL(snap, existing.ID),
		Duplicate: true,
		SizeBytes: existing.SizeBytes,
		ExpiresAt: existing.ExpiresAt,
	}
}

// Retrieve returns the original payload bytes for id along with the
// record that described them.
func (s *Service) Retrieve(ctx context.Context, id string) ([]byte, *metadata.ArtifactRecord, error) {
	if !validID(id) {
		s.metrics.IncRetrievals("not_found")
		return nil, nil, fault.Newf(fault.KindNotFound, "no artifact %q", id)
	}
	snap := s.coord.Current()
	now := s.now()

	rec, ok := s.cache.get(id, now)
	if !ok {
		var err error
		rec, err = s.meta.GetByID(ctx, id, now)
		if errors.Is(err, metadata.ErrNotFound) {
			s.metrics.IncRetrievals("not_found")
			return nil, nil, fault.Newf(fault.KindNotFound, "no artifact %q", id)
		}
		if err != nil {
			s.metrics.IncRetrievals("error")
			return nil, nil, fault.Wrap(fault.KindInternal, "lookup record", err)
		}
		s.cache.put(rec, now)
	}
	if rec.Expired(now) {
		s.metrics.IncRetrievals("not_found")
		return nil, nil, fault.Newf(fault.KindNotFound, "no artifact %q", id)
	}

	stored, err := s.store.Get(ctx, rec.LocalPath, rec.RemotePath)
	if errors.Is(err, storage.ErrNotExist) {
		// The reconciler may have collected this record after we cached
		// it; re-check the row before blaming storage.
		s.cache.invalidate(id)
		if _, gerr := s.meta.GetByID(ctx, id, now); errors.Is(gerr, metadata.ErrNotFound) {
			s.metrics.IncRetrievals("not_found")
			return nil, nil, fault.Newf(fault.KindNotFound, "no artifact %q", id)
		}
		// Record without bytes: drift the reconciler will collect.
		s.metrics.IncRetrievals("error")
		return nil, nil, fault.Newf(fault.KindStorageUnavailable, "payload for %s is missing", id)
	}
	if err != nil {
		s.metrics.IncRetrievals("error")
		return nil, nil, fault.Wrap(fault.KindStorageUnavailable, "read payload", err)
	}

	codec, err := s.decodeCodec(snap, rec.Encrypted)
	if err != nil {
		s.metrics.IncRetrievals("error")
		return nil, nil, err
	}
	plain, err := codec.Decode(stored, rec.Compressed, rec.Encrypted)
	if err != nil {
		s.metrics.IncRetrievals("error")
		return nil, nil, err
	}
	s.metrics.IncRetrievals("ok")
	return plain, rec, nil
}

// Stats summarizes the store for the admin surface.
func (s *Service) Stats(ctx context.Context) (*metadata.Stats, error) {
	return s.meta.Stats(ctx, s.now())
}

// encodeCodec builds the write-path codec: transforms follow the live
// snapshot.
func (s *Service) encodeCodec(snap *config.Snapshot) (*transform.Codec, error) {
	opts := transform.Options{
		Compress: snap.Compression.Enabled,
		Level:    snap.Compression.Level,
	}
	if snap.Encryption.Enabled {
		key, err := snap.EncryptionKeyBytes()
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, "load encryption key", err)
		}
		opts.Key = key
	}
	return transform.NewCodec(opts), nil
}

// decodeCodec builds the read-path codec. The key is loaded whenever
// one is configured, enabled or not: a record written under encryption
// must stay readable after encryption is switched off.
func (s *Service) decodeCodec(snap *config.Snapshot, needKey bool) (*transform.Codec, error) {
	var opts transform.Options
	if snap.Encryption.Key != "" {
		key, err := snap.EncryptionKeyBytes()
		if err != nil {
			if needKey {
				return nil, fault.Wrap(fault.KindDecryptionFailed, "load encryption key", err)
			}
		} else {
			opts.Key = key
		}
	}
	return transform.NewCodec(opts), nil
}

func artifactURL(snap *config.Snapshot, id string) string {
	return snap.HostDomain + "/f/" + id
}
