package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/cyqddx/shuyuan/core/infra/logging"
	"github.com/cyqddx/shuyuan/core/infra/metadata"
	"github.com/cyqddx/shuyuan/core/infra/metrics"
	"github.com/cyqddx/shuyuan/core/infra/storage"
)

const (
	reconcilerComponent = "reconciler"

	// DefaultReconcileInterval is the repair cadence.
	DefaultReconcileInterval = 30 * time.Second
	// DefaultReconcileGrace shields in-flight uploads: only records
	// older than this are judged.
	DefaultReconcileGrace = time.Minute

	catchUpBatchSize  = 100
	danglingBatchSize = 100
)

// Reconciler repairs drift between the record table and storage.
// Records older than the grace period whose local bytes are gone are
// dangling and removed; live records whose remote mirror never landed
// are re-uploaded from local bytes.
type Reconciler struct {
	meta     *metadata.Store
	store    *storage.Dual
	metrics  metrics.Metrics
	interval time.Duration
	grace    time.Duration

	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReconciler builds a reconciler. Zero interval or grace take the
// defaults.
func NewReconciler(meta *metadata.Store, store *storage.Dual, m metrics.Metrics, interval, grace time.Duration) *Reconciler {
	if m == nil {
		m = metrics.Noop{}
	}
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if grace <= 0 {
		grace = DefaultReconcileGrace
	}
	return &Reconciler{
		meta:     meta,
		store:    store,
		metrics:  m,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic repair pass.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval)
				if err := r.Reconcile(ctx); err != nil {
					logging.Error(reconcilerComponent, "pass failed", "error", err)
				}
				cancel()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop halts the periodic pass and waits for an in-flight one.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Reconcile runs one repair pass. Per-record failures are logged and
// skipped, never fatal to the pass.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	now := r.now()
	cutoff := now.Add(-r.grace)

	if err := r.removeDangling(ctx, cutoff); err != nil {
		return err
	}
	return r.catchUpRemote(ctx, cutoff, now)
}

// removeDangling drops records whose local payload vanished out of
// band. The remote copy, if any, goes too: a record that lost its
// authoritative bytes is not resurrected from the mirror.
func (r *Reconciler) removeDangling(ctx context.Context, cutoff time.Time) error {
	var after *metadata.ArtifactRecord
	for {
		records, err := r.meta.ListCreatedBefore(ctx, cutoff, after, danglingBatchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		r.checkBatch(ctx, records)
		if len(records) < danglingBatchSize {
			return nil
		}
		after = records[len(records)-1]
	}
}

func (r *Reconciler) checkBatch(ctx context.Context, records []*metadata.ArtifactRecord) {
	for _, rec := range records {
		exists, err := r.store.Local().Exists(rec.LocalPath)
		if err != nil {
			logging.Warn(reconcilerComponent, "stat failed", "id", rec.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		logging.Warn(reconcilerComponent, "removing dangling record",
			"id", rec.ID, "path", rec.LocalPath)
		if rec.RemotePath != "" && r.store.Remote() != nil {
			if err := r.store.Remote().Delete(ctx, rec.RemotePath); err != nil {
				logging.Warn(reconcilerComponent, "remote delete failed",
					"id", rec.ID, "error", err)
			}
		}
		if err := r.meta.Delete(ctx, rec.ID); err != nil {
			logging.Warn(reconcilerComponent, "record delete failed",
				"id", rec.ID, "error", err)
			continue
		}
		r.metrics.IncReconciled("removed_record")
	}
}

// catchUpRemote retries remote uploads that failed at ingest time.
func (r *Reconciler) catchUpRemote(ctx context.Context, cutoff, now time.Time) error {
	remote := r.store.Remote()
	if remote == nil {
		return nil
	}
	pending, err := r.meta.ListMissingRemote(ctx, cutoff, now, catchUpBatchSize)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		data, err := r.store.Local().Get(ctx, rec.LocalPath)
		if err != nil {
			// Missing local bytes are the dangling case; the next
			// pass will collect the record.
			logging.Warn(reconcilerComponent, "catch-up read failed",
				"id", rec.ID, "error", err)
			continue
		}
		if err := remote.Put(ctx, rec.LocalPath, data); err != nil {
			logging.Warn(reconcilerComponent, "catch-up upload failed",
				"id", rec.ID, "error", err)
			continue
		}
		if err := r.meta.SetRemotePath(ctx, rec.ID, rec.LocalPath); err != nil {
			logging.Warn(reconcilerComponent, "record update failed",
				"id", rec.ID, "error", err)
			continue
		}
		logging.Info(reconcilerComponent, "remote copy caught up", "id", rec.ID)
		r.metrics.IncReconciled("remote_caught_up")
	}
	return nil
}
