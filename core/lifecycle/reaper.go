// Package lifecycle runs the two background sweeps that keep metadata
// and stored bytes consistent: the reaper removes expired artifacts,
// the reconciler repairs drift between the record table and storage.
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
	reaperComponent = "reaper"

	// DefaultReapInterval is the sweep cadence.
	DefaultReapInterval = time.Hour
	reapBatchSize       = 100
)

// Reaper deletes expired artifacts: local bytes, then the remote copy,
// then the row. A storage failure leaves the row for the next sweep.
type Reaper struct {
	meta     *metadata.Store
	store    *storage.Dual
	metrics  metrics.Metrics
	interval time.Duration

	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReaper builds a reaper. A zero interval takes the default.
func NewReaper(meta *metadata.Store, store *storage.Dual, m metrics.Metrics, interval time.Duration) *Reaper {
	if m == nil {
		m = metrics.Noop{}
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		meta:     meta,
		store:    store,
		metrics:  m,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic sweep.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval)
				if n, err := r.Sweep(ctx); err != nil {
					logging.Error(reaperComponent, "sweep failed", "error", err)
				} else if n > 0 {
					logging.Info(reaperComponent, "sweep complete", "reaped", n)
				}
				cancel()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop halts the periodic sweep and waits for an in-flight one.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Sweep removes expired artifacts in batches until none remain. One bad
// record never halts the sweep; it is logged and retried next time.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	total := 0
	for {
		batch, err := r.meta.ListExpired(ctx, now, reapBatchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}
		progress := 0
		for _, rec := range batch {
			if err := r.reap(ctx, rec); err != nil {
				logging.Warn(reaperComponent, "reap failed, keeping record",
					"id", rec.ID, "error", err)
				continue
			}
			progress++
		}
		total += progress
		r.metrics.IncReaped(progress)
		// A batch that made no progress would repeat forever.
		if len(batch) < reapBatchSize || progress == 0 {
			break
		}
	}
	return total, nil
}

func (r *Reaper) reap(ctx context.Context, rec *metadata.ArtifactRecord) error {
	if err := r.store.Delete(ctx, rec.LocalPath, rec.RemotePath); err != nil {
		return err
	}
	return r.meta.Delete(ctx, rec.ID)
}
