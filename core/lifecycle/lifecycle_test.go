package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cyqddx/shuyuan/core/infra/metadata"
	"github.com/cyqddx/shuyuan/core/infra/metrics"
	"github.com/cyqddx/shuyuan/core/infra/storage"
)

type memRemote struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemRemote() *memRemote {
	return &memRemote{objects: map[string][]byte{}}
}

func (m *memRemote) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memRemote) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return data, nil
}

func (m *memRemote) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memRemote) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type fixture struct {
	meta   *metadata.Store
	local  *storage.Local
	remote *memRemote
	dual   *storage.Dual
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	meta, err := metadata.Open(":memory:")
	if err != nil {
		t.Fatalf("open metadata: %v", err)
	}
	t.Cleanup(func() { meta.Close() })
	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("open local storage: %v", err)
	}
	remote := newMemRemote()
	return &fixture{
		meta:   meta,
		local:  local,
		remote: remote,
		dual:   storage.NewDual(local, remote),
		now:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

// seed inserts a record and, when withPayload is set, its payload in
// both stores.
func (f *fixture) seed(t *testing.T, id string, createdAt, expiresAt time.Time, withPayload, withRemote bool) *metadata.ArtifactRecord {
	t.Helper()
	ctx := context.Background()
	key := id + ".bin"
	rec := &metadata.ArtifactRecord{
		ID:            id,
		ContentHash:   "hash-" + id,
		HashAlgorithm: "blake3",
		LocalPath:     key,
		SizeBytes:     4,
		CreatedAt:     createdAt,
		ExpiresAt:     expiresAt,
	}
	if withPayload {
		if err := f.local.Put(ctx, key, []byte("data")); err != nil {
			t.Fatalf("seed local payload: %v", err)
		}
	}
	if withRemote {
		rec.RemotePath = key
		if err := f.remote.Put(ctx, key, []byte("data")); err != nil {
			t.Fatalf("seed remote payload: %v", err)
		}
	}
	if err := f.meta.Insert(ctx, rec); err != nil {
		t.Fatalf("seed record %s: %v", id, err)
	}
	return rec
}

func TestReaperSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.now.Add(-48 * time.Hour)

	expired1 := f.seed(t, "a000000000000000", created, f.now.Add(-time.Hour), true, true)
	expired2 := f.seed(t, "b000000000000000", created, f.now.Add(-2*time.Hour), true, false)
	live := f.seed(t, "c000000000000000", created, f.now.Add(time.Hour), true, false)
	perm := f.seed(t, "d000000000000000", created, time.Time{}, true, false)

	r := NewReaper(f.meta, f.dual, metrics.Noop{}, time.Hour)
	r.now = func() time.Time { return f.now }

	n, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("reaped %d records, want 2", n)
	}

	for _, rec := range []*metadata.ArtifactRecord{expired1, expired2} {
		if _, err := f.meta.GetAnyByHash(ctx, rec.ContentHash, rec.HashAlgorithm); !errors.Is(err, metadata.ErrNotFound) {
			t.Fatalf("expired record %s survived: %v", rec.ID, err)
		}
		if ok, _ := f.local.Exists(rec.LocalPath); ok {
			t.Fatalf("expired payload %s survived", rec.LocalPath)
		}
	}
	if f.remote.has(expired1.RemotePath) {
		t.Fatalf("expired remote copy survived")
	}
	for _, rec := range []*metadata.ArtifactRecord{live, perm} {
		if _, err := f.meta.GetAnyByHash(ctx, rec.ContentHash, rec.HashAlgorithm); err != nil {
			t.Fatalf("record %s reaped early: %v", rec.ID, err)
		}
		if ok, _ := f.local.Exists(rec.LocalPath); !ok {
			t.Fatalf("payload %s reaped early", rec.LocalPath)
		}
	}

	// A second sweep finds nothing.
	n, err = r.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestReaperKeepsRowOnStorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.seed(t, "a000000000000000", f.now.Add(-48*time.Hour), f.now.Add(-time.Hour), true, false)
	// An unresolvable path makes the storage delete fail.
	if err := f.meta.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("reset record: %v", err)
	}
	rec.LocalPath = "bad/key.bin"
	if err := f.meta.Insert(ctx, rec); err != nil {
		t.Fatalf("reinsert record: %v", err)
	}

	r := NewReaper(f.meta, f.dual, metrics.Noop{}, time.Hour)
	r.now = func() time.Time { return f.now }
	n, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if n != 0 {
		t.Fatalf("reaped %d records despite storage failure", n)
	}
	if _, err := f.meta.GetAnyByHash(ctx, rec.ContentHash, rec.HashAlgorithm); err != nil {
		t.Fatalf("row removed despite storage failure: %v", err)
	}
}

func TestReconcilerRemovesDangling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.now.Add(-10 * time.Minute)

	dangling := f.seed(t, "a000000000000000", old, time.Time{}, false, true)
	intact := f.seed(t, "b000000000000000", old, time.Time{}, true, false)
	// Fresh record whose file has not landed yet: inside the grace
	// period, must be left alone.
	fresh := f.seed(t, "c000000000000000", f.now.Add(-10*time.Second), time.Time{}, false, false)

	r := NewReconciler(f.meta, f.dual, metrics.Noop{}, time.Minute, time.Minute)
	r.now = func() time.Time { return f.now }
	if err := r.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if _, err := f.meta.GetAnyByHash(ctx, dangling.ContentHash, dangling.HashAlgorithm); !errors.Is(err, metadata.ErrNotFound) {
		t.Fatalf("dangling record survived: %v", err)
	}
	if f.remote.has(dangling.RemotePath) {
		t.Fatalf("dangling remote copy survived")
	}
	for _, rec := range []*metadata.ArtifactRecord{intact, fresh} {
		if _, err := f.meta.GetAnyByHash(ctx, rec.ContentHash, rec.HashAlgorithm); err != nil {
			t.Fatalf("record %s removed: %v", rec.ID, err)
		}
	}
}

func TestReconcilerCatchesUpRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.seed(t, "a000000000000000", f.now.Add(-10*time.Minute), time.Time{}, true, false)

	r := NewReconciler(f.meta, f.dual, metrics.Noop{}, time.Minute, time.Minute)
	r.now = func() time.Time { return f.now }
	if err := r.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if !f.remote.has(pending.LocalPath) {
		t.Fatalf("remote copy not caught up")
	}
	got, err := f.meta.GetByID(ctx, pending.ID, f.now)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.RemotePath != pending.LocalPath {
		t.Fatalf("remote path not recorded: %q", got.RemotePath)
	}

	// Idempotent: a second pass has nothing to do.
	if err := r.Reconcile(ctx); err != nil {
		t.Fatalf("second Reconcile returned error: %v", err)
	}
}

func TestReconcilerWithoutRemote(t *testing.T) {
	f := newFixture(t)
	dual := storage.NewDual(f.local, nil)
	f.seed(t, "a000000000000000", f.now.Add(-10*time.Minute), time.Time{}, true, false)

	r := NewReconciler(f.meta, dual, metrics.Noop{}, time.Minute, time.Minute)
	r.now = func() time.Time { return f.now }
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	reaper := NewReaper(f.meta, f.dual, metrics.Noop{}, 10*time.Millisecond)
	reconciler := NewReconciler(f.meta, f.dual, metrics.Noop{}, 10*time.Millisecond, time.Minute)
	reaper.Start()
	reconciler.Start()
	time.Sleep(50 * time.Millisecond)
	reaper.Stop()
	reconciler.Stop()
	// Stop twice is safe.
	reaper.Stop()
	reconciler.Stop()
}
