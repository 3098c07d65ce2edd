package storage

import (
	"context"
	"errors"

	"github.com/cyqddx/shuyuan/core/infra/logging"
)

const component = "storage"

// Dual writes payloads to the local store and mirrors them to a remote
// store when one is configured. Local is authoritative: a local failure
// fails the operation, a remote failure is logged and left for the
// reconciler to catch up.
type Dual struct {
	local  *Local
	remote Backend // nil when remote storage is disabled
}

// NewDual composes the local store with an optional remote mirror.
func NewDual(local *Local, remote Backend) *Dual {
	return &Dual{local: local, remote: remote}
}

// Local returns the authoritative store.
func (d *Dual) Local() *Local { return d.local }

// Remote returns the mirror, or nil when disabled.
func (d *Dual) Remote() Backend { return d.remote }

// Put stores the payload locally and mirrors it. The returned
// remotePath is the remote key on success and empty when the mirror is
// disabled or failed.
func (d *Dual) Put(ctx context.Context, key string, data []byte) (remotePath string, err error) {
	if err := d.local.Put(ctx, key, data); err != nil {
		return "", err
	}
	if d.remote == nil {
		return "", nil
	}
	if err := d.remote.Put(ctx, key, data); err != nil {
		logging.Warn(component, "remote mirror failed, deferring to reconciler",
			"key", key, "error", err)
		return "", nil
	}
	return key, nil
}

// Get reads the payload, preferring local bytes. When the local copy is
// missing and the record carries a remote path, the mirror serves the
// read and the local copy is restored for the next one.
func (d *Dual) Get(ctx context.Context, key, remotePath string) ([]byte, error) {
	data, err := d.local.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotExist) || d.remote == nil || remotePath == "" {
		return nil, err
	}
	logging.Warn(component, "local payload missing, reading mirror", "key", key)
	data, rerr := d.remote.Get(ctx, remotePath)
	if rerr != nil {
		return nil, rerr
	}
	if perr := d.local.Put(ctx, key, data); perr != nil {
		logging.Warn(component, "restore of local payload failed", "key", key, "error", perr)
	}
	return data, nil
}

// Delete removes the payload from both stores. Remote failures are
// logged, not returned; a leaked remote object costs space, not
// correctness.
func (d *Dual) Delete(ctx context.Context, key, remotePath string) error {
	if err := d.local.Delete(ctx, key); err != nil {
		return err
	}
	if d.remote != nil && remotePath != "" {
		if err := d.remote.Delete(ctx, remotePath); err != nil {
			logging.Warn(component, "remote delete failed", "key", remotePath, "error", err)
		}
	}
	return nil
}
