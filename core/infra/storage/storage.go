// Package storage provides payload byte stores. The local filesystem
// store is authoritative; a remote S3-compatible store mirrors it on a
// best-effort basis and serves as a fallback when local bytes are lost.
package storage

import (
	"context"
	"errors"
)

// ErrNotExist is returned when a key holds no object.
var ErrNotExist = errors.New("storage: object does not exist")

// Backend stores opaque payload bytes under flat keys.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
