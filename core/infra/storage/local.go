package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stores payloads as files under a root directory. Writes go
// through a temp file and rename so a crash never leaves a partial
// payload under a real key.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed and returns a store
// over it.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &Local{root: root}, nil
}

// Root returns the store's root directory.
func (l *Local) Root() string { return l.root }

func (l *Local) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(l.root, key), nil
}

func (l *Local) Put(_ context.Context, key string, data []byte) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.root, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write payload %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close payload %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish payload %s: %w", key, err)
	}
	return nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is validated against the store root
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", key, err)
	}
	return data, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete payload %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key holds a payload.
func (l *Local) Exists(key string) (bool, error) {
	path, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat payload %s: %w", key, err)
	}
	return true, nil
}

// List returns every payload key in the store. Temp files from
// in-flight writes are excluded.
func (l *Local) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("list storage root: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".put-") {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}
