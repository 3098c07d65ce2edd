package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process fixed-window limiter. It is the default when
// no Redis URL is configured; counts reset on restart, which is an
// accepted trade for a single-node deployment.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	now     func() time.Time
}

type memWindow struct {
	start time.Time
	count int
}

// NewMemory returns an in-process limiter.
func NewMemory() *Memory {
	return &Memory{windows: map[string]*memWindow{}, now: time.Now}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := m.now()
	start := windowStart(now, window)

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[key]
	if !ok || w.start.Before(start) {
		w = &memWindow{start: start}
		m.windows[key] = w
	}
	if w.count >= limit {
		return false, nil
	}
	w.count++

	// Opportunistically drop stale windows so the map tracks active
	// clients, not every client ever seen.
	if len(m.windows) > 1024 {
		for k, stale := range m.windows {
			if stale.start.Before(start) {
				delete(m.windows, k)
			}
		}
	}
	return true, nil
}

func (m *Memory) Close() error { return nil }
