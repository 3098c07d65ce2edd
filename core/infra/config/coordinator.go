package config

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cyqddx/shuyuan/core/infra/logging"
)

const component = "config"

// Coordinator owns the live configuration snapshot. The snapshot is
// published by atomic whole-value swap: readers holding an old snapshot
// keep a fully consistent view, and a reload never blocks them.
type Coordinator struct {
	cur atomic.Pointer[Snapshot]

	mu   sync.Mutex // serializes Apply
	subs []chan *Snapshot
}

// NewCoordinator publishes the initial snapshot at version 1.
func NewCoordinator(initial *Snapshot) *Coordinator {
	c := &Coordinator{}
	snap := *initial
	snap.Version = 1
	c.cur.Store(&snap)
	return c
}

// Current returns the live snapshot. Callers must hold the returned
// pointer for the duration of one operation rather than calling Current
// repeatedly mid-operation.
func (c *Coordinator) Current() *Snapshot {
	return c.cur.Load()
}

// Apply validates a candidate and, on success, publishes it as the next
// version. A candidate that fails validation is discarded and the
// current snapshot stays active.
func (c *Coordinator) Apply(candidate *Snapshot) error {
	if candidate == nil {
		return errors.New("nil candidate snapshot")
	}
	if err := candidate.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	next := *candidate
	next.Version = c.cur.Load().Version + 1
	c.cur.Store(&next)

	for _, ch := range c.subs {
		select {
		case ch <- &next:
		default:
			// Slow subscribers miss intermediate versions; they pick up
			// the latest snapshot on their next operation anyway.
		}
	}
	logging.Info(component, "snapshot published", "version", next.Version)
	return nil
}

// Subscribe returns a channel that receives each newly published
// snapshot. Delivery is best-effort: components consult Current() per
// operation, the channel only accelerates wake-up.
func (c *Coordinator) Subscribe() <-chan *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan *Snapshot, 1)
	c.subs = append(c.subs, ch)
	return ch
}
