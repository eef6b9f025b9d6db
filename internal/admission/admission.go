// Package admission bounds how many transcodes may run concurrently.
//
// It deliberately does not use a semaphore: the caller needs a single
// non-blocking "try to enter, and tell me if I'm over the limit" operation,
// not something that parks the goroutine until a slot frees up.
package admission

import (
	"errors"
	"sync/atomic"
)

// ErrRejected is returned by TryEnter when the configured limit is already
// reached.
var ErrRejected = errors.New("admission: max parallel transcodes reached")

// Controller caps the number of concurrently admitted transcodes using a
// lock-free compare-and-swap retry loop on an atomic counter.
type Controller struct {
	current atomic.Int32
	limit   int32
}

// NewController creates a Controller that admits at most limit concurrent
// transcodes. A limit <= 0 means unlimited.
func NewController(limit int) *Controller {
	return &Controller{limit: int32(limit)}
}

// Slot represents one admitted transcode. Release must be called exactly
// once to free the slot.
type Slot struct {
	c *Controller
}

// Release frees the slot, allowing another transcode to be admitted.
func (s *Slot) Release() {
	if s == nil || s.c == nil {
		return
	}
	s.c.current.Add(-1)
}

// TryEnter attempts to admit one more transcode. On success it returns a
// Slot that must be released when the transcode finishes (or fails). On
// failure it returns ErrRejected and the caller must not proceed.
func (c *Controller) TryEnter() (*Slot, error) {
	if c.limit <= 0 {
		c.current.Add(1)
		return &Slot{c: c}, nil
	}

	for {
		cur := c.current.Load()
		if cur >= c.limit {
			return nil, ErrRejected
		}
		if c.current.CompareAndSwap(cur, cur+1) {
			return &Slot{c: c}, nil
		}
		// Lost the race to another goroutine; retry.
	}
}

// InFlight returns the current number of admitted, not-yet-released
// transcodes. Intended for status/metrics endpoints.
func (c *Controller) InFlight() int {
	return int(c.current.Load())
}

// Limit returns the configured maximum, or 0 if unlimited.
func (c *Controller) Limit() int {
	return int(c.limit)
}
