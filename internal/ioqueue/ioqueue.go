// Package ioqueue provides a bounded pool for blocking disk I/O so that
// cooperative HTTP-serving goroutines never block directly on the
// filesystem. The dispatcher runs its cache lookups, writes, commits and
// purges through here; opening the cache at startup and saving its index
// at shutdown call the cache directly.
package ioqueue

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Queue bounds the number of concurrently in-flight blocking I/O
// operations.
type Queue struct {
	sem *semaphore.Weighted
}

// New creates a Queue that allows at most workers concurrent operations.
// A workers value <= 0 is treated as 1.
func New(workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{sem: semaphore.NewWeighted(int64(workers))}
}

// Do acquires a worker slot, runs fn, and releases the slot. It blocks
// until a slot is free or ctx is canceled, in which case ctx.Err() is
// returned without running fn.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)
	return fn()
}

// DoValue is like Do but also returns a value produced by fn.
func DoValue[T any](ctx context.Context, q *Queue, fn func() (T, error)) (T, error) {
	var zero T
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer q.sem.Release(1)
	return fn()
}
