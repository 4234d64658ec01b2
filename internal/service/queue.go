package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var ErrQueueDraining = errors.New("queue already has a worker")

// Queue is a deduplicated FIFO of pending work keys drained by one worker.
type Queue[K comparable] struct {
	name     string
	mu       sync.Mutex
	pending  []K
	draining atomic.Bool
}

func NewQueue[K comparable](name string) *Queue[K] {
	return &Queue[K]{name: name}
}

// Enqueue appends key unless it is already pending. It reports whether
// the key was added.
func (q *Queue[K]) Enqueue(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if slices.Contains(q.pending, key) {
		return false
	}
	q.pending = append(q.pending, key)
	return true
}

// Remove drops key if it is pending; an absent key is not an error.
func (q *Queue[K]) Remove(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.Index(q.pending, key)
	if i < 0 {
		return false
	}
	q.pending = slices.Delete(q.pending, i, i+1)
	return true
}

func (q *Queue[K]) Pop() (K, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero K
	if len(q.pending) == 0 {
		return zero, false
	}
	key := q.pending[0]
	q.pending = slices.Delete(q.pending, 0, 1)
	return key, true
}

func (q *Queue[K]) Contains(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Contains(q.pending, key)
}

func (q *Queue[K]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain pops keys and hands them to fn one at a time, outside the queue
// lock, until ctx is done. When the queue is empty it sleeps for interval.
// Only one Drain may run per queue.
func (q *Queue[K]) Drain(ctx context.Context, interval time.Duration, fn func(context.Context, K)) error {
	if !q.draining.CompareAndSwap(false, true) {
		return ErrQueueDraining
	}
	defer q.draining.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			key, ok := q.Pop()
			if !ok {
				break
			}
			fn(ctx, key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
