package coalesce

import (
	"context"
	"sync"
	"time"
)

// MergeFunc folds a newly offered value into the one still pending.
type MergeFunc[T any] func(pending, next T) T

// Latest keeps only the most recent value.
func Latest[T any](_, next T) T {
	return next
}

// Adder is any value type that can be summed with itself.
type Adder[T any] interface {
	Add(T) T
}

// Sum accumulates every offered value into the pending one.
func Sum[T Adder[T]](pending, next T) T {
	return pending.Add(next)
}

// Slot is a single-slot mailbox drained by one worker. A value is handed to
// the worker only after the slot has been quiet for the configured window;
// every Offer restarts the window.
type Slot[T any] struct {
	quiet time.Duration
	merge MergeFunc[T]

	mu      sync.Mutex
	pending T
	has     bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func New[T any](quiet time.Duration, merge MergeFunc[T]) *Slot[T] {
	if merge == nil {
		merge = Latest[T]
	}
	return &Slot[T]{
		quiet: quiet,
		merge: merge,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Offer stores v, merging it with any pending value. It reports false once
// the slot is closed.
func (s *Slot[T]) Offer(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.has {
		s.pending = s.merge(s.pending, v)
	} else {
		s.pending = v
		s.has = true
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// Pending reports whether a value is waiting for the worker.
func (s *Slot[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.has
}

// Close stops accepting values. The worker flushes whatever is pending
// without waiting for the quiet window and then returns.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

// Done is closed when Run returns.
func (s *Slot[T]) Done() <-chan struct{} {
	return s.done
}

// Run is the worker loop. fn calls never overlap.
func (s *Slot[T]) Run(ctx context.Context, fn func(context.Context, T)) error {
	defer close(s.done)
	timer := time.NewTimer(s.quiet)
	stopTimer(timer)
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-s.wake:
			s.mu.Lock()
			closed, has := s.closed, s.has
			s.mu.Unlock()
			if closed {
				stopTimer(timer)
				if v, ok := s.take(); ok {
					fn(ctx, v)
				}
				return nil
			}
			if has {
				stopTimer(timer)
				timer.Reset(s.quiet)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			if v, ok := s.take(); ok {
				fn(ctx, v)
			}
		}
	}
}

func (s *Slot[T]) take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.has {
		return zero, false
	}
	v := s.pending
	s.pending = zero
	s.has = false
	return v, true
}

func (s *Slot[T]) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
