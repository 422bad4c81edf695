// Package ratelimit bounds outbound sends to a fixed number per
// wall-clock window.
//
// Windows are aligned to absolute time (now minus now mod the window size),
// not to the moment the limiter was created. Callers that find the window
// full wait in arrival order and are released at the next boundary, up to
// the window capacity. The rest stay queued for the following window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so tests can control window boundaries.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// Limiter is a fixed-window counter with a FIFO queue of waiters.
type Limiter struct {
	capacity int
	window   time.Duration
	clock    Clock

	mu          sync.Mutex
	windowStart time.Time
	used        int
	queue       []*waiter
	stopTimer   func() bool
	stopped     bool
}

// New creates a Limiter granting at most capacity acquisitions per window.
func New(capacity int, window time.Duration, opts ...Option) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		capacity: capacity,
		window:   window,
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.windowStart = floor(l.clock.Now(), window)
	return l
}

// Acquire blocks until a send slot is available in the current window.
// It returns ctx.Err() if ctx is done before the slot is granted.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.rollLocked(l.clock.Now())
	if len(l.queue) == 0 && l.used < l.capacity {
		l.used++
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.armLocked()
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		defer l.mu.Unlock()
		if w.granted {
			return nil
		}
		l.removeLocked(w)
		return ctx.Err()
	}
}

// Pending returns the number of queued callers.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stop cancels the pending boundary timer. Queued callers keep waiting
// until their context is done.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.stopTimer != nil {
		l.stopTimer()
		l.stopTimer = nil
	}
}

// rollLocked starts a new window if now has crossed the boundary and
// hands the fresh budget to queued waiters first.
func (l *Limiter) rollLocked(now time.Time) {
	start := floor(now, l.window)
	if start.Before(l.windowStart.Add(l.window)) {
		return
	}
	l.windowStart = start

	n := min(len(l.queue), l.capacity)
	for _, w := range l.queue[:n] {
		w.granted = true
		close(w.ready)
	}
	l.queue = append(l.queue[:0], l.queue[n:]...)
	l.used = max(0, n)
}

func (l *Limiter) armLocked() {
	if l.stopTimer != nil || l.stopped || len(l.queue) == 0 {
		return
	}
	next := l.windowStart.Add(l.window)
	l.stopTimer = l.clock.AfterFunc(next.Sub(l.clock.Now()), l.onBoundary)
}

func (l *Limiter) onBoundary() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimer = nil
	l.rollLocked(l.clock.Now())
	l.armLocked()
}

func (l *Limiter) removeLocked(w *waiter) {
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// floor aligns t to a multiple of d counted from the Unix epoch.
func floor(t time.Time, d time.Duration) time.Time {
	return t.Add(-time.Duration(t.UnixNano() % int64(d)))
}
