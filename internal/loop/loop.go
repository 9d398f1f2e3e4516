// Package loop provides the single main sequence that call handling runs on.
//
// Every state transition of the call handler happens inside a task posted to
// a Loop, so SDK callbacks, OS notifications, timers and application commands
// never interleave. Blocking work belongs on other goroutines.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer is a pending delayed task.
type Timer interface {
	// Stop prevents the task from running. It reports whether the task was
	// still pending.
	Stop() bool
}

// Scheduler posts tasks onto the main sequence.
type Scheduler interface {
	Post(fn func())
	After(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Executor runs a task on the main sequence and waits for it to finish.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// Loop is a serial task queue drained by Run.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	log   *logrus.Entry
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(log *logrus.Entry) Option {
	return func(l *Loop) { l.log = log }
}

// New creates a Loop. Tasks posted before Run are kept until Run starts.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		log:  logrus.NewEntry(logrus.StandardLogger()).WithField("component", "loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post appends fn to the queue. It never blocks.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After posts fn once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Do posts fn and waits for it to run. Calling Do from inside a task
// deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for _, fn := range l.take() {
			l.run(fn)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queue
	l.queue = nil
	return q
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("task panicked")
		}
	}()
	fn()
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return t.stopped.CompareAndSwap(false, true)
}
