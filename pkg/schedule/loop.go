// Package schedule runs cancellable fixed-rate loops with a bounded, synchronous Stop.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	customlog "github.com/open-teleop/driverstation/pkg/log"
)

// Halt, returned from a TickFunc, ends the loop from inside a cycle.
const Halt time.Duration = -1

const (
	// DefaultInterval is used when a loop is built with a non-positive interval.
	DefaultInterval = 20 * time.Millisecond

	// DefaultStopTimeout bounds how long Stop waits for the loop goroutine.
	DefaultStopTimeout = time.Second
)

// ErrStopTimeout is returned by Stop when the loop did not exit in time.
var ErrStopTimeout = errors.New("schedule: loop did not stop in time")

// TickFunc runs one cycle. A positive return delays the next cycle by that
// much on top of the normal interval; Halt ends the loop.
type TickFunc func(ctx context.Context) time.Duration

// Loop calls a TickFunc on a fixed interval until stopped.
type Loop struct {
	name        string
	interval    time.Duration
	stopTimeout time.Duration
	tick        TickFunc
	logger      customlog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates a stopped loop.
func NewLoop(name string, interval time.Duration, tick TickFunc, logger customlog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Loop{
		name:        name,
		interval:    interval,
		stopTimeout: DefaultStopTimeout,
		tick:        tick,
		logger:      logger,
	}
}

// SetStopTimeout overrides DefaultStopTimeout.
func (l *Loop) SetStopTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d > 0 {
		l.stopTimeout = d
	}
}

// Name returns the loop name used in log lines.
func (l *Loop) Name() string {
	return l.name
}

// Interval returns the tick interval.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Start launches the loop goroutine. It returns false if the loop is already
// running, including a run that a timed-out Stop could not end yet.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil && !closed(l.done) {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go l.run(ctx, done)
	l.logger.Debugf("%s loop started (interval=%s)", l.name, l.interval)
	return true
}

// Stop cancels the loop and waits for its goroutine to exit.
// Once Stop returns nil no further cycle will run. After ErrStopTimeout the
// old run is still tracked: Start refuses until it exits, and a later Stop
// waits for it again.
func (l *Loop) Stop() error {
	l.mu.Lock()
	cancel, done, timeout := l.cancel, l.done, l.stopTimeout
	l.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		l.mu.Lock()
		// A concurrent Stop/Start pair may already have replaced the run.
		if l.done == done {
			l.cancel = nil
			l.done = nil
		}
		l.mu.Unlock()
		l.logger.Debugf("%s loop stopped", l.name)
		return nil
	case <-time.After(timeout):
		l.logger.Warnf("%s loop still running %s after stop", l.name, timeout)
		return ErrStopTimeout
	}
}

// Running reports whether the loop goroutine is alive.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil && !closed(l.done)
}

// Done returns a channel closed when the current run exits, or nil if never started.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ctx.Err() != nil {
			return
		}

		delay := l.safeTick(ctx)
		if delay == Halt {
			l.logger.Debugf("%s loop halted itself", l.name)
			return
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// safeTick keeps a panicking cycle from killing the loop; it backs off instead.
func (l *Loop) safeTick(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("%s loop cycle panicked: %v", l.name, r)
			delay = 5 * l.interval
		}
	}()
	return l.tick(ctx)
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
