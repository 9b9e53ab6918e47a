package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/autoheal/internal/faults"
)

// TickFunc is one unit of periodic work. ctx is cancelled when the loop stops
// or the per-tick timeout elapses. Stop waits for the tick to return, so a
// tick that finishes its pass regardless of ctx is never cut off midway.
type TickFunc func(ctx context.Context)

// Option configures a Loop.
type Option func(*Loop)

// WithTimeout bounds every tick. The default is the loop interval.
func WithTimeout(d time.Duration) Option {
	return func(l *Loop) { l.timeout = d }
}

// WithStateHook registers fn to be called with true after Start and false
// after Stop.
func WithStateHook(fn func(running bool)) Option {
	return func(l *Loop) { l.onState = fn }
}

// Loop runs a TickFunc on a fixed interval.
//
// Ticks never overlap: they run on a single goroutine, and a tick that
// overruns the interval causes the missed ticks to be dropped rather than
// queued. Start and Stop are idempotent.
type Loop struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	tick     TickFunc
	onState  func(bool)

	mu      sync.Mutex // serializes Start and Stop
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	ticks   atomic.Int64
	skipped atomic.Int64
}

// New returns a stopped Loop.
func New(name string, interval time.Duration, tick TickFunc, opts ...Option) *Loop {
	l := &Loop{name: name, interval: interval, tick: tick}
	for _, o := range opts {
		o(l)
	}
	if l.timeout <= 0 {
		l.timeout = interval
	}
	return l
}

// Start runs one tick synchronously and then schedules the rest on a
// goroutine. Calling Start on a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	if l.interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		if l.running.Load() {
			return nil
		}
		// The parent context ended the previous run; reap it before restarting.
		l.cancel()
		<-l.done
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running.Store(true)

	slog.Info("scheduler: loop started", "loop", l.name, "interval", l.interval)
	if l.onState != nil {
		l.onState(true)
	}

	l.runTick(loopCtx)
	go l.run(loopCtx, l.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight tick to return. No tick
// begins after Stop returns. Stopping a stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.running.Store(false)

	slog.Info("scheduler: loop stopped", "loop", l.name, "ticks", l.ticks.Load())
	if l.onState != nil {
		l.onState(false)
	}
}

// Running reports whether the loop is scheduled.
func (l *Loop) Running() bool { return l.running.Load() }

// Ticks returns the number of ticks executed so far.
func (l *Loop) Ticks() int64 { return l.ticks.Load() }

// Skipped returns the number of ticks dropped because a previous tick overran.
func (l *Loop) Skipped() int64 { return l.skipped.Load() }

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer l.running.Store(false)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// select picks randomly when both are ready.
			if ctx.Err() != nil {
				return
			}
			l.runTick(ctx)
		}
	}
}

func (l *Loop) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: tick panicked", "loop", l.name, "err", faults.Recovered(r))
		}
		l.ticks.Add(1)
		if elapsed := time.Since(start); elapsed > l.interval {
			missed := int64(elapsed / l.interval)
			l.skipped.Add(missed)
			slog.Warn("scheduler: tick overran interval",
				"loop", l.name,
				"elapsed", elapsed,
				"skipped", missed,
			)
		}
	}()
	l.tick(tickCtx)
}
