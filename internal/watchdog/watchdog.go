package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/autoheal/internal/faults"
	"github.com/obsidianstack/autoheal/internal/scheduler"
)

const (
	// DefaultInterval is the health check period when none is given.
	DefaultInterval = 60 * time.Second
	// DefaultRestartTimeout bounds one controller call.
	DefaultRestartTimeout = 5 * time.Second
	// DefaultHealthTimeout bounds one health check.
	DefaultHealthTimeout = 5 * time.Second
	// DefaultMaxRestarts applies to agents registered with MaxRestarts 0.
	DefaultMaxRestarts = 3
)

var (
	ErrUnknownAgent   = errors.New("watchdog: unknown agent")
	ErrDuplicateAgent = errors.New("watchdog: agent already registered")
)

// HealthChecker reports whether an agent is healthy. An error means the
// check itself failed and the agent's health is unknown.
type HealthChecker interface {
	IsHealthy(ctx context.Context, agent AgentProcess) (bool, error)
}

// Output is what a restart produced.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Controller restarts an agent. Implementations may exec a command, call an
// orchestrator API or anything else; the watchdog only sees the result.
type Controller interface {
	Restart(ctx context.Context, agent AgentProcess) (Output, error)
}

// Observer receives restart counters for export. A nil Observer is allowed.
type Observer interface {
	Restarted(agentID string, ok bool)
	MonitoringChanged(loop string, on bool)
}

// Options tunes a Watchdog. The zero value is usable.
type Options struct {
	RestartTimeout time.Duration
	HealthTimeout  time.Duration

	// AutoResetAfter clears an exhausted agent's budget once its last restart
	// is at least this old. Zero disables auto-reset.
	AutoResetAfter time.Duration

	Observer Observer
	Now      func() time.Time
}

// Snapshot is the result of Status.
type Snapshot struct {
	Monitoring bool           `json:"monitoring"`
	Agents     []AgentProcess `json:"agents"`
}

// Watchdog supervises registered agents, restarting unhealthy ones until
// their restart budget is spent.
//
// Check calls are serialized; each agent's state has its own lock.
// Watchdog is safe for concurrent use.
type Watchdog struct {
	health        HealthChecker
	ctl           Controller
	timeout       time.Duration
	healthTimeout time.Duration
	reset         time.Duration
	observer      Observer
	now           func() time.Time

	checkMu sync.Mutex

	mu     sync.RWMutex
	order  []string
	agents map[string]*agent

	loopMu sync.Mutex
	loop   atomic.Pointer[scheduler.Loop]
}

// New returns a Watchdog with no agents.
func New(health HealthChecker, ctl Controller, opts Options) *Watchdog {
	if opts.RestartTimeout <= 0 {
		opts.RestartTimeout = DefaultRestartTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watchdog{
		health:        health,
		ctl:           ctl,
		timeout:       opts.RestartTimeout,
		healthTimeout: opts.HealthTimeout,
		reset:         opts.AutoResetAfter,
		observer:      opts.Observer,
		now:           opts.Now,
		agents:        make(map[string]*agent),
	}
}

// Register adds an agent in the stopped state.
func (w *Watchdog) Register(cfg AgentConfig) error {
	if cfg.ID == "" {
		return errors.New("watchdog: agent id is required")
	}
	if cfg.MaxRestarts < 0 {
		return fmt.Errorf("watchdog: agent %s: max_restarts must not be negative", cfg.ID)
	}
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.agents[cfg.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, cfg.ID)
	}
	w.order = append(w.order, cfg.ID)
	w.agents[cfg.ID] = newAgent(cfg)
	slog.Info("watchdog: agent registered", "agent", cfg.ID, "max_restarts", cfg.MaxRestarts)
	return nil
}

// Has reports whether id is registered.
func (w *Watchdog) Has(id string) bool {
	_, err := w.get(id)
	return err == nil
}

func (w *Watchdog) get(id string) (*agent, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a, nil
}

func (w *Watchdog) list() []*agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*agent, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.agents[id])
	}
	return out
}

// MarkRunning records that the agent was started outside the watchdog.
func (w *Watchdog) MarkRunning(ctx context.Context, id string) error {
	a, err := w.get(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.proc.Status {
	case StatusRunning:
		return nil
	case StatusFailed:
		return a.fire(ctx, eventRecover)
	default:
		return a.fire(ctx, eventStart)
	}
}

// MarkStopped takes the agent out of supervision until it is marked running
// again. Stopped agents are not restarted.
func (w *Watchdog) MarkStopped(ctx context.Context, id string) error {
	a, err := w.get(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.proc.Status == StatusStopped {
		return nil
	}
	return a.fire(ctx, eventStop)
}

// StartAgent launches a stopped agent through the controller. The launch is
// not counted against the restart budget.
func (w *Watchdog) StartAgent(ctx context.Context, id string) error {
	a, err := w.get(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.proc.Status != StatusStopped {
		return nil
	}

	out, err := w.invoke(ctx, a.snapshot())
	if err != nil {
		slog.Error("watchdog: start failed", "agent", id, "stderr", out.Stderr, "err", err)
		return fmt.Errorf("watchdog: start %s: %w", id, err)
	}
	slog.Info("watchdog: agent started", "agent", id)
	return a.fire(ctx, eventStart)
}

// Reset clears the agent's restart budget. It is the only way out of the
// exhausted state unless auto-reset is configured.
func (w *Watchdog) Reset(id string) error {
	a, err := w.get(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	slog.Info("watchdog: restart budget reset", "agent", id)
	return nil
}

// Agent returns a copy of one agent.
func (w *Watchdog) Agent(id string) (AgentProcess, error) {
	a, err := w.get(id)
	if err != nil {
		return AgentProcess{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(), nil
}

// Status returns the monitoring flag and copies of every agent in
// registration order.
func (w *Watchdog) Status() Snapshot {
	agents := w.list()
	s := Snapshot{Monitoring: w.Monitoring(), Agents: make([]AgentProcess, 0, len(agents))}
	for _, a := range agents {
		a.mu.Lock()
		s.Agents = append(s.Agents, a.snapshot())
		a.mu.Unlock()
	}
	return s
}

// Check runs one tick over every agent in registration order. A failing
// health check or restart affects only its own agent.
//
// Every agent is visited even when ctx is already done: each health check
// and restart runs under its own timeout, detached from ctx's deadline and
// cancellation, so a slow agent cannot starve the ones after it.
func (w *Watchdog) Check(ctx context.Context) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	base := context.WithoutCancel(ctx)
	for _, a := range w.list() {
		w.checkAgent(base, a)
	}
}

func (w *Watchdog) checkAgent(ctx context.Context, a *agent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := &a.proc
	if w.reset > 0 && p.Exhausted && p.LastRestart != nil && w.now().Sub(*p.LastRestart) >= w.reset {
		slog.Info("watchdog: auto-reset restart budget", "agent", p.ID, "after", w.reset)
		a.reset()
	}

	healthy, err := w.isHealthy(ctx, a.snapshot())
	if err != nil {
		slog.Warn("watchdog: health check failed",
			"agent", p.ID,
			"err", &faults.AgentHealthCheckError{AgentID: p.ID, Err: err},
		)
		return
	}

	switch {
	case healthy && p.Status == StatusFailed:
		slog.Info("watchdog: agent recovered", "agent", p.ID)
		_ = a.fire(ctx, eventRecover)
		p.Exhausted = false
	case !healthy && p.Status == StatusRunning:
		slog.Warn("watchdog: agent unhealthy", "agent", p.ID)
		_ = a.fire(ctx, eventFail)
		w.restart(ctx, a)
	case !healthy && p.Status == StatusFailed:
		w.restart(ctx, a)
	}
}

// restart attempts one restart within the agent's budget. Callers hold a.mu.
func (w *Watchdog) restart(ctx context.Context, a *agent) {
	p := &a.proc
	if p.RestartCount >= p.MaxRestarts {
		if !p.Exhausted {
			p.Exhausted = true
			slog.Error("watchdog: giving up on agent until reset",
				"agent", p.ID,
				"err", &faults.RestartExhaustedError{AgentID: p.ID, MaxRestarts: p.MaxRestarts},
			)
		}
		return
	}

	p.RestartCount++
	now := w.now()
	p.LastRestart = &now

	out, err := w.invoke(ctx, a.snapshot())
	if err != nil {
		slog.Error("watchdog: restart failed",
			"agent", p.ID,
			"attempt", p.RestartCount,
			"max", p.MaxRestarts,
			"stderr", out.Stderr,
			"err", err,
		)
		if w.observer != nil {
			w.observer.Restarted(p.ID, false)
		}
		return
	}

	_ = a.fire(ctx, eventRecover)
	slog.Info("watchdog: agent restarted",
		"agent", p.ID,
		"attempt", p.RestartCount,
		"max", p.MaxRestarts,
	)
	if w.observer != nil {
		w.observer.Restarted(p.ID, true)
	}
}

func (w *Watchdog) isHealthy(ctx context.Context, p AgentProcess) (ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.healthTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, faults.Recovered(r)
		}
	}()
	return w.health.IsHealthy(ctx, p)
}

func (w *Watchdog) invoke(ctx context.Context, p AgentProcess) (out Output, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = faults.Recovered(r)
		}
	}()
	return w.ctl.Restart(ctx, p)
}

// Start begins periodic checks, running the first one before it returns.
// interval <= 0 selects DefaultInterval. Calling Start while monitoring is
// a no-op.
func (w *Watchdog) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	w.loopMu.Lock()
	defer w.loopMu.Unlock()

	if l := w.loop.Load(); l != nil && l.Running() {
		return nil
	}
	l := scheduler.New("watchdog", interval, w.Check, scheduler.WithStateHook(func(on bool) {
		if w.observer != nil {
			w.observer.MonitoringChanged("watchdog", on)
		}
	}))
	w.loop.Store(l)
	return l.Start(ctx)
}

// Stop ends periodic checks. No check runs after Stop returns.
func (w *Watchdog) Stop() {
	w.loopMu.Lock()
	defer w.loopMu.Unlock()
	if l := w.loop.Load(); l != nil {
		l.Stop()
	}
}

// Monitoring reports whether periodic checks are active.
func (w *Watchdog) Monitoring() bool {
	l := w.loop.Load()
	return l != nil && l.Running()
}
