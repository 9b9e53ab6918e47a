package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHealth answers from a per-agent table. Agents missing from the table
// are healthy; agents in errs fail the check itself.
type fakeHealth struct {
	mu      sync.Mutex
	healthy map[string]bool
	errs    map[string]error
	calls   []string
}

func newFakeHealth() *fakeHealth {
	return &fakeHealth{healthy: map[string]bool{}, errs: map[string]error{}}
}

func (h *fakeHealth) set(id string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy[id] = ok
}

func (h *fakeHealth) IsHealthy(_ context.Context, a AgentProcess) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, a.ID)
	if err := h.errs[a.ID]; err != nil {
		return false, err
	}
	ok, found := h.healthy[a.ID]
	return !found || ok, nil
}

// fakeController records restarts and fails or panics for selected agents.
type fakeController struct {
	mu     sync.Mutex
	calls  map[string]int
	fail   map[string]bool
	panics map[string]bool
}

func newFakeController() *fakeController {
	return &fakeController{calls: map[string]int{}, fail: map[string]bool{}, panics: map[string]bool{}}
}

func (c *fakeController) Restart(_ context.Context, a AgentProcess) (Output, error) {
	c.mu.Lock()
	c.calls[a.ID]++
	fail, boom := c.fail[a.ID], c.panics[a.ID]
	c.mu.Unlock()
	if boom {
		panic("controller crashed")
	}
	if fail {
		return Output{Stderr: "exit status 1"}, errors.New("restart command failed")
	}
	return Output{Stdout: "ok"}, nil
}

func (c *fakeController) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, opts Options, agents ...AgentConfig) (*Watchdog, *fakeHealth, *fakeController) {
	t.Helper()
	h, c := newFakeHealth(), newFakeController()
	w := New(h, c, opts)
	for _, a := range agents {
		require.NoError(t, w.Register(a))
		require.NoError(t, w.MarkRunning(context.Background(), a.ID))
	}
	return w, h, c
}

func TestRegister(t *testing.T) {
	w := New(newFakeHealth(), newFakeController(), Options{})
	require.NoError(t, w.Register(AgentConfig{ID: "a", Command: "run-a"}))

	p, err := w.Agent("a")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, p.Status)
	assert.Zero(t, p.RestartCount)
	assert.Nil(t, p.LastRestart)
	assert.Equal(t, DefaultMaxRestarts, p.MaxRestarts)
	assert.Equal(t, "a", p.Name)

	assert.ErrorIs(t, w.Register(AgentConfig{ID: "a"}), ErrDuplicateAgent)
	assert.Error(t, w.Register(AgentConfig{}))
	assert.Error(t, w.Register(AgentConfig{ID: "b", MaxRestarts: -1}))
	_, err = w.Agent("missing")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestCheck_RestartCap(t *testing.T) {
	clk := &fixedClock{t: t0}
	w, h, c := setup(t, Options{Now: clk.now}, AgentConfig{ID: "worker", MaxRestarts: 2})
	h.set("worker", false)

	for i := 0; i < 3; i++ {
		clk.advance(time.Minute)
		w.Check(context.Background())
	}

	p, _ := w.Agent("worker")
	assert.Equal(t, 2, p.RestartCount)
	assert.Equal(t, StatusFailed, p.Status)
	assert.True(t, p.Exhausted)
	assert.Equal(t, 2, c.count("worker"), "controller must be called exactly twice")
	require.NotNil(t, p.LastRestart)
	assert.Equal(t, t0.Add(2*time.Minute), *p.LastRestart)

	w.Check(context.Background())
	assert.Equal(t, 2, c.count("worker"), "exhausted agent is never restarted again")
}

func TestCheck_FailingControllerLeavesAgentFailed(t *testing.T) {
	w, h, c := setup(t, Options{}, AgentConfig{ID: "worker", MaxRestarts: 2})
	h.set("worker", false)
	c.fail["worker"] = true

	for i := 0; i < 3; i++ {
		w.Check(context.Background())
	}

	p, _ := w.Agent("worker")
	assert.Equal(t, 2, p.RestartCount)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, 2, c.count("worker"))
}

func TestReset_ReenablesRestarts(t *testing.T) {
	w, h, c := setup(t, Options{}, AgentConfig{ID: "worker", MaxRestarts: 1})
	h.set("worker", false)
	c.fail["worker"] = true

	w.Check(context.Background())
	w.Check(context.Background())
	require.Equal(t, 1, c.count("worker"))

	require.NoError(t, w.Reset("worker"))
	p, _ := w.Agent("worker")
	assert.Zero(t, p.RestartCount)
	assert.Nil(t, p.LastRestart)
	assert.False(t, p.Exhausted)

	w.Check(context.Background())
	assert.Equal(t, 2, c.count("worker"), "a reset agent gets a fresh restart attempt")
	p, _ = w.Agent("worker")
	assert.Equal(t, 1, p.RestartCount)

	assert.ErrorIs(t, w.Reset("missing"), ErrUnknownAgent)
}

func TestCheck_IsolatesFailingAgents(t *testing.T) {
	w, h, c := setup(t, Options{},
		AgentConfig{ID: "crashy"},
		AgentConfig{ID: "flaky"},
		AgentConfig{ID: "broken-probe"},
		AgentConfig{ID: "steady"},
	)
	h.set("crashy", false)
	h.set("flaky", false)
	h.set("steady", false)
	h.errs["broken-probe"] = errors.New("probe timed out")
	c.panics["crashy"] = true
	c.fail["flaky"] = true

	w.Check(context.Background())

	assert.Equal(t, []string{"crashy", "flaky", "broken-probe", "steady"}, h.calls, "agents are checked in registration order")
	assert.Equal(t, 1, c.count("crashy"))
	assert.Equal(t, 1, c.count("flaky"))
	assert.Equal(t, 0, c.count("broken-probe"))
	assert.Equal(t, 1, c.count("steady"))

	steady, _ := w.Agent("steady")
	assert.Equal(t, StatusRunning, steady.Status, "steady restarted despite earlier failures in the tick")
	crashy, _ := w.Agent("crashy")
	assert.Equal(t, StatusFailed, crashy.Status)
	probe, _ := w.Agent("broken-probe")
	assert.Equal(t, StatusRunning, probe.Status, "a failed health check is not a transition")
}

func TestCheck_ExternalRecovery(t *testing.T) {
	w, h, c := setup(t, Options{}, AgentConfig{ID: "worker", MaxRestarts: 1})
	h.set("worker", false)
	c.fail["worker"] = true
	w.Check(context.Background())

	p, _ := w.Agent("worker")
	require.Equal(t, StatusFailed, p.Status)

	h.set("worker", true)
	w.Check(context.Background())
	p, _ = w.Agent("worker")
	assert.Equal(t, StatusRunning, p.Status)
	assert.Equal(t, 1, p.RestartCount, "recovery does not refund the budget")
}

func TestCheck_StoppedAgentsAreLeftAlone(t *testing.T) {
	h, c := newFakeHealth(), newFakeController()
	w := New(h, c, Options{})
	require.NoError(t, w.Register(AgentConfig{ID: "idle"}))
	h.set("idle", false)

	w.Check(context.Background())
	p, _ := w.Agent("idle")
	assert.Equal(t, StatusStopped, p.Status)
	assert.Zero(t, c.count("idle"))
}

func TestCheck_AutoReset(t *testing.T) {
	clk := &fixedClock{t: t0}
	w, h, c := setup(t, Options{Now: clk.now, AutoResetAfter: time.Hour}, AgentConfig{ID: "worker", MaxRestarts: 1})
	h.set("worker", false)
	c.fail["worker"] = true

	w.Check(context.Background())
	w.Check(context.Background())
	p, _ := w.Agent("worker")
	require.True(t, p.Exhausted)
	require.Equal(t, 1, c.count("worker"))

	clk.advance(59 * time.Minute)
	w.Check(context.Background())
	assert.Equal(t, 1, c.count("worker"), "still inside the auto-reset window")

	clk.advance(time.Minute)
	w.Check(context.Background())
	assert.Equal(t, 2, c.count("worker"))
	p, _ = w.Agent("worker")
	assert.Equal(t, 1, p.RestartCount)
}

func TestStartAgent(t *testing.T) {
	h, c := newFakeHealth(), newFakeController()
	w := New(h, c, Options{})
	require.NoError(t, w.Register(AgentConfig{ID: "a"}))

	require.NoError(t, w.StartAgent(context.Background(), "a"))
	p, _ := w.Agent("a")
	assert.Equal(t, StatusRunning, p.Status)
	assert.Zero(t, p.RestartCount, "initial start is not a restart")
	assert.Equal(t, 1, c.count("a"))

	require.NoError(t, w.MarkStopped(context.Background(), "a"))
	p, _ = w.Agent("a")
	assert.Equal(t, StatusStopped, p.Status)

	c.fail["a"] = true
	assert.Error(t, w.StartAgent(context.Background(), "a"))
	p, _ = w.Agent("a")
	assert.Equal(t, StatusStopped, p.Status)
}

func TestInvoke_AppliesTimeout(t *testing.T) {
	h := newFakeHealth()
	var sawDeadline bool
	ctl := controllerFunc(func(ctx context.Context, _ AgentProcess) (Output, error) {
		_, sawDeadline = ctx.Deadline()
		return Output{}, nil
	})
	w := New(h, ctl, Options{RestartTimeout: time.Second})
	require.NoError(t, w.Register(AgentConfig{ID: "a"}))
	require.NoError(t, w.MarkRunning(context.Background(), "a"))
	h.set("a", false)

	w.Check(context.Background())
	assert.True(t, sawDeadline)
}

type controllerFunc func(context.Context, AgentProcess) (Output, error)

func (f controllerFunc) Restart(ctx context.Context, a AgentProcess) (Output, error) { return f(ctx, a) }

func TestStatusAndMonitoring(t *testing.T) {
	w, _, _ := setup(t, Options{}, AgentConfig{ID: "b"}, AgentConfig{ID: "a"})

	s := w.Status()
	assert.False(t, s.Monitoring)
	require.Len(t, s.Agents, 2)
	assert.Equal(t, "b", s.Agents[0].ID)
	assert.Equal(t, "a", s.Agents[1].ID)

	require.NoError(t, w.Start(context.Background(), time.Hour))
	require.NoError(t, w.Start(context.Background(), time.Hour))
	assert.True(t, w.Status().Monitoring)

	w.Stop()
	w.Stop()
	assert.False(t, w.Status().Monitoring)
}

// blockingController holds every restart until its context ends.
type blockingController struct {
	mu       sync.Mutex
	calls    []string
	liveAtIn int // restarts whose context was still live on entry
}

func (c *blockingController) Restart(ctx context.Context, a AgentProcess) (Output, error) {
	c.mu.Lock()
	c.calls = append(c.calls, a.ID)
	if ctx.Err() == nil {
		c.liveAtIn++
	}
	c.mu.Unlock()
	<-ctx.Done()
	return Output{}, ctx.Err()
}

func TestCheck_SlowRestartsDoNotStarveLaterAgents(t *testing.T) {
	h := newFakeHealth()
	ctl := &blockingController{}
	w := New(h, ctl, Options{RestartTimeout: 40 * time.Millisecond})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, w.Register(AgentConfig{ID: id}))
		require.NoError(t, w.MarkRunning(context.Background(), id))
		h.set(id, false)
	}

	// The tick's own deadline is shorter than the three restarts together.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Check(ctx)

	assert.Equal(t, []string{"a", "b", "c"}, h.calls)
	assert.Equal(t, []string{"a", "b", "c"}, ctl.calls)
	assert.Equal(t, 3, ctl.liveAtIn, "every restart gets its own full timeout")
	for _, id := range []string{"a", "b", "c"} {
		p, err := w.Agent(id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, p.Status, id)
		assert.Equal(t, 1, p.RestartCount, id)
	}
}

func TestCheck_CancelledContextStillVisitsEveryAgent(t *testing.T) {
	w, h, c := setup(t, Options{}, AgentConfig{ID: "a"}, AgentConfig{ID: "b"})
	h.set("b", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Check(ctx)

	assert.Equal(t, []string{"a", "b"}, h.calls)
	assert.Equal(t, 1, c.count("b"))
}

type healthFunc func(context.Context, AgentProcess) (bool, error)

func (f healthFunc) IsHealthy(ctx context.Context, a AgentProcess) (bool, error) { return f(ctx, a) }

func TestCheck_HealthCheckTimeout(t *testing.T) {
	var mu sync.Mutex
	var checked []string
	hc := healthFunc(func(ctx context.Context, a AgentProcess) (bool, error) {
		mu.Lock()
		checked = append(checked, a.ID)
		mu.Unlock()
		if a.ID == "stuck" {
			<-ctx.Done()
			return false, ctx.Err()
		}
		return false, nil
	})
	ctl := newFakeController()
	w := New(hc, ctl, Options{HealthTimeout: 20 * time.Millisecond})
	for _, id := range []string{"stuck", "next"} {
		require.NoError(t, w.Register(AgentConfig{ID: id}))
		require.NoError(t, w.MarkRunning(context.Background(), id))
	}

	start := time.Now()
	w.Check(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, []string{"stuck", "next"}, checked)
	p, _ := w.Agent("stuck")
	assert.Equal(t, StatusRunning, p.Status, "a check that times out leaves the agent untouched")
	assert.Equal(t, 0, ctl.count("stuck"))
	assert.Equal(t, 1, ctl.count("next"))
}
