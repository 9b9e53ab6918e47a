package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/obsidianstack/autoheal/internal/config"
	"github.com/obsidianstack/autoheal/internal/watchdog"
)

const defaultTimeout = 5 * time.Second

// Process reports an agent healthy when a live, non-zombie process with
// the target name exists.
type Process struct {
	Target string
}

func (p Process) IsHealthy(ctx context.Context, agent watchdog.AgentProcess) (bool, error) {
	target := p.Target
	if target == "" {
		target = agent.Name
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil || name != target {
			continue
		}
		if zombie(ctx, proc) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func zombie(ctx context.Context, p *process.Process) bool {
	st, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range st {
		if s == process.Zombie {
			return true
		}
	}
	return false
}

// HTTP reports an agent healthy when a GET to URL answers 2xx. A refused or
// timed-out request counts as unhealthy, not as a failed check.
type HTTP struct {
	URL    string
	Client *http.Client
}

// NewHTTP returns an HTTP checker with a bounded client timeout.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTP{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (h *HTTP) IsHealthy(ctx context.Context, _ watchdog.AgentProcess) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// Func adapts a plain function to watchdog.HealthChecker.
type Func func(ctx context.Context, agent watchdog.AgentProcess) (bool, error)

func (f Func) IsHealthy(ctx context.Context, agent watchdog.AgentProcess) (bool, error) {
	return f(ctx, agent)
}

// Mux routes each agent to its own checker.
//
// Mux is safe for concurrent use.
type Mux struct {
	mu       sync.RWMutex
	checkers map[string]watchdog.HealthChecker
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{checkers: make(map[string]watchdog.HealthChecker)}
}

// Handle sets the checker for agent id.
func (m *Mux) Handle(id string, c watchdog.HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[id] = c
}

func (m *Mux) IsHealthy(ctx context.Context, agent watchdog.AgentProcess) (bool, error) {
	m.mu.RLock()
	c, ok := m.checkers[agent.ID]
	m.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no health checker for agent %s", agent.ID)
	}
	return c.IsHealthy(ctx, agent)
}

// FromConfig builds the checker an agent's health section describes.
func FromConfig(hc config.HealthConfig) (watchdog.HealthChecker, error) {
	switch strings.ToLower(hc.Type) {
	case "", "process":
		return Process{Target: hc.Target}, nil
	case "http":
		if hc.Target == "" {
			return nil, fmt.Errorf("http health check: target url is required")
		}
		return NewHTTP(hc.Target, hc.Timeout), nil
	case "tls":
		c, err := NewTLS(hc.Target, hc.MinValidity, hc.Timeout, hc.InsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown health check type %q", hc.Type)
	}
}
