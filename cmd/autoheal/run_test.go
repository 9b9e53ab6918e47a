package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/autoheal/internal/api"
	"github.com/obsidianstack/autoheal/internal/config"
	"github.com/obsidianstack/autoheal/internal/watchdog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "autoheal.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

// baseConfig returns a config with a static error rate high enough to fire
// the default high-error-rate rule, one extra rule, and one agent probed over
// HTTP at healthURL.
func baseConfig(t *testing.T, healthURL, extra string) *config.Config {
	t.Helper()
	db := filepath.Join(t.TempDir(), "alerts.db")
	p := writeConfig(t, fmt.Sprintf(`
metrics:
  type: static
  static:
    error_rate_percent: 12
alerts:
  interval: 1h
  rules:
    - id: busy
      condition: operations_total >= 0
      severity: info
      cooldown: 1h
watchdog:
  interval: 1h
  agents:
    - id: api
      command: "true"
      health:
        type: http
        target: %s
storage:
  backend: sqlite
  path: %s
%s`, healthURL, db, extra))
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	t.Cleanup(srv.Close)
	return srv
}

func newApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := build(cfg, io.Discard)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

func get(t *testing.T, h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuild_WiresRulesAgentsAndHistory(t *testing.T) {
	a := newApp(t, baseConfig(t, okServer(t).URL, ""))

	if n := a.dispatcher.Registry().Len(); n != 4 {
		t.Errorf("rules: got %d, want 4 (3 defaults + busy)", n)
	}
	if !a.watchdog.Has("api") {
		t.Fatal("agent api not registered")
	}

	fired, err := a.dispatcher.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(fired) != 2 {
		t.Fatalf("fired: got %d, want 2 (high-error-rate, busy)", len(fired))
	}

	rr := get(t, a.handler, "/api/v1/history", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history status: got %d, want 200", rr.Code)
	}
	var hist api.AlertsResponse
	if err := json.NewDecoder(rr.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hist.Count != 2 {
		t.Errorf("history count: got %d, want 2", hist.Count)
	}
}

func TestBringUp_MarksAgentsRunningAndChecksThem(t *testing.T) {
	a := newApp(t, baseConfig(t, okServer(t).URL, ""))
	a.bringUp(context.Background(), false)

	p, err := a.watchdog.Agent("api")
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if p.Status != watchdog.StatusRunning {
		t.Fatalf("status: got %q, want running", p.Status)
	}

	a.watchdog.Check(context.Background())
	p, _ = a.watchdog.Agent("api")
	if p.Status != watchdog.StatusRunning || p.RestartCount != 0 {
		t.Errorf("after healthy check: got %+v", p)
	}
}

func TestBuild_APIKeyAuth(t *testing.T) {
	t.Setenv("AUTOHEAL_TEST_KEY", "s3cret")
	cfg := baseConfig(t, okServer(t).URL, `
http:
  auth:
    mode: apikey
    key_env: AUTOHEAL_TEST_KEY
`)
	a := newApp(t, cfg)

	if rr := get(t, a.handler, "/api/v1/health", nil); rr.Code != http.StatusOK {
		t.Errorf("health without key: got %d, want 200", rr.Code)
	}
	if rr := get(t, a.handler, "/api/v1/stats", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("stats without key: got %d, want 401", rr.Code)
	}
	h := http.Header{}
	h.Set("X-API-Key", "s3cret")
	if rr := get(t, a.handler, "/api/v1/stats", h); rr.Code != http.StatusOK {
		t.Errorf("stats with key: got %d, want 200", rr.Code)
	}
}

func TestReload_UpdatesRulesAndAddsAgents(t *testing.T) {
	srv := okServer(t)
	a := newApp(t, baseConfig(t, srv.URL, ""))
	a.bringUp(context.Background(), false)
	if _, err := a.dispatcher.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	next := baseConfig(t, srv.URL, "")
	next.Alerts.Rules[0].Severity = "critical"
	next.Watchdog.Agents = append(next.Watchdog.Agents, config.Agent{
		ID:      "worker",
		Name:    "worker",
		Command: "true",
		Health:  config.HealthConfig{Type: "http", Target: srv.URL},
	})
	a.reload(context.Background(), next, false)

	rule, ok := a.dispatcher.Registry().Get("busy")
	if !ok {
		t.Fatal("rule busy missing after reload")
	}
	if rule.Severity != "critical" {
		t.Errorf("severity: got %q, want critical", rule.Severity)
	}
	if rule.LastTriggered == nil {
		t.Error("last_triggered: cooldown state lost on reload")
	}

	p, err := a.watchdog.Agent("worker")
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if p.Status != watchdog.StatusRunning {
		t.Errorf("new agent status: got %q, want running", p.Status)
	}
	if n := len(a.watchdog.Status().Agents); n != 2 {
		t.Errorf("agents: got %d, want 2", n)
	}
}

func TestValidateCommand(t *testing.T) {
	p := writeConfig(t, `
alerts:
  include_defaults: false
  rules:
    - id: mem
      condition: memory_usage_mb > 256
watchdog:
  agents:
    - id: web
      command: systemctl restart web
`)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "--config", p})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	got := out.String()
	for _, want := range []string{"rules:   1", "mem", "memory_usage_mb > 256", "agents:  1", "web"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestValidateCommand_BadCondition(t *testing.T) {
	p := writeConfig(t, `
alerts:
  rules:
    - id: bad
      condition: cpu_temp > 90
`)
	rootCmd.SetOut(io.Discard)
	rootCmd.SetArgs([]string{"validate", "--config", p})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err == nil {
		t.Error("validate: got nil error for unknown metric, want error")
	}
}

func TestPrintStatus(t *testing.T) {
	last := time.Now().Add(-time.Minute)
	var out bytes.Buffer
	printStatus(&out, api.StatsResponse{}, watchdog.Snapshot{
		Monitoring: true,
		Agents: []watchdog.AgentProcess{
			{ID: "web", Status: watchdog.StatusRunning, MaxRestarts: 3},
			{ID: "queue", Status: watchdog.StatusFailed, RestartCount: 3, MaxRestarts: 3, LastRestart: &last, Exhausted: true},
		},
	})
	got := out.String()
	for _, want := range []string{"web", "queue", "restarts 3/3", "exhausted, needs reset"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
