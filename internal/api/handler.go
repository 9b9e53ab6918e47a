package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/telemetry"
	"github.com/obsidianstack/autoheal/internal/watchdog"
)

// History returns persisted alerts, oldest first.
type History interface {
	Recent(ctx context.Context, limit int) ([]alerts.Alert, error)
}

// Deps are the components the API reads from. History and Telemetry may be
// nil.
type Deps struct {
	Dispatcher *alerts.Dispatcher
	Watchdog   *watchdog.Watchdog
	History    History
	Telemetry  *telemetry.Metrics
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates a Handler wired to deps and registers all routes.
func New(deps Deps) http.Handler {
	h := &Handler{deps: deps, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/history", h.history)
	h.mux.HandleFunc("/api/v1/stats", h.stats)
	h.mux.HandleFunc("/api/v1/rules", h.listRules)
	h.mux.HandleFunc("/api/v1/rules/", h.ruleAction) // subtree: {id}/reset
	h.mux.HandleFunc("/api/v1/agents", h.listAgents)
	h.mux.HandleFunc("/api/v1/agents/", h.agent) // subtree: {id} and {id}/reset
	if deps.Telemetry != nil {
		h.mux.Handle("/metrics", deps.Telemetry.Handler())
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.deps.Watchdog.Status()
	resp := HealthResponse{
		Status:             "ok",
		AlertsMonitoring:   h.deps.Dispatcher.Monitoring(),
		WatchdogMonitoring: snap.Monitoring,
		RuleCount:          h.deps.Dispatcher.Registry().Len(),
		AgentCount:         len(snap.Agents),
	}
	for _, a := range snap.Agents {
		if a.Status == watchdog.StatusFailed {
			resp.FailedAgents++
		}
		if a.Exhausted {
			resp.ExhaustedAgents++
		}
	}
	if resp.FailedAgents > 0 {
		resp.Status = "degraded"
	}
	jsonResp(w, http.StatusOK, resp)
}

// alerts returns GET /api/v1/alerts: the in-memory log, oldest first.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	list := h.deps.Dispatcher.Alerts(limit)
	jsonResp(w, http.StatusOK, AlertsResponse{Alerts: nonNil(list), Count: len(list)})
}

// history returns GET /api/v1/history: alerts persisted by the store.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.History == nil {
		jsonErr(w, http.StatusNotFound, "alert history is not enabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	list, err := h.deps.History.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("api: read history", "err", err)
		jsonErr(w, http.StatusInternalServerError, "could not read alert history")
		return
	}
	jsonResp(w, http.StatusOK, AlertsResponse{Alerts: nonNil(list), Count: len(list)})
}

// stats returns GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.deps.Watchdog.Status()
	ws := WatchdogStats{
		Monitoring: snap.Monitoring,
		Agents:     len(snap.Agents),
		ByStatus: map[watchdog.Status]int{
			watchdog.StatusStopped: 0,
			watchdog.StatusRunning: 0,
			watchdog.StatusFailed:  0,
		},
	}
	for _, a := range snap.Agents {
		ws.ByStatus[a.Status]++
		ws.Restarts += a.RestartCount
		if a.Exhausted {
			ws.Exhausted++
		}
	}

	resp := StatsResponse{Alerts: h.deps.Dispatcher.Stats(), Watchdog: ws}
	if h.deps.Telemetry != nil {
		t := h.deps.Telemetry.Snapshot()
		resp.Telemetry = &t
	}
	jsonResp(w, http.StatusOK, resp)
}

// listRules returns GET /api/v1/rules.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rules := h.deps.Dispatcher.Registry().Rules()
	out := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	jsonResp(w, http.StatusOK, out)
}

// ruleAction handles POST /api/v1/rules/{id}/reset.
func (h *Handler) ruleAction(w http.ResponseWriter, r *http.Request) {
	id, action := splitID(r.URL.Path, "/api/v1/rules/")
	if id == "" || action != "reset" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	reg := h.deps.Dispatcher.Registry()
	if err := reg.ResetRule(id); err != nil {
		if errors.Is(err, alerts.ErrUnknownRule) {
			jsonErr(w, http.StatusNotFound, "rule not found")
			return
		}
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	rule, _ := reg.Get(id)
	jsonResp(w, http.StatusOK, toRuleResponse(rule))
}

// listAgents returns GET /api/v1/agents.
func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Watchdog.Status())
}

// agent handles GET /api/v1/agents/{id} and POST /api/v1/agents/{id}/reset.
func (h *Handler) agent(w http.ResponseWriter, r *http.Request) {
	id, action := splitID(r.URL.Path, "/api/v1/agents/")
	if id == "" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	case "reset":
		if r.Method != http.MethodPost {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := h.deps.Watchdog.Reset(id); err != nil {
			agentErr(w, err)
			return
		}
	default:
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}

	p, err := h.deps.Watchdog.Agent(id)
	if err != nil {
		agentErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func agentErr(w http.ResponseWriter, err error) {
	if errors.Is(err, watchdog.ErrUnknownAgent) {
		jsonErr(w, http.StatusNotFound, "agent not found")
		return
	}
	jsonErr(w, http.StatusInternalServerError, err.Error())
}

// parseLimit reads ?limit=. Missing means 0 (everything). It writes a 400
// and returns false on a malformed or negative value.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// splitID turns "/prefix/{id}/{action}" into id and action.
func splitID(path, prefix string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ = strings.Cut(rest, "/")
	return id, action
}

func toRuleResponse(r alerts.Rule) RuleResponse {
	resp := RuleResponse{
		ID:            r.ID,
		Name:          r.Name,
		Severity:      string(r.Severity),
		Message:       r.Message,
		Cooldown:      r.Cooldown.String(),
		LastTriggered: r.LastTriggered,
		Channels:      make([]string, 0, len(r.Channels)),
	}
	if r.Condition != nil {
		resp.Condition = r.Condition.String()
	}
	for _, c := range r.Channels {
		resp.Channels = append(resp.Channels, string(c))
	}
	return resp
}

func nonNil(list []alerts.Alert) []alerts.Alert {
	if list == nil {
		return []alerts.Alert{}
	}
	return list
}
