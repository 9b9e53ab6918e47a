package api

import (
	"time"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/telemetry"
	"github.com/obsidianstack/autoheal/internal/watchdog"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status             string `json:"status"`
	AlertsMonitoring   bool   `json:"alerts_monitoring"`
	WatchdogMonitoring bool   `json:"watchdog_monitoring"`
	RuleCount          int    `json:"rule_count"`
	AgentCount         int    `json:"agent_count"`
	FailedAgents       int    `json:"failed_agents"`
	ExhaustedAgents    int    `json:"exhausted_agents"`
}

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	Alerts    alerts.Stats     `json:"alerts"`
	Watchdog  WatchdogStats    `json:"watchdog"`
	Telemetry *telemetry.Stats `json:"telemetry,omitempty"`
}

// WatchdogStats counts agents per status.
type WatchdogStats struct {
	Monitoring bool                    `json:"monitoring"`
	Agents     int                     `json:"agents"`
	ByStatus   map[watchdog.Status]int `json:"by_status"`
	Restarts   int                     `json:"restarts"`
	Exhausted  int                     `json:"exhausted"`
}

// RuleResponse is one entry in GET /api/v1/rules.
type RuleResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Condition     string     `json:"condition"`
	Severity      string     `json:"severity"`
	Message       string     `json:"message,omitempty"`
	Cooldown      string     `json:"cooldown"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	Channels      []string   `json:"channels"`
}

// AlertsResponse wraps alert lists so the envelope can grow.
type AlertsResponse struct {
	Alerts []alerts.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}
