package alerts

import (
	"fmt"
	"time"

	"github.com/obsidianstack/autoheal/internal/config"
	"github.com/obsidianstack/autoheal/internal/metrics"
)

// Rule binds a condition to an alert definition.
type Rule struct {
	ID        string
	Name      string
	Condition Condition
	Severity  Severity
	Message   string
	Cooldown  time.Duration

	// LastTriggered is nil until the rule first fires. Only the dispatcher
	// sets it; ResetRule clears it.
	LastTriggered *time.Time

	Channels []ChannelKind
}

// inCooldown reports whether the rule fired less than Cooldown ago.
func (r Rule) inCooldown(now time.Time) bool {
	if r.LastTriggered == nil || r.Cooldown <= 0 {
		return false
	}
	return now.Sub(*r.LastTriggered) < r.Cooldown
}

// clone returns a copy that shares no mutable state with r.
func (r Rule) clone() Rule {
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		r.LastTriggered = &t
	}
	r.Channels = append([]ChannelKind(nil), r.Channels...)
	return r
}

// DefaultRules returns the built-in error-rate, memory and latency rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:        "high-error-rate",
			Name:      "High error rate",
			Condition: Threshold{Metric: metrics.ErrorRatePercent, Op: ">", Value: 5},
			Severity:  SeverityCritical,
			Message:   "Error rate is above 5%",
			Cooldown:  30 * time.Minute,
			Channels:  []ChannelKind{ChannelConsole},
		},
		{
			ID:        "high-memory",
			Name:      "High memory usage",
			Condition: Threshold{Metric: metrics.MemoryUsageMB, Op: ">", Value: 512},
			Severity:  SeverityWarning,
			Message:   "Memory usage is above 512MB",
			Cooldown:  60 * time.Minute,
			Channels:  []ChannelKind{ChannelConsole},
		},
		{
			ID:        "slow-response",
			Name:      "Slow response time",
			Condition: Threshold{Metric: metrics.AvgResponseTimeMs, Op: ">", Value: 100},
			Severity:  SeverityWarning,
			Message:   "Average response time is above 100ms",
			Cooldown:  30 * time.Minute,
			Channels:  []ChannelKind{ChannelConsole},
		},
	}
}

// RulesFromConfig builds the rule set described by cfg, defaults first when
// IncludeDefaults is set.
func RulesFromConfig(cfg config.AlertsConfig) ([]Rule, error) {
	var out []Rule
	if cfg.IncludeDefaults {
		out = append(out, DefaultRules()...)
	}
	for i, rc := range cfg.Rules {
		cond, err := ParseCondition(rc.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts.rules[%d] (%s): %w", i, rc.ID, err)
		}
		sev, err := ParseSeverity(rc.Severity)
		if err != nil {
			return nil, fmt.Errorf("alerts.rules[%d] (%s): %w", i, rc.ID, err)
		}
		kinds := make([]ChannelKind, 0, len(rc.Channels))
		for _, c := range rc.Channels {
			k, err := ParseChannelKind(c)
			if err != nil {
				return nil, fmt.Errorf("alerts.rules[%d] (%s): %w", i, rc.ID, err)
			}
			kinds = append(kinds, k)
		}
		out = append(out, Rule{
			ID:        rc.ID,
			Name:      rc.Name,
			Condition: cond,
			Severity:  sev,
			Message:   rc.Message,
			Cooldown:  rc.Cooldown,
			Channels:  kinds,
		})
	}
	return out, nil
}
