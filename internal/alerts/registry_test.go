package alerts

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/autoheal/internal/config"
	"github.com/obsidianstack/autoheal/internal/metrics"
)

func TestRegistry_KeepPositionOverwrite(t *testing.T) {
	g := NewRegistry(KeepPosition)
	require.NoError(t, g.Register(Rule{ID: "a", Condition: always(), Message: "first"}))
	require.NoError(t, g.Register(Rule{ID: "b", Condition: always()}))

	fired := t0
	g.markTriggered("a", fired)

	require.NoError(t, g.Register(Rule{ID: "a", Condition: always(), Message: "second", Severity: SeverityCritical}))

	rules := g.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].ID, "overwritten rule keeps its original slot")
	assert.Equal(t, "second", rules[0].Message)
	assert.Equal(t, SeverityCritical, rules[0].Severity)
	require.NotNil(t, rules[0].LastTriggered, "overwrite keeps cooldown state")
	assert.Equal(t, fired, *rules[0].LastTriggered)
}

func TestRegistry_RejectOverwrite(t *testing.T) {
	g := NewRegistry(Reject)
	require.NoError(t, g.Register(Rule{ID: "a", Condition: always(), Message: "first"}))

	err := g.Register(Rule{ID: "a", Condition: always(), Message: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateRule))

	r, ok := g.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", r.Message)
	assert.Equal(t, 1, g.Len())
}

func TestRegistry_Defaults(t *testing.T) {
	g := NewRegistry(KeepPosition)
	require.NoError(t, g.Register(Rule{ID: "x", Condition: always()}))
	r, _ := g.Get("x")
	assert.Equal(t, "x", r.Name)
	assert.Equal(t, SeverityWarning, r.Severity)
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	g := NewRegistry(KeepPosition)
	assert.Error(t, g.Register(Rule{Condition: always()}), "missing id")
	assert.Error(t, g.Register(Rule{ID: "x"}), "missing condition")
	assert.Error(t, g.Register(Rule{ID: "x", Condition: always(), Cooldown: -time.Second}), "negative cooldown")
	assert.Zero(t, g.Len())
}

func TestRegistry_RulesAreCopies(t *testing.T) {
	g := NewRegistry(KeepPosition)
	require.NoError(t, g.Register(Rule{ID: "a", Condition: always(), Channels: []ChannelKind{ChannelConsole}}))
	g.markTriggered("a", t0)

	rules := g.Rules()
	rules[0].Channels[0] = ChannelWebhook
	*rules[0].LastTriggered = t0.Add(time.Hour)

	r, _ := g.Get("a")
	assert.Equal(t, ChannelConsole, r.Channels[0])
	assert.Equal(t, t0, *r.LastTriggered)
}

func TestRegistry_ResetRule(t *testing.T) {
	g := NewRegistry(KeepPosition)
	require.NoError(t, g.Register(Rule{ID: "a", Condition: always()}))
	g.markTriggered("a", t0)

	require.NoError(t, g.ResetRule("a"))
	r, _ := g.Get("a")
	assert.Nil(t, r.LastTriggered)

	assert.ErrorIs(t, g.ResetRule("missing"), ErrUnknownRule)
}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition("memory_usage_mb >= 512")
	require.NoError(t, err)
	assert.Equal(t, Threshold{Metric: metrics.MemoryUsageMB, Op: ">=", Value: 512}, c)
	assert.Equal(t, "memory_usage_mb >= 512", c.String())
	assert.True(t, c.Eval(metrics.Snapshot{MemoryUsageMB: 512}))
	assert.False(t, c.Eval(metrics.Snapshot{MemoryUsageMB: 511.9}))

	for _, bad := range []string{
		"",
		"memory_usage_mb > ",
		"cpu_pct > 5",
		"memory_usage_mb => 5",
		"memory_usage_mb > lots",
	} {
		_, err := ParseCondition(bad)
		assert.Error(t, err, "ParseCondition(%q)", bad)
	}
}

func TestCondition_Kinds(t *testing.T) {
	conds := []Condition{
		Threshold{Metric: metrics.ErrorRatePercent, Op: ">", Value: 5},
		Match(PredicateFunc(func(s metrics.Snapshot) bool { return s.OperationsTotal > 0 })),
		Custom{},
	}
	var thresholds, customs int
	for _, c := range conds {
		switch c.(type) {
		case Threshold:
			thresholds++
		case Custom:
			customs++
		}
	}
	assert.Equal(t, 1, thresholds)
	assert.Equal(t, 2, customs)
	assert.False(t, Custom{}.Eval(metrics.Snapshot{}), "nil predicate never fires")
	assert.False(t, Threshold{Metric: "nope", Op: ">", Value: -1}.Eval(metrics.Snapshot{}))
}

func TestRulesFromConfig(t *testing.T) {
	cfg := config.AlertsConfig{
		IncludeDefaults: true,
		Rules: []config.AlertRule{{
			ID: "ops-stalled", Name: "Operations stalled", Condition: "operations_total == 0",
			Severity: "info", Cooldown: 5 * time.Minute, Channels: []string{"webhook", "console"},
		}},
	}
	rules, err := RulesFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.Equal(t, []string{"high-error-rate", "high-memory", "slow-response", "ops-stalled"},
		[]string{rules[0].ID, rules[1].ID, rules[2].ID, rules[3].ID})

	last := rules[3]
	assert.Equal(t, SeverityInfo, last.Severity)
	assert.Equal(t, []ChannelKind{ChannelWebhook, ChannelConsole}, last.Channels)
	assert.Equal(t, Threshold{Metric: metrics.OperationsTotal, Op: "==", Value: 0}, last.Condition)

	cfg.Rules[0].Channels = []string{"pager"}
	_, err = RulesFromConfig(cfg)
	assert.Error(t, err)
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 3)

	want := []struct {
		id       string
		sev      Severity
		cooldown time.Duration
		cond     string
	}{
		{"high-error-rate", SeverityCritical, 30 * time.Minute, "error_rate_percent > 5"},
		{"high-memory", SeverityWarning, 60 * time.Minute, "memory_usage_mb > 512"},
		{"slow-response", SeverityWarning, 30 * time.Minute, "avg_response_time_ms > 100"},
	}
	for i, w := range want {
		assert.Equal(t, w.id, rules[i].ID)
		assert.Equal(t, w.sev, rules[i].Severity)
		assert.Equal(t, w.cooldown, rules[i].Cooldown)
		assert.Equal(t, w.cond, rules[i].Condition.String())
	}
}

func TestAlertLog_Ring(t *testing.T) {
	l := NewAlertLog(3)
	assert.Empty(t, l.Recent(0))
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		l.Append(Alert{ID: id})
	}
	ids := func(as []Alert) []string {
		out := make([]string, len(as))
		for i, a := range as {
			out[i] = a.ID
		}
		return out
	}
	assert.Equal(t, []string{"3", "4", "5"}, ids(l.Recent(0)))
	assert.Equal(t, []string{"4", "5"}, ids(l.Recent(2)))
	assert.Equal(t, []string{"3", "4", "5"}, ids(l.Recent(50)))
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, DefaultMaxAlerts, NewAlertLog(0).Cap())
}
