package alerts

import (
	"context"
	"fmt"
	"time"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a config string to a Severity. Empty means warning.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityWarning, nil
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Alert is the record of one rule firing. It is never modified after the
// dispatcher creates it.
type Alert struct {
	ID        string         `json:"id"`
	RuleID    string         `json:"rule_id"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// clone returns a copy of a whose Metadata shares no maps with a.
func (a Alert) clone() Alert {
	a.Metadata = cloneMetadata(a.Metadata)
	return a
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case map[string]any:
			out[k] = cloneMetadata(v)
		case map[string]float64:
			c := make(map[string]float64, len(v))
			for mk, mv := range v {
				c[mk] = mv
			}
			out[k] = c
		case map[string]string:
			c := make(map[string]string, len(v))
			for mk, mv := range v {
				c[mk] = mv
			}
			out[k] = c
		case []string:
			out[k] = append([]string(nil), v...)
		default:
			out[k] = v
		}
	}
	return out
}

// ChannelKind names a delivery transport.
type ChannelKind string

const (
	ChannelConsole ChannelKind = "console"
	ChannelWebhook ChannelKind = "webhook"
	ChannelEmail   ChannelKind = "email"
	ChannelDiscord ChannelKind = "discord"
)

// ParseChannelKind validates a config channel name.
func ParseChannelKind(s string) (ChannelKind, error) {
	switch k := ChannelKind(s); k {
	case ChannelConsole, ChannelWebhook, ChannelEmail, ChannelDiscord:
		return k, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// Channel delivers a single alert. Implementations live in package channel.
type Channel interface {
	Kind() ChannelKind
	Deliver(ctx context.Context, a Alert) error
}

// Sink persists fired alerts beyond the in-memory log.
type Sink interface {
	Save(ctx context.Context, a Alert) error
}

// Observer receives counters for export. A nil Observer is allowed.
type Observer interface {
	AlertFired(severity string)
	DeliveryFailed(channel string)
	MonitoringChanged(loop string, on bool)
}
