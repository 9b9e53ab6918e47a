package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/config"
)

// Email is a placeholder transport: it logs the message it would send.
// Replace it with an SMTP or provider-backed implementation of alerts.Channel.
type Email struct {
	from string
	to   []string
}

// NewEmail returns the logging email channel.
func NewEmail(cfg config.EmailConfig) *Email {
	return &Email{from: cfg.From, to: append([]string(nil), cfg.To...)}
}

func (e *Email) Kind() alerts.ChannelKind { return alerts.ChannelEmail }

func (e *Email) Deliver(_ context.Context, a alerts.Alert) error {
	if len(e.to) == 0 {
		return fmt.Errorf("email: no recipients")
	}
	slog.Info("channel: email not sent (log-only transport)",
		"from", e.from,
		"to", strings.Join(e.to, ","),
		"subject", fmt.Sprintf("%s %s", severityLabel(a.Severity), a.Title),
		"alert", a.ID,
	)
	return nil
}
