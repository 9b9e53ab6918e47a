package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/config"
)

// discordLimit is the maximum message length Discord accepts, in characters.
const discordLimit = 2000

// Discord posts a short text message to a Discord incoming webhook.
type Discord struct {
	p *poster
}

// NewDiscord builds the chat channel. An empty URL yields a ConfigurationError.
func NewDiscord(cfg config.DiscordConfig) (*Discord, error) {
	d := &Discord{p: newPoster(string(alerts.ChannelDiscord), cfg.URL(), cfg.Timeout, 0, 0)}
	if err := d.p.configured(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Discord) Kind() alerts.ChannelKind { return alerts.ChannelDiscord }

func (d *Discord) Deliver(ctx context.Context, a alerts.Alert) error {
	text := fmt.Sprintf("**%s %s**\n%s", severityLabel(a.Severity), a.Title, a.Message)
	if r := []rune(text); len(r) > discordLimit {
		text = string(r[:discordLimit])
	}
	body, _ := json.Marshal(map[string]string{"content": text})
	return d.p.send(ctx, body)
}

func severityLabel(s alerts.Severity) string {
	switch s {
	case alerts.SeverityCritical:
		return "[CRITICAL]"
	case alerts.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}
