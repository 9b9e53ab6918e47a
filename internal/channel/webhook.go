package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/config"
)

// Webhook POSTs the alert as a JSON document to a fixed URL.
type Webhook struct {
	p *poster
}

// NewWebhook builds the generic HTTP webhook channel. An empty URL yields a
// ConfigurationError.
func NewWebhook(cfg config.WebhookConfig) (*Webhook, error) {
	w := &Webhook{p: newPoster(string(alerts.ChannelWebhook), cfg.URL(), cfg.Timeout, cfg.Retries, cfg.RatePerSec)}
	if err := w.p.configured(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Webhook) Kind() alerts.ChannelKind { return alerts.ChannelWebhook }

// Deliver sends a as the request body.
func (w *Webhook) Deliver(ctx context.Context, a alerts.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webhook: encode alert: %w", err)
	}
	return w.p.send(ctx, body)
}
