package channel

import (
	"io"
	"log/slog"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/config"
)

// FromConfig builds every channel that cfg can support. Email is always
// present and console unless disabled. Webhook and Discord are skipped with a warning when
// their URL is missing; rules that name them then log a configuration error
// on every delivery.
func FromConfig(cfg config.ChannelsConfig, out io.Writer) []alerts.Channel {
	var chans []alerts.Channel
	if cfg.Console.IsEnabled() {
		chans = append(chans, NewConsole(out, cfg.Console.Color))
	}
	chans = append(chans, NewEmail(cfg.Email))

	if wh, err := NewWebhook(cfg.Webhook); err != nil {
		if cfg.Webhook.URLEnv != "" {
			slog.Warn("channel: webhook disabled", "url_env", cfg.Webhook.URLEnv, "err", err)
		}
	} else {
		chans = append(chans, wh)
	}

	if dc, err := NewDiscord(cfg.Discord); err != nil {
		if cfg.Discord.URLEnv != "" {
			slog.Warn("channel: discord disabled", "url_env", cfg.Discord.URLEnv, "err", err)
		}
	} else {
		chans = append(chans, dc)
	}
	return chans
}
