// Package config loads and watches the autoheal configuration file.
//
// Top-level sections:
//   - log: level (debug|info|warn|error), format (json|text)
//   - http: port for the REST API, /metrics and /ws/alerts; API key auth
//   - metrics: snapshot source: prometheus (scrape endpoint) | host | static
//   - alerts: evaluation interval, alert log bound, delivery timeout,
//     duplicate-id policy (keep|reject), rules []
//   - channels: console (enabled, color), webhook (url_env, retries, rate), discord, email
//   - watchdog: check interval, restart and health timeouts, auto-reset
//     window, agents []
//   - storage: optional sqlite alert history
//
// Load(path) picks YAML or TOML by file extension, applies defaults (30s alert
// interval, 100 alerts, 5s delivery timeout, 60s watchdog interval, 3 restarts),
// then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. A reload that fails validation is
// logged and dropped.
package config
