package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort        = 8080
	DefaultAlertInterval   = 30 * time.Second
	DefaultMaxAlerts       = 100
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultWatchInterval   = 60 * time.Second
	DefaultRestartTimeout  = 5 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	DefaultMaxRestarts     = 3
	DefaultWebhookTimeout  = 5 * time.Second
	DefaultRetention       = 14 * 24 * time.Hour
)

// Config is the top-level autoheal configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" toml:"log"`
	HTTP     HTTPConfig     `yaml:"http" toml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Alerts   AlertsConfig   `yaml:"alerts" toml:"alerts"`
	Channels ChannelsConfig `yaml:"channels" toml:"channels"`
	Watchdog WatchdogConfig `yaml:"watchdog" toml:"watchdog"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
}

// LogConfig controls the process-wide slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error. Default info.
	Level string `yaml:"level" toml:"level"`

	// Format is one of: json | text. Default json.
	Format string `yaml:"format" toml:"format"`
}

// HTTPConfig controls the status API listener.
type HTTPConfig struct {
	// Port is the port the REST API, /metrics and /ws/alerts listen on.
	// Zero disables the listener.
	Port int `yaml:"port" toml:"port"`

	Auth AuthConfig `yaml:"auth" toml:"auth"`
}

// AuthConfig controls API key authentication on the HTTP API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" toml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env" toml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "X-API-Key".
	Header string `yaml:"header" toml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "X-API-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// MetricsConfig selects where health snapshots come from.
type MetricsConfig struct {
	// Type is one of: prometheus | host | static.
	Type string `yaml:"type" toml:"type"`

	// Endpoint is the Prometheus text-exposition URL, used when Type == "prometheus".
	Endpoint string `yaml:"endpoint" toml:"endpoint"`

	// Timeout bounds a single scrape.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	Auth  SourceAuth  `yaml:"auth" toml:"auth"`
	TLS   TLSConfig   `yaml:"tls" toml:"tls"`
	Names MetricNames `yaml:"names" toml:"names"`

	// Static holds the fixed snapshot returned when Type == "static".
	Static StaticMetrics `yaml:"static" toml:"static"`
}

// SourceAuth specifies how the scraper authenticates to the metrics endpoint.
type SourceAuth struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode" toml:"mode"`

	// Header is the HTTP header name the API key is sent in.
	Header string `yaml:"header" toml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env" toml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env" toml:"token_env"`

	Username    string `yaml:"username" toml:"username"`
	PasswordEnv string `yaml:"password_env" toml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a SourceAuth) Key() string { return lookupEnv(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a SourceAuth) Token() string { return lookupEnv(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a SourceAuth) Password() string { return lookupEnv(a.PasswordEnv) }

// TLSConfig holds TLS dial options for the scraper.
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// MetricNames maps snapshot fields onto Prometheus metric family names.
type MetricNames struct {
	Operations   string `yaml:"operations" toml:"operations"`
	Errors       string `yaml:"errors" toml:"errors"`
	Memory       string `yaml:"memory" toml:"memory"`
	LatencySum   string `yaml:"latency_sum" toml:"latency_sum"`
	LatencyCount string `yaml:"latency_count" toml:"latency_count"`
}

// StaticMetrics is a fixed snapshot, useful for dry runs.
type StaticMetrics struct {
	ErrorRatePercent  float64 `yaml:"error_rate_percent" toml:"error_rate_percent"`
	MemoryUsageMB     float64 `yaml:"memory_usage_mb" toml:"memory_usage_mb"`
	AvgResponseTimeMs float64 `yaml:"avg_response_time_ms" toml:"avg_response_time_ms"`
	OperationsTotal   float64 `yaml:"operations_total" toml:"operations_total"`
}

// AlertsConfig holds the alert dispatcher settings and rule definitions.
type AlertsConfig struct {
	// Interval is how often rules are evaluated.
	Interval time.Duration `yaml:"interval" toml:"interval"`

	// MaxAlerts bounds the in-memory alert log.
	MaxAlerts int `yaml:"max_alerts" toml:"max_alerts"`

	// DeliveryTimeout bounds a single channel delivery.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" toml:"delivery_timeout"`

	// Overwrite decides what registering an existing rule id does: keep | reject.
	Overwrite string `yaml:"overwrite" toml:"overwrite"`

	// IncludeDefaults registers the built-in error-rate, memory and latency rules first.
	IncludeDefaults bool `yaml:"include_defaults" toml:"include_defaults"`

	Rules []AlertRule `yaml:"rules" toml:"rules"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	ID   string `yaml:"id" toml:"id"`
	Name string `yaml:"name" toml:"name"`

	// Condition is an expression: "error_rate_percent > 5", "memory_usage_mb >= 512".
	Condition string `yaml:"condition" toml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity" toml:"severity"`

	Message string `yaml:"message" toml:"message"`

	// Cooldown suppresses re-fires for this duration after the rule fires.
	// Zero means the rule may fire on every tick.
	Cooldown time.Duration `yaml:"cooldown" toml:"cooldown"`

	// Channels lists delivery targets: console | webhook | email | discord.
	Channels []string `yaml:"channels" toml:"channels"`
}

// ChannelsConfig configures the notification transports.
type ChannelsConfig struct {
	Console ConsoleConfig `yaml:"console" toml:"console"`
	Webhook WebhookConfig `yaml:"webhook" toml:"webhook"`
	Discord DiscordConfig `yaml:"discord" toml:"discord"`
	Email   EmailConfig   `yaml:"email" toml:"email"`
}

// ConsoleConfig configures the stdout channel.
type ConsoleConfig struct {
	// Enabled defaults to true; set it to false to silence stdout alerts.
	Enabled *bool `yaml:"enabled" toml:"enabled"`
	Color   bool  `yaml:"color" toml:"color"`
}

// IsEnabled reports whether the console channel should be built.
func (c ConsoleConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// WebhookConfig configures the generic HTTP webhook channel.
type WebhookConfig struct {
	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env" toml:"url_env"`

	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// Retries is the number of additional attempts after a failed POST.
	// Zero keeps delivery best-effort.
	Retries int `yaml:"retries" toml:"retries"`

	// RatePerSec caps outgoing requests. Zero disables the limiter.
	RatePerSec float64 `yaml:"rate_per_sec" toml:"rate_per_sec"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return lookupEnv(w.URLEnv) }

// DiscordConfig configures the chat channel.
type DiscordConfig struct {
	URLEnv  string        `yaml:"url_env" toml:"url_env"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// URL returns the Discord webhook URL resolved from the environment.
func (d DiscordConfig) URL() string { return lookupEnv(d.URLEnv) }

// EmailConfig configures the email channel.
type EmailConfig struct {
	From string   `yaml:"from" toml:"from"`
	To   []string `yaml:"to" toml:"to"`
}

// WatchdogConfig holds the agent watchdog settings.
type WatchdogConfig struct {
	// Interval is how often agent health is checked.
	Interval time.Duration `yaml:"interval" toml:"interval"`

	// RestartTimeout bounds a single restart invocation.
	RestartTimeout time.Duration `yaml:"restart_timeout" toml:"restart_timeout"`

	// HealthTimeout bounds a single health check.
	HealthTimeout time.Duration `yaml:"health_timeout" toml:"health_timeout"`

	// AutoResetAfter clears an exhausted agent's restart budget once its last
	// restart is older than this. Zero requires a manual reset.
	AutoResetAfter time.Duration `yaml:"auto_reset_after" toml:"auto_reset_after"`

	Agents []Agent `yaml:"agents" toml:"agents"`
}

// Agent describes one supervised long-running worker.
type Agent struct {
	ID          string       `yaml:"id" toml:"id"`
	Name        string       `yaml:"name" toml:"name"`
	Command     string       `yaml:"command" toml:"command"`
	MaxRestarts int          `yaml:"max_restarts" toml:"max_restarts"`
	Health      HealthConfig `yaml:"health" toml:"health"`
}

// HealthConfig selects the health predicate for an agent.
type HealthConfig struct {
	// Type is one of: process | http | tls.
	Type string `yaml:"type" toml:"type"`

	// Target is the process name (process) or URL (http, tls). Defaults to the agent name.
	Target string `yaml:"target" toml:"target"`

	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// MinValidity marks a tls agent unhealthy once its certificate expires
	// within this window.
	MinValidity        time.Duration `yaml:"min_validity" toml:"min_validity"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// StorageConfig configures the optional alert history backend.
type StorageConfig struct {
	// Backend selects the storage implementation: sqlite, or empty to disable.
	Backend string `yaml:"backend" toml:"backend"`

	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path" toml:"path"`

	// Retention is how long persisted alerts are kept.
	Retention time.Duration `yaml:"retention" toml:"retention"`
}

// Load reads and parses the config file at path. Files ending in .toml are
// parsed as TOML, everything else as YAML. Missing fields are filled with
// defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data, formatOf(path))
}

// Parse decodes data in the given format ("yaml" or "toml").
func Parse(data []byte, format string) (*Config, error) {
	cfg := defaults()
	switch format {
	case "toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyAgentDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Log:  LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{Port: DefaultHTTPPort},
		Metrics: MetricsConfig{
			Type:    "host",
			Timeout: 10 * time.Second,
			Names: MetricNames{
				Operations:   "http_requests_total",
				Errors:       "http_requests_errors_total",
				Memory:       "process_resident_memory_bytes",
				LatencySum:   "http_request_duration_seconds_sum",
				LatencyCount: "http_request_duration_seconds_count",
			},
		},
		Alerts: AlertsConfig{
			Interval:        DefaultAlertInterval,
			MaxAlerts:       DefaultMaxAlerts,
			DeliveryTimeout: DefaultDeliveryTimeout,
			Overwrite:       "keep",
			IncludeDefaults: true,
		},
		Channels: ChannelsConfig{
			Console: ConsoleConfig{Color: true},
			Webhook: WebhookConfig{Timeout: DefaultWebhookTimeout},
			Discord: DiscordConfig{Timeout: DefaultWebhookTimeout},
		},
		Watchdog: WatchdogConfig{
			Interval:       DefaultWatchInterval,
			RestartTimeout: DefaultRestartTimeout,
			HealthTimeout:  DefaultHealthTimeout,
		},
		Storage: StorageConfig{Retention: DefaultRetention},
	}
}

// applyAgentDefaults fills per-agent fields that cannot be pre-populated
// before the agents list is decoded.
func applyAgentDefaults(cfg *Config) {
	for i := range cfg.Watchdog.Agents {
		a := &cfg.Watchdog.Agents[i]
		if a.Name == "" {
			a.Name = a.ID
		}
		if a.MaxRestarts == 0 {
			a.MaxRestarts = DefaultMaxRestarts
		}
		if a.Health.Type == "" {
			a.Health.Type = "process"
		}
		if a.Health.Target == "" {
			a.Health.Target = a.Name
		}
	}
	for i := range cfg.Alerts.Rules {
		r := &cfg.Alerts.Rules[i]
		if r.Name == "" {
			r.Name = r.ID
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if len(r.Channels) == 0 {
			r.Channels = []string{"console"}
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range [0, 65535]", cfg.HTTP.Port)
	}
	switch cfg.HTTP.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("http.auth.mode %q unknown: want apikey|none", cfg.HTTP.Auth.Mode)
	}

	switch cfg.Metrics.Type {
	case "prometheus":
		if cfg.Metrics.Endpoint == "" {
			return fmt.Errorf("metrics.endpoint is required for type prometheus")
		}
	case "host", "static":
	default:
		return fmt.Errorf("metrics.type %q unknown: want prometheus|host|static", cfg.Metrics.Type)
	}
	switch cfg.Metrics.Auth.Mode {
	case "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("metrics.auth.mode %q unknown", cfg.Metrics.Auth.Mode)
	}

	if cfg.Alerts.Interval <= 0 {
		return fmt.Errorf("alerts.interval must be positive")
	}
	if cfg.Alerts.MaxAlerts <= 0 {
		return fmt.Errorf("alerts.max_alerts must be positive")
	}
	if cfg.Alerts.DeliveryTimeout <= 0 {
		return fmt.Errorf("alerts.delivery_timeout must be positive")
	}
	switch cfg.Alerts.Overwrite {
	case "keep", "reject":
	default:
		return fmt.Errorf("alerts.overwrite %q unknown: want keep|reject", cfg.Alerts.Overwrite)
	}
	seenRules := make(map[string]bool, len(cfg.Alerts.Rules))
	for i, r := range cfg.Alerts.Rules {
		if r.ID == "" {
			return fmt.Errorf("alerts.rules[%d]: id is required", i)
		}
		if seenRules[r.ID] && cfg.Alerts.Overwrite == "reject" {
			return fmt.Errorf("alerts.rules[%d]: duplicate id %q", i, r.ID)
		}
		seenRules[r.ID] = true
		if r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, r.ID)
		}
		switch r.Severity {
		case "critical", "warning", "info":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, r.ID, r.Severity)
		}
		if r.Cooldown < 0 {
			return fmt.Errorf("alerts.rules[%d] %q: cooldown must not be negative", i, r.ID)
		}
		for _, ch := range r.Channels {
			switch ch {
			case "console", "webhook", "email", "discord":
			default:
				return fmt.Errorf("alerts.rules[%d] %q: unknown channel %q", i, r.ID, ch)
			}
		}
	}

	if cfg.Channels.Webhook.Retries < 0 {
		return fmt.Errorf("channels.webhook.retries must not be negative")
	}

	if cfg.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog.interval must be positive")
	}
	if cfg.Watchdog.RestartTimeout <= 0 {
		return fmt.Errorf("watchdog.restart_timeout must be positive")
	}
	if cfg.Watchdog.HealthTimeout <= 0 {
		return fmt.Errorf("watchdog.health_timeout must be positive")
	}
	if cfg.Watchdog.AutoResetAfter < 0 {
		return fmt.Errorf("watchdog.auto_reset_after must not be negative")
	}
	seenAgents := make(map[string]bool, len(cfg.Watchdog.Agents))
	for i, a := range cfg.Watchdog.Agents {
		if a.ID == "" {
			return fmt.Errorf("watchdog.agents[%d]: id is required", i)
		}
		if seenAgents[a.ID] {
			return fmt.Errorf("watchdog.agents[%d]: duplicate id %q", i, a.ID)
		}
		seenAgents[a.ID] = true
		if a.Command == "" {
			return fmt.Errorf("watchdog.agents[%d] %q: command is required", i, a.ID)
		}
		if a.MaxRestarts < 0 {
			return fmt.Errorf("watchdog.agents[%d] %q: max_restarts must not be negative", i, a.ID)
		}
		switch a.Health.Type {
		case "process", "http", "tls":
		default:
			return fmt.Errorf("watchdog.agents[%d] %q: unknown health type %q", i, a.ID, a.Health.Type)
		}
	}

	switch cfg.Storage.Backend {
	case "":
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for backend sqlite")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown: want sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}
	return nil
}

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
