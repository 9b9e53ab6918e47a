package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/api"
	"github.com/obsidianstack/autoheal/internal/auth"
	"github.com/obsidianstack/autoheal/internal/channel"
	"github.com/obsidianstack/autoheal/internal/config"
	"github.com/obsidianstack/autoheal/internal/health"
	"github.com/obsidianstack/autoheal/internal/metrics"
	"github.com/obsidianstack/autoheal/internal/process"
	"github.com/obsidianstack/autoheal/internal/store"
	"github.com/obsidianstack/autoheal/internal/telemetry"
	"github.com/obsidianstack/autoheal/internal/watchdog"
	"github.com/obsidianstack/autoheal/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the alert dispatcher, the watchdog and the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		startAgents, _ := cmd.Flags().GetBool("start-agents")

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx, path, startAgents)
	},
}

func init() {
	runCmd.Flags().String("config", "autoheal.yaml", "path to config file (.yaml or .toml)")
	runCmd.Flags().Bool("start-agents", false, "launch every agent with its command instead of assuming it is already running")
	rootCmd.AddCommand(runCmd)
}

// app holds the wired components of one autoheal process.
type app struct {
	cfg        *config.Config
	dispatcher *alerts.Dispatcher
	watchdog   *watchdog.Watchdog
	checks     *health.Mux
	history    *store.Store // nil when storage is disabled
	telemetry  *telemetry.Metrics
	hub        *ws.Hub
	handler    http.Handler
}

// build wires every component from cfg. Alerts on the console channel are
// written to out.
func build(cfg *config.Config, out io.Writer) (*app, error) {
	rec := metrics.NewRecorder()
	src, err := metrics.New(cfg.Metrics, rec)
	if err != nil {
		return nil, err
	}

	policy, err := alerts.ParseOverwritePolicy(cfg.Alerts.Overwrite)
	if err != nil {
		return nil, err
	}
	reg := alerts.NewRegistry(policy)
	rules, err := alerts.RulesFromConfig(cfg.Alerts)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if err := reg.Register(r); err != nil {
			return nil, err
		}
	}

	a := &app{cfg: cfg, telemetry: telemetry.New(), checks: health.NewMux()}

	opts := alerts.Options{
		MaxAlerts:       cfg.Alerts.MaxAlerts,
		DeliveryTimeout: cfg.Alerts.DeliveryTimeout,
		Observer:        a.telemetry,
	}
	if cfg.Storage.Backend == "sqlite" {
		st, err := store.Open(cfg.Storage.Path, cfg.Storage.Retention)
		if err != nil {
			return nil, err
		}
		a.history = st
		opts.Sink = st
	}
	a.dispatcher = alerts.NewDispatcher(reg, src, channel.FromConfig(cfg.Channels, out), opts)

	a.watchdog = watchdog.New(a.checks, process.Shell{}, watchdog.Options{
		RestartTimeout: cfg.Watchdog.RestartTimeout,
		HealthTimeout:  cfg.Watchdog.HealthTimeout,
		AutoResetAfter: cfg.Watchdog.AutoResetAfter,
		Observer:       a.telemetry,
	})
	for _, ac := range cfg.Watchdog.Agents {
		if err := a.addAgent(ac); err != nil {
			a.close()
			return nil, err
		}
	}

	a.hub = ws.New(a.dispatcher)

	deps := api.Deps{Dispatcher: a.dispatcher, Watchdog: a.watchdog, Telemetry: a.telemetry}
	if a.history != nil {
		deps.History = a.history
	}
	mux := http.NewServeMux()
	mux.Handle("/", api.Instrument(rec, api.New(deps)))
	mux.Handle("/ws/alerts", a.hub)

	authn := auth.APIKey(cfg.HTTP.Auth.Mode, cfg.HTTP.Auth.EffectiveHeader(), cfg.HTTP.Auth.Key(),
		"/api/v1/health", "/metrics")
	a.handler = authn(mux)
	return a, nil
}

// addAgent registers one agent with its health checker. The agent starts
// in the stopped state.
func (a *app) addAgent(ac config.Agent) error {
	checker, err := health.FromConfig(ac.Health)
	if err != nil {
		return fmt.Errorf("watchdog.agents %s: %w", ac.ID, err)
	}
	a.checks.Handle(ac.ID, checker)
	return a.watchdog.Register(watchdog.AgentConfig{
		ID:          ac.ID,
		Name:        ac.Name,
		Command:     ac.Command,
		MaxRestarts: ac.MaxRestarts,
	})
}

// bringUp moves every stopped agent into supervision, either by launching
// it or by trusting that something else already did.
func (a *app) bringUp(ctx context.Context, launch bool) {
	for _, p := range a.watchdog.Status().Agents {
		if p.Status != watchdog.StatusStopped {
			continue
		}
		var err error
		if launch {
			err = a.watchdog.StartAgent(ctx, p.ID)
		} else {
			err = a.watchdog.MarkRunning(ctx, p.ID)
		}
		if err != nil {
			slog.Error("autoheal: agent not supervised", "agent", p.ID, "err", err)
		}
	}
}

// reload applies a changed config: rules are re-registered in place and new
// agents are added. Removed rules and agents stay until restart.
func (a *app) reload(ctx context.Context, cfg *config.Config, launch bool) {
	rules, err := alerts.RulesFromConfig(cfg.Alerts)
	if err != nil {
		slog.Error("autoheal: reload rules", "err", err)
	} else {
		reg := a.dispatcher.Registry()
		for _, r := range rules {
			if err := reg.Register(r); err != nil {
				slog.Warn("autoheal: rule not reloaded", "rule", r.ID, "err", err)
			}
		}
	}

	added := 0
	for _, ac := range cfg.Watchdog.Agents {
		if a.watchdog.Has(ac.ID) {
			continue
		}
		if err := a.addAgent(ac); err != nil {
			slog.Error("autoheal: agent not added", "agent", ac.ID, "err", err)
			continue
		}
		added++
	}
	if added > 0 {
		a.bringUp(ctx, launch)
	}
	slog.Info("autoheal: config applied", "rules", a.dispatcher.Registry().Len(), "agents_added", added)
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("autoheal: close store", "err", err)
		}
	}
}

func run(ctx context.Context, path string, startAgents bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log, os.Stderr)
	slog.Info("autoheal starting",
		"config", path,
		"metrics", cfg.Metrics.Type,
		"alert_interval", cfg.Alerts.Interval,
		"watch_interval", cfg.Watchdog.Interval,
		"http_port", cfg.HTTP.Port,
		"auth_mode", cfg.HTTP.Auth.Mode,
	)

	a, err := build(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	a.bringUp(ctx, startAgents)
	if err := a.dispatcher.Start(ctx, cfg.Alerts.Interval); err != nil {
		return err
	}
	defer a.dispatcher.Stop()
	if err := a.watchdog.Start(ctx, cfg.Watchdog.Interval); err != nil {
		return err
	}
	defer a.watchdog.Stop()

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	if a.history != nil {
		g.Go(func() error {
			a.history.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return config.Watch(ctx, path, func(next *config.Config) {
			a.reload(ctx, next, startAgents)
		})
	})

	if cfg.HTTP.Port > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("autoheal: HTTP server listening", "port", cfg.HTTP.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	<-ctx.Done()
	slog.Info("autoheal shutting down")
	return g.Wait()
}
