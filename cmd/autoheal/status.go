package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/api"
	"github.com/obsidianstack/autoheal/internal/watchdog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dispatcher and watchdog status from a running autoheal",
	Long:  `Query a running autoheal's HTTP API and print alert counters and agent states.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		key, _ := cmd.Flags().GetString("api-key")
		header, _ := cmd.Flags().GetString("api-key-header")

		c := &statusClient{
			base:   strings.TrimRight(addr, "/"),
			key:    key,
			header: header,
			http:   &http.Client{Timeout: 10 * time.Second},
		}
		var (
			stats  api.StatsResponse
			agents watchdog.Snapshot
		)
		if err := c.get(cmd.Context(), "/api/v1/stats", &stats); err != nil {
			return err
		}
		if err := c.get(cmd.Context(), "/api/v1/agents", &agents); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), stats, agents)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("addr", "http://localhost:8080", "base URL of the autoheal HTTP API")
	statusCmd.Flags().String("api-key", "", "API key when the server runs with auth.mode=apikey")
	statusCmd.Flags().String("api-key-header", "X-API-Key", "header carrying the API key")
	rootCmd.AddCommand(statusCmd)
}

type statusClient struct {
	base   string
	key    string
	header string
	http   *http.Client
}

func (c *statusClient) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.key != "" {
		req.Header.Set(c.header, c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

func printStatus(out io.Writer, stats api.StatsResponse, agents watchdog.Snapshot) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	onOff := func(on bool) string {
		if on {
			return green("monitoring")
		}
		return gray("idle")
	}

	fmt.Fprintf(out, "\n%s\n\n", cyan("=== autoheal status ==="))

	fmt.Fprintf(out, "%s %s\n", yellow("Alerts:"), onOff(stats.Alerts.Monitoring))
	fmt.Fprintf(out, "  rules:             %d\n", stats.Alerts.ActiveRules)
	fmt.Fprintf(out, "  fired:             %d\n", stats.Alerts.TotalAlerts)
	sevs := make([]alerts.Severity, 0, len(stats.Alerts.BySeverity))
	for s := range stats.Alerts.BySeverity {
		sevs = append(sevs, s)
	}
	sort.Slice(sevs, func(i, j int) bool { return sevs[i] < sevs[j] })
	for _, s := range sevs {
		fmt.Fprintf(out, "    %-16s %d\n", s, stats.Alerts.BySeverity[s])
	}
	failures := fmt.Sprint(stats.Alerts.DeliveryFailures)
	if stats.Alerts.DeliveryFailures > 0 {
		failures = red(failures)
	}
	fmt.Fprintf(out, "  delivery failures: %s\n\n", failures)

	fmt.Fprintf(out, "%s %s\n", yellow("Agents:"), onOff(agents.Monitoring))
	if len(agents.Agents) == 0 {
		fmt.Fprintf(out, "  %s\n", gray("No agents registered"))
	}
	for _, p := range agents.Agents {
		icon, colorize := "○", gray
		switch p.Status {
		case watchdog.StatusRunning:
			icon, colorize = "●", green
		case watchdog.StatusFailed:
			icon, colorize = "✗", red
		}
		line := fmt.Sprintf("  %s %-20s %-8s restarts %d/%d", colorize(icon), p.ID, colorize(string(p.Status)), p.RestartCount, p.MaxRestarts)
		if p.LastRestart != nil {
			line += gray(fmt.Sprintf("  last %s ago", time.Since(*p.LastRestart).Round(time.Second)))
		}
		if p.Exhausted {
			line += "  " + red("exhausted, needs reset")
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)
}
