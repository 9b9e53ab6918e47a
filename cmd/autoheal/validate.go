package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/autoheal/internal/alerts"
	"github.com/obsidianstack/autoheal/internal/config"
	"github.com/obsidianstack/autoheal/internal/health"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file without starting anything",
	Long: `Load the config, parse every rule condition and health check, and
report what would be registered. Exits non-zero on the first error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		rules, err := alerts.RulesFromConfig(cfg.Alerts)
		if err != nil {
			return err
		}
		if _, err := alerts.ParseOverwritePolicy(cfg.Alerts.Overwrite); err != nil {
			return err
		}
		for _, a := range cfg.Watchdog.Agents {
			if _, err := health.FromConfig(a.Health); err != nil {
				return fmt.Errorf("watchdog.agents %s: %w", a.ID, err)
			}
		}

		out := cmd.OutOrStdout()
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(out, "%s %s\n", green("✓"), path)
		fmt.Fprintf(out, "  rules:   %d (metrics: %s, every %s)\n", len(rules), cfg.Metrics.Type, cfg.Alerts.Interval)
		for _, r := range rules {
			fmt.Fprintf(out, "    %-20s %-9s %s\n", r.ID, r.Severity, r.Condition)
		}
		fmt.Fprintf(out, "  agents:  %d (every %s)\n", len(cfg.Watchdog.Agents), cfg.Watchdog.Interval)
		for _, a := range cfg.Watchdog.Agents {
			fmt.Fprintf(out, "    %-20s %-7s max_restarts=%d\n", a.ID, a.Health.Type, a.MaxRestarts)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("config", "autoheal.yaml", "path to config file (.yaml or .toml)")
	rootCmd.AddCommand(validateCmd)
}
