// Package watchdog supervises long-running agents. Each agent carries a
// small state machine (stopped, running, failed); Check polls a
// HealthChecker and restarts unhealthy agents through a Controller until
// the agent's restart budget is spent. An exhausted agent stays failed
// until Reset, or until AutoResetAfter elapses when configured.
package watchdog
