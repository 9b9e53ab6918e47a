// Package health provides watchdog.HealthChecker implementations: a process
// table probe (gopsutil), an HTTP probe, a TLS certificate probe and a
// per-agent Mux.
package health
