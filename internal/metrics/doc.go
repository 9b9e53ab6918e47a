// Package metrics provides the health snapshot sources that feed the alert
// dispatcher. A Snapshot carries error rate, memory usage, mean response time
// and the operation count; Source.Current returns one on demand.
//
// Implemented sources: Prometheus (prometheus.go) scrapes a text-exposition
// endpoint and derives rates from counter deltas between scrapes; Host
// (host.go) reads the process RSS with gopsutil and takes error rate and
// latency from a Recorder; Static returns a fixed snapshot. Factory:
// New(config.MetricsConfig, *Recorder).
package metrics
