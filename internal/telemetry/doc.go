// Package telemetry aggregates alert counts by severity, restart counts by
// agent and the on/off state of each control loop. Values are exported on a
// private Prometheus registry (Handler) and as a JSON-friendly Snapshot.
package telemetry
