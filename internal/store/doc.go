// Package store keeps a durable history of fired alerts in SQLite.
//
// The in-memory alert log in package alerts is bounded and lost on restart;
// when storage is enabled the dispatcher also writes every alert here (the
// Store implements alerts.Sink) and the API serves it from /api/v1/history.
// Run deletes alerts older than the configured retention.
package store
