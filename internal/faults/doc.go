// Package faults defines the error taxonomy shared by the alerting and
// watchdog loops. Every type wraps its cause so callers can use errors.Is and
// errors.As; the Is* helpers are shorthands for the errors.As checks.
//
// None of these errors escape a tick: the dispatcher and the watchdog log
// them per rule, per channel or per agent and carry on.
package faults
