package faults

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a component that was selected but cannot work
// with the current configuration, e.g. a webhook channel without a URL.
type ConfigurationError struct {
	Component string
	Err       error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Component, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransientDeliveryError wraps a failed channel delivery. It is logged and
// counted but never propagated past the dispatcher.
type TransientDeliveryError struct {
	Channel string
	AlertID string
	Err     error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("deliver alert %s via %s: %v", e.AlertID, e.Channel, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// AgentHealthCheckError wraps a failure of the health predicate itself
// (as opposed to the predicate reporting "unhealthy").
type AgentHealthCheckError struct {
	AgentID string
	Err     error
}

func (e *AgentHealthCheckError) Error() string {
	return fmt.Sprintf("health check for agent %s: %v", e.AgentID, e.Err)
}

func (e *AgentHealthCheckError) Unwrap() error { return e.Err }

// RestartExhaustedError is the terminal condition of an agent whose restart
// budget is spent. Only an explicit reset clears it.
type RestartExhaustedError struct {
	AgentID     string
	MaxRestarts int
}

func (e *RestartExhaustedError) Error() string {
	return fmt.Sprintf("agent %s exhausted %d restart attempts", e.AgentID, e.MaxRestarts)
}

// IsConfiguration reports whether err is or wraps a *ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTransientDelivery reports whether err is or wraps a *TransientDeliveryError.
func IsTransientDelivery(err error) bool {
	var de *TransientDeliveryError
	return errors.As(err, &de)
}

// IsAgentHealthCheck reports whether err is or wraps an *AgentHealthCheckError.
func IsAgentHealthCheck(err error) bool {
	var he *AgentHealthCheckError
	return errors.As(err, &he)
}

// IsRestartExhausted reports whether err is or wraps a *RestartExhaustedError.
func IsRestartExhausted(err error) bool {
	var re *RestartExhaustedError
	return errors.As(err, &re)
}

// Recovered converts a recovered panic value into an error so a misbehaving
// channel, predicate or controller is reported like any other failure.
func Recovered(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
