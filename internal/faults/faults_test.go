package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategories_SurviveWrapping(t *testing.T) {
	cause := errors.New("connection refused")

	cfg := fmt.Errorf("dispatch: %w", &ConfigurationError{Component: "webhook", Err: cause})
	if !IsConfiguration(cfg) {
		t.Error("IsConfiguration: got false for wrapped ConfigurationError")
	}
	if !errors.Is(cfg, cause) {
		t.Error("errors.Is: cause not reachable through ConfigurationError")
	}

	del := fmt.Errorf("tick: %w", &TransientDeliveryError{Channel: "webhook", AlertID: "a1", Err: cause})
	if !IsTransientDelivery(del) {
		t.Error("IsTransientDelivery: got false for wrapped TransientDeliveryError")
	}
	if IsConfiguration(del) {
		t.Error("IsConfiguration: got true for a delivery error")
	}

	hc := &AgentHealthCheckError{AgentID: "worker", Err: cause}
	if !IsAgentHealthCheck(hc) {
		t.Error("IsAgentHealthCheck: got false")
	}

	ex := &RestartExhaustedError{AgentID: "worker", MaxRestarts: 3}
	if !IsRestartExhausted(fmt.Errorf("restart: %w", ex)) {
		t.Error("IsRestartExhausted: got false for wrapped error")
	}
	if got, want := ex.Error(), "agent worker exhausted 3 restart attempts"; got != want {
		t.Errorf("Error(): got %q, want %q", got, want)
	}
}

func TestRecovered(t *testing.T) {
	cause := errors.New("boom")
	if err := Recovered(cause); !errors.Is(err, cause) {
		t.Errorf("Recovered(error): cause lost, got %v", err)
	}
	if got := Recovered("nil map").Error(); got != "panic: nil map" {
		t.Errorf("Recovered(string): got %q", got)
	}
}
