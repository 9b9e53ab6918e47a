package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Status is the lifecycle state of a supervised agent.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// State machine events.
const (
	eventStart   = "start"
	eventFail    = "fail"
	eventRecover = "recover"
	eventStop    = "stop"
)

// AgentConfig registers one agent.
type AgentConfig struct {
	ID      string
	Name    string
	Command string

	// MaxRestarts caps restart attempts. Zero selects DefaultMaxRestarts.
	MaxRestarts int
}

// AgentProcess is a point-in-time view of one supervised agent.
type AgentProcess struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Command      string     `json:"command"`
	Status       Status     `json:"status"`
	RestartCount int        `json:"restart_count"`
	LastRestart  *time.Time `json:"last_restart,omitempty"`
	MaxRestarts  int        `json:"max_restarts"`

	// Exhausted is set once the restart budget is spent and the terminal
	// condition has been logged. Reset clears it.
	Exhausted bool `json:"exhausted"`
}

// agent owns the mutable state of one AgentProcess. mu serializes every
// mutation so at most one restart per agent is ever in flight.
type agent struct {
	mu   sync.Mutex
	proc AgentProcess
	sm   *fsm.FSM
}

func newAgent(cfg AgentConfig) *agent {
	a := &agent{proc: AgentProcess{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Command:     cfg.Command,
		Status:      StatusStopped,
		MaxRestarts: cfg.MaxRestarts,
	}}
	a.sm = fsm.NewFSM(
		string(StatusStopped),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StatusStopped)}, Dst: string(StatusRunning)},
			{Name: eventFail, Src: []string{string(StatusRunning)}, Dst: string(StatusFailed)},
			{Name: eventRecover, Src: []string{string(StatusFailed)}, Dst: string(StatusRunning)},
			{Name: eventStop, Src: []string{string(StatusRunning), string(StatusFailed)}, Dst: string(StatusStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				a.proc.Status = Status(e.Dst)
			},
		},
	)
	return a
}

// fire applies event if the current state allows it. Callers hold a.mu.
func (a *agent) fire(ctx context.Context, event string) error {
	if !a.sm.Can(event) {
		return fmt.Errorf("agent %s: cannot %s from %s", a.proc.ID, event, a.sm.Current())
	}
	return a.sm.Event(ctx, event)
}

// snapshot returns a copy safe to hand out. Callers hold a.mu.
func (a *agent) snapshot() AgentProcess {
	p := a.proc
	if p.LastRestart != nil {
		t := *p.LastRestart
		p.LastRestart = &t
	}
	return p
}

// reset clears the restart budget. Callers hold a.mu.
func (a *agent) reset() {
	a.proc.RestartCount = 0
	a.proc.LastRestart = nil
	a.proc.Exhausted = false
}
