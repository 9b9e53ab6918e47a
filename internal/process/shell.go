package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/obsidianstack/autoheal/internal/watchdog"
)

// Shell restarts an agent by running its command with "sh -c".
type Shell struct {
	// Shell is the interpreter; "sh" when empty.
	Shell string
	// Env is appended to the inherited environment.
	Env []string
}

// Restart runs agent.Command and returns its captured output. A non-zero
// exit status is an error; stderr is included in the message.
func (s Shell) Restart(ctx context.Context, agent watchdog.AgentProcess) (watchdog.Output, error) {
	if strings.TrimSpace(agent.Command) == "" {
		return watchdog.Output{}, fmt.Errorf("agent %s has no restart command", agent.ID)
	}
	sh := s.Shell
	if sh == "" {
		sh = "sh"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, sh, "-c", agent.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, "AUTOHEAL_AGENT_ID="+agent.ID, "AUTOHEAL_AGENT_NAME="+agent.Name)
	// Do not wait forever on pipes held by a backgrounded grandchild.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	out := watchdog.Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("restart %s: %w", agent.ID, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("restart %s: exit status %d: %s", agent.ID, exitErr.ExitCode(), strings.TrimSpace(out.Stderr))
		}
		return out, fmt.Errorf("restart %s: %w", agent.ID, err)
	}
	return out, nil
}
