package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/autoheal/internal/watchdog"
)

func TestShell_CapturesOutput(t *testing.T) {
	out, err := Shell{}.Restart(context.Background(), watchdog.AgentProcess{
		ID:      "w1",
		Command: `echo "restarting $AUTOHEAL_AGENT_ID"; echo warn >&2`,
	})
	require.NoError(t, err)
	assert.Equal(t, "restarting w1\n", out.Stdout)
	assert.Equal(t, "warn\n", out.Stderr)
}

func TestShell_NonZeroExit(t *testing.T) {
	out, err := Shell{}.Restart(context.Background(), watchdog.AgentProcess{ID: "w1", Command: "echo nope >&2; exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "nope")
	assert.Equal(t, "nope\n", out.Stderr)
}

func TestShell_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Shell{}.Restart(ctx, watchdog.AgentProcess{ID: "w1", Command: "sleep 5"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShell_EmptyCommand(t *testing.T) {
	_, err := Shell{}.Restart(context.Background(), watchdog.AgentProcess{ID: "w1", Command: "  "})
	assert.Error(t, err)
}

func TestShell_ImplementsController(t *testing.T) {
	var _ watchdog.Controller = Shell{}
}
