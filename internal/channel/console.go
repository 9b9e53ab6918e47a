package channel

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/obsidianstack/autoheal/internal/alerts"
)

// Console writes one line per alert.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	crit, warn, info *color.Color
}

// NewConsole returns a console channel writing to out, or stdout when out
// is nil. Colour is applied only when colored is true.
func NewConsole(out io.Writer, colored bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	c := &Console{
		out:  out,
		crit: color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow),
		info: color.New(color.FgCyan),
	}
	for _, col := range []*color.Color{c.crit, c.warn, c.info} {
		if colored {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) Kind() alerts.ChannelKind { return alerts.ChannelConsole }

func (c *Console) Deliver(_ context.Context, a alerts.Alert) error {
	col := c.info
	switch a.Severity {
	case alerts.SeverityCritical:
		col = c.crit
	case alerts.SeverityWarning:
		col = c.warn
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s %s %s: %s\n",
		a.Timestamp.UTC().Format(time.RFC3339),
		col.Sprint(severityLabel(a.Severity)),
		a.Title,
		a.Message,
	)
	return err
}
