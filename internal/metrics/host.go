package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const bytesPerMB = 1024 * 1024

// Host reads the resident memory of the autoheal process itself and takes
// error rate and latency from an in-process Recorder.
type Host struct {
	rec *Recorder
	pid int32
}

// NewHost returns a Host source. rec may be nil, in which case only memory
// is reported.
func NewHost(rec *Recorder) *Host {
	return &Host{rec: rec, pid: int32(os.Getpid())}
}

// Current samples RSS via gopsutil and folds in the recorder counters.
func (h *Host) Current(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{CollectedAt: time.Now().UTC()}

	p, err := process.NewProcessWithContext(ctx, h.pid)
	if err != nil {
		return snap, fmt.Errorf("host metrics: open process %d: %w", h.pid, err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("host metrics: memory info: %w", err)
	}
	snap.MemoryUsageMB = float64(mem.RSS) / bytesPerMB

	if h.rec != nil {
		h.rec.fill(&snap)
	}
	return snap, nil
}
