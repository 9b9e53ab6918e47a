package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/obsidianstack/autoheal/internal/config"
)

// Metric names accepted by Snapshot.Value and by rule conditions.
const (
	ErrorRatePercent  = "error_rate_percent"
	MemoryUsageMB     = "memory_usage_mb"
	AvgResponseTimeMs = "avg_response_time_ms"
	OperationsTotal   = "operations_total"
)

// Names lists every metric a Snapshot carries, in display order.
var Names = []string{ErrorRatePercent, MemoryUsageMB, AvgResponseTimeMs, OperationsTotal}

// Snapshot is a point-in-time view of the runtime health signals.
type Snapshot struct {
	ErrorRatePercent  float64   `json:"error_rate_percent"`
	MemoryUsageMB     float64   `json:"memory_usage_mb"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	OperationsTotal   float64   `json:"operations_total"`
	CollectedAt       time.Time `json:"collected_at"`
}

// Value returns the named metric. ok is false for unknown names.
func (s Snapshot) Value(name string) (v float64, ok bool) {
	switch name {
	case ErrorRatePercent:
		return s.ErrorRatePercent, true
	case MemoryUsageMB:
		return s.MemoryUsageMB, true
	case AvgResponseTimeMs:
		return s.AvgResponseTimeMs, true
	case OperationsTotal:
		return s.OperationsTotal, true
	default:
		return 0, false
	}
}

// Values returns the snapshot as a name → value map, used as alert metadata.
func (s Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, len(Names))
	for _, n := range Names {
		v, _ := s.Value(n)
		out[n] = v
	}
	return out
}

// IsKnown reports whether name is a metric a Snapshot carries.
func IsKnown(name string) bool {
	_, ok := Snapshot{}.Value(name)
	return ok
}

// Source produces health snapshots on demand.
type Source interface {
	Current(ctx context.Context) (Snapshot, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Current calls f(ctx).
func (f SourceFunc) Current(ctx context.Context) (Snapshot, error) { return f(ctx) }

// Static is a Source that always returns the same values. It is safe for
// concurrent use; Set replaces the snapshot.
type Static struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatic returns a Static source primed with snap.
func NewStatic(snap Snapshot) *Static {
	return &Static{snap: snap}
}

// Set replaces the snapshot returned by Current.
func (s *Static) Set(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// Current returns the stored snapshot stamped with the current time.
func (s *Static) Current(context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.CollectedAt = time.Now().UTC()
	return out, nil
}

// New returns the Source selected by cfg. rec feeds the host source's error
// rate and latency; it may be nil for the other types.
func New(cfg config.MetricsConfig, rec *Recorder) (Source, error) {
	switch cfg.Type {
	case "prometheus":
		return NewPrometheus(cfg)
	case "host":
		return NewHost(rec), nil
	case "static":
		return NewStatic(Snapshot{
			ErrorRatePercent:  cfg.Static.ErrorRatePercent,
			MemoryUsageMB:     cfg.Static.MemoryUsageMB,
			AvgResponseTimeMs: cfg.Static.AvgResponseTimeMs,
			OperationsTotal:   cfg.Static.OperationsTotal,
		}), nil
	default:
		return nil, fmt.Errorf("metrics: unsupported source type %q", cfg.Type)
	}
}
