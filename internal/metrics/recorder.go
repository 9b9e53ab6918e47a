package metrics

import (
	"sync"
	"time"
)

// Recorder accumulates operation outcomes inside the monitored process.
// Application code calls Observe for every request it serves; the host source
// reads the derived error rate and mean latency from it.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	operations uint64
	errors     uint64
	latencySum time.Duration
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Observe records one operation that took d and failed when failed is true.
func (r *Recorder) Observe(d time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations++
	if failed {
		r.errors++
	}
	r.latencySum += d
}

// Totals returns the raw counters.
func (r *Recorder) Totals() (operations, errors uint64, latencySum time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operations, r.errors, r.latencySum
}

// fill writes the recorder-derived fields into snap.
func (r *Recorder) fill(snap *Snapshot) {
	ops, errs, sum := r.Totals()
	snap.OperationsTotal = float64(ops)
	if ops == 0 {
		return
	}
	snap.ErrorRatePercent = float64(errs) / float64(ops) * 100
	snap.AvgResponseTimeMs = float64(sum) / float64(time.Millisecond) / float64(ops)
}
