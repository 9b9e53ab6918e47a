package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obsidianstack/autoheal/internal/metrics"
)

// Condition decides whether a rule fires for a snapshot. It is one of two
// kinds: a Threshold on a named metric, or a Custom predicate supplied by
// code. The unexported method keeps the set closed so callers can switch on
// the concrete type.
type Condition interface {
	Eval(snap metrics.Snapshot) bool
	String() string
	condition()
}

// Threshold compares one named metric against a constant.
//
//	error_rate_percent > 5
//	memory_usage_mb >= 512
//	avg_response_time_ms > 100
type Threshold struct {
	Metric string  `json:"metric"`
	Op     string  `json:"op"`
	Value  float64 `json:"value"`
}

func (Threshold) condition() {}

// Eval returns false for metrics the snapshot does not carry.
func (t Threshold) Eval(snap metrics.Snapshot) bool {
	v, ok := snap.Value(t.Metric)
	if !ok {
		return false
	}
	return compareFloat(v, t.Op, t.Value)
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s %s %s", t.Metric, t.Op, strconv.FormatFloat(t.Value, 'f', -1, 64))
}

// Predicate is a custom condition implemented in Go.
type Predicate interface {
	Eval(snap metrics.Snapshot) bool
	String() string
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(snap metrics.Snapshot) bool

func (f PredicateFunc) Eval(snap metrics.Snapshot) bool { return f(snap) }

func (f PredicateFunc) String() string { return "custom" }

// Custom wraps a Predicate as a Condition.
type Custom struct {
	Predicate Predicate
}

func (Custom) condition() {}

func (c Custom) Eval(snap metrics.Snapshot) bool {
	if c.Predicate == nil {
		return false
	}
	return c.Predicate.Eval(snap)
}

func (c Custom) String() string {
	if c.Predicate == nil {
		return "custom(nil)"
	}
	return c.Predicate.String()
}

// Match is shorthand for Custom{Predicate: p}.
func Match(p Predicate) Condition { return Custom{Predicate: p} }

// ParseCondition parses "metric op value" into a Threshold.
func ParseCondition(s string) (Threshold, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return Threshold{}, fmt.Errorf("condition %q: want \"metric op value\"", s)
	}
	metric, op, rhs := parts[0], parts[1], parts[2]
	if !metrics.IsKnown(metric) {
		return Threshold{}, fmt.Errorf("condition %q: unknown metric %q", s, metric)
	}
	if !validOp(op) {
		return Threshold{}, fmt.Errorf("condition %q: unknown operator %q", s, op)
	}
	v, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("condition %q: value: %w", s, err)
	}
	return Threshold{Metric: metric, Op: op, Value: v}, nil
}

func validOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==":
		return true
	}
	return false
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
