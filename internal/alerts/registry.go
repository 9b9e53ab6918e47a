package alerts

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDuplicateRule is returned by Register under the Reject policy.
var ErrDuplicateRule = errors.New("alerts: rule already registered")

// ErrUnknownRule is returned for operations on an id that was never registered.
var ErrUnknownRule = errors.New("alerts: unknown rule")

// OverwritePolicy decides what registering an existing rule id does.
type OverwritePolicy int

const (
	// KeepPosition replaces the definition in its original slot and keeps the
	// rule's LastTriggered, so a reload does not reset cooldowns.
	KeepPosition OverwritePolicy = iota
	// Reject refuses the second registration with ErrDuplicateRule.
	Reject
)

// ParseOverwritePolicy maps the config value (keep | reject) to a policy.
func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch s {
	case "", "keep":
		return KeepPosition, nil
	case "reject":
		return Reject, nil
	default:
		return 0, fmt.Errorf("unknown overwrite policy %q", s)
	}
}

// Registry holds rules in first-registration order.
//
// Registry is safe for concurrent use.
type Registry struct {
	policy OverwritePolicy

	mu    sync.RWMutex
	order []string
	rules map[string]*Rule
}

// NewRegistry returns an empty Registry.
func NewRegistry(policy OverwritePolicy) *Registry {
	return &Registry{policy: policy, rules: make(map[string]*Rule)}
}

// Register stores r. See OverwritePolicy for re-registration.
func (g *Registry) Register(r Rule) error {
	if r.ID == "" {
		return errors.New("alerts: rule id is required")
	}
	if r.Condition == nil {
		return fmt.Errorf("alerts: rule %s: condition is required", r.ID)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("alerts: rule %s: cooldown must not be negative", r.ID)
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Severity == "" {
		r.Severity = SeverityWarning
	}
	r = r.clone()

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.rules[r.ID]; ok {
		if g.policy == Reject {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		r.LastTriggered = old.LastTriggered
		*old = r
		return nil
	}
	g.order = append(g.order, r.ID)
	g.rules[r.ID] = &r
	return nil
}

// Rules returns copies of all rules in registration order.
func (g *Registry) Rules() []Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Rule, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.rules[id].clone())
	}
	return out
}

// Get returns a copy of the rule with the given id.
func (g *Registry) Get(id string) (Rule, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rules[id]
	if !ok {
		return Rule{}, false
	}
	return r.clone(), true
}

// Len returns the number of registered rules.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// ResetRule clears LastTriggered so the rule may fire on the next tick.
func (g *Registry) ResetRule(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	r.LastTriggered = nil
	return nil
}

// markTriggered records that rule id fired at now.
func (g *Registry) markTriggered(id string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rules[id]; ok {
		t := now
		r.LastTriggered = &t
	}
}
