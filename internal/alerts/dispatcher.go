package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/autoheal/internal/faults"
	"github.com/obsidianstack/autoheal/internal/metrics"
	"github.com/obsidianstack/autoheal/internal/scheduler"
)

// DefaultDeliveryTimeout bounds one channel delivery when none is configured.
const DefaultDeliveryTimeout = 5 * time.Second

const subscriberBuffer = 16

// Options tunes a Dispatcher. The zero value is usable.
type Options struct {
	MaxAlerts       int
	DeliveryTimeout time.Duration
	Sink            Sink
	Observer        Observer
	Now             func() time.Time
}

// Stats summarises dispatcher activity.
type Stats struct {
	TotalAlerts      int              `json:"total_alerts"`
	BySeverity       map[Severity]int `json:"by_severity"`
	ActiveRules      int              `json:"active_rules"`
	Monitoring       bool             `json:"monitoring"`
	DeliveryFailures int              `json:"delivery_failures"`
}

// Dispatcher evaluates the registry's rules against the metrics source,
// enforces per-rule cooldown, records fired alerts and fans them out to the
// rule's channels.
//
// Evaluate calls are serialized. Dispatcher is safe for concurrent use.
type Dispatcher struct {
	registry *Registry
	source   metrics.Source
	channels map[ChannelKind]Channel
	log      *AlertLog
	timeout  time.Duration
	sink     Sink
	observer Observer
	now      func() time.Time

	evalMu sync.Mutex

	mu               sync.Mutex
	total            int
	bySeverity       map[Severity]int
	deliveryFailures int
	subs             map[chan Alert]struct{}

	loopMu sync.Mutex
	loop   atomic.Pointer[scheduler.Loop]
}

// NewDispatcher wires a dispatcher. channels maps each kind a rule may name
// to its transport; kinds missing from the map are reported as
// configuration errors at delivery time.
func NewDispatcher(reg *Registry, src metrics.Source, channels []Channel, opts Options) *Dispatcher {
	byKind := make(map[ChannelKind]Channel, len(channels))
	for _, c := range channels {
		byKind[c.Kind()] = c
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		registry:   reg,
		source:     src,
		channels:   byKind,
		log:        NewAlertLog(opts.MaxAlerts),
		timeout:    opts.DeliveryTimeout,
		sink:       opts.Sink,
		observer:   opts.Observer,
		now:        opts.Now,
		bySeverity: make(map[Severity]int),
		subs:       make(map[chan Alert]struct{}),
	}
}

// Registry returns the rule registry the dispatcher evaluates.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Evaluate runs one tick and returns the alerts it fired. A metrics source
// failure aborts the tick before any rule is touched.
//
// Work inside a tick is detached from ctx's deadline and cancellation:
// sources bound their own reads, and every sink write and delivery gets a
// fresh DeliveryTimeout. A slow channel never shortens the budget of the
// deliveries after it.
func (d *Dispatcher) Evaluate(ctx context.Context) ([]Alert, error) {
	d.evalMu.Lock()
	defer d.evalMu.Unlock()

	base := context.WithoutCancel(ctx)
	snap, err := d.source.Current(base)
	if err != nil {
		slog.Warn("alerts: metrics unavailable, skipping evaluation", "err", err)
		return nil, fmt.Errorf("alerts: read metrics: %w", err)
	}

	var fired []Alert
	for _, rule := range d.registry.Rules() {
		now := d.now()
		if rule.inCooldown(now) {
			continue
		}
		if !d.holds(rule, snap) {
			continue
		}

		a := newAlert(rule, snap, now)
		d.log.Append(a)
		d.registry.markTriggered(rule.ID, now)
		d.record(a)

		slog.Warn("alert fired",
			"rule", rule.ID,
			"severity", a.Severity,
			"condition", rule.Condition.String(),
		)

		d.save(base, a)
		d.deliver(base, rule, a)
		d.publish(a)
		fired = append(fired, a.clone())
	}
	return fired, nil
}

func (d *Dispatcher) save(ctx context.Context, a Alert) {
	if d.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sink.Save(ctx, a.clone()); err != nil {
		slog.Error("alerts: persist alert failed", "alert", a.ID, "err", err)
	}
}

// holds evaluates the rule's condition, treating a panic as false.
func (d *Dispatcher) holds(rule Rule, snap metrics.Snapshot) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("alerts: condition panicked", "rule", rule.ID, "err", faults.Recovered(r))
			ok = false
		}
	}()
	return rule.Condition.Eval(snap)
}

func newAlert(rule Rule, snap metrics.Snapshot, now time.Time) Alert {
	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("%s fired: %s", rule.Name, rule.Condition.String())
	}
	return Alert{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		Timestamp: now,
		Severity:  rule.Severity,
		Title:     rule.Name,
		Message:   msg,
		Metadata: map[string]any{
			"rule_id":   rule.ID,
			"condition": rule.Condition.String(),
			"metrics":   snap.Values(),
		},
	}
}

// deliver sends a to each of the rule's channels in order. Failures are
// logged and counted and never stop the remaining channels.
func (d *Dispatcher) deliver(ctx context.Context, rule Rule, a Alert) {
	for _, kind := range rule.Channels {
		ch, ok := d.channels[kind]
		if !ok {
			err := &faults.ConfigurationError{
				Component: "channel " + string(kind),
				Err:       fmt.Errorf("rule %s selects a channel that is not configured", rule.ID),
			}
			slog.Warn("alerts: channel unavailable", "rule", rule.ID, "channel", kind, "err", err)
			continue
		}
		if err := d.deliverOne(ctx, ch, a.clone()); err != nil {
			d.mu.Lock()
			d.deliveryFailures++
			d.mu.Unlock()
			if d.observer != nil {
				d.observer.DeliveryFailed(string(kind))
			}
			slog.Error("alerts: delivery failed",
				"rule", rule.ID,
				"channel", kind,
				"err", &faults.TransientDeliveryError{Channel: string(kind), AlertID: a.ID, Err: err},
			)
			continue
		}
		slog.Debug("alerts: delivered", "rule", rule.ID, "channel", kind, "alert", a.ID)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, ch Channel, a Alert) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = faults.Recovered(r)
		}
	}()
	return ch.Deliver(ctx, a)
}

func (d *Dispatcher) record(a Alert) {
	d.mu.Lock()
	d.total++
	d.bySeverity[a.Severity]++
	d.mu.Unlock()
	if d.observer != nil {
		d.observer.AlertFired(string(a.Severity))
	}
}

// publish hands a to every subscriber without blocking; a full subscriber
// misses the alert.
func (d *Dispatcher) publish(a Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- a.clone():
		default:
		}
	}
}

// Subscribe returns a stream of alerts fired from now on. Call cancel to
// release it; the channel is closed afterwards.
func (d *Dispatcher) Subscribe() (alerts <-chan Alert, cancel func()) {
	ch := make(chan Alert, subscriberBuffer)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, ch)
			d.mu.Unlock()
			close(ch)
		})
	}
}

// Alerts returns up to limit of the most recent alerts, oldest first.
// limit <= 0 returns the whole log.
func (d *Dispatcher) Alerts(limit int) []Alert {
	return d.log.Recent(limit)
}

// Stats returns a point-in-time summary.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	bySev := make(map[Severity]int, len(d.bySeverity))
	for k, v := range d.bySeverity {
		bySev[k] = v
	}
	s := Stats{
		TotalAlerts:      d.total,
		BySeverity:       bySev,
		DeliveryFailures: d.deliveryFailures,
	}
	d.mu.Unlock()

	s.ActiveRules = d.registry.Len()
	s.Monitoring = d.Monitoring()
	return s
}

// Start begins periodic evaluation, running the first tick before it
// returns. Calling Start while monitoring is a no-op.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) error {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()

	if l := d.loop.Load(); l != nil && l.Running() {
		return nil
	}
	l := scheduler.New("alerts", interval, func(ctx context.Context) {
		_, _ = d.Evaluate(ctx)
	}, scheduler.WithStateHook(func(on bool) {
		if d.observer != nil {
			d.observer.MonitoringChanged("alerts", on)
		}
	}))
	d.loop.Store(l)
	return l.Start(ctx)
}

// Stop ends periodic evaluation. No tick runs after Stop returns.
func (d *Dispatcher) Stop() {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	if l := d.loop.Load(); l != nil {
		l.Stop()
	}
}

// Monitoring reports whether periodic evaluation is active.
func (d *Dispatcher) Monitoring() bool {
	l := d.loop.Load()
	return l != nil && l.Running()
}
