package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "autoheal"

	LoopAlerts   = "alerts"
	LoopWatchdog = "watchdog"
)

// Stats is the JSON view of the collected counters.
type Stats struct {
	AlertsBySeverity map[string]int  `json:"alerts_by_severity"`
	DeliveryFailures map[string]int  `json:"delivery_failures"`
	RestartsByAgent  map[string]int  `json:"restarts_by_agent"`
	RestartFailures  map[string]int  `json:"restart_failures"`
	Monitoring       map[string]bool `json:"monitoring"`
}

// Metrics records alert, delivery, restart and monitoring counters. It
// satisfies both alerts.Observer and watchdog.Observer.
//
// Each Metrics owns a private registry so independent instances (and tests)
// never collide on the global default registry.
type Metrics struct {
	reg *prometheus.Registry

	alertsFired      *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	restarts         *prometheus.CounterVec
	monitoring       *prometheus.GaugeVec

	mu   sync.Mutex
	snap Stats
}

// New creates a Metrics with Go runtime and process collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		alertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Alerts fired, by severity.",
		}, []string{"severity"}),
		deliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "delivery_failures_total",
			Help:      "Failed channel deliveries, by channel.",
		}, []string{"channel"}),
		restarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "restarts_total",
			Help:      "Agent restart attempts, by agent and result.",
		}, []string{"agent", "result"}),
		monitoring: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitoring",
			Help:      "1 while the named control loop is scheduled.",
		}, []string{"loop"}),
		snap: Stats{
			AlertsBySeverity: map[string]int{},
			DeliveryFailures: map[string]int{},
			RestartsByAgent:  map[string]int{},
			RestartFailures:  map[string]int{},
			Monitoring:       map[string]bool{LoopAlerts: false, LoopWatchdog: false},
		},
	}
}

// AlertFired counts one alert.
func (m *Metrics) AlertFired(severity string) {
	m.alertsFired.WithLabelValues(severity).Inc()
	m.mu.Lock()
	m.snap.AlertsBySeverity[severity]++
	m.mu.Unlock()
}

// DeliveryFailed counts one failed delivery.
func (m *Metrics) DeliveryFailed(channel string) {
	m.deliveryFailures.WithLabelValues(channel).Inc()
	m.mu.Lock()
	m.snap.DeliveryFailures[channel]++
	m.mu.Unlock()
}

// Restarted counts one restart attempt.
func (m *Metrics) Restarted(agentID string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.restarts.WithLabelValues(agentID, result).Inc()
	m.mu.Lock()
	m.snap.RestartsByAgent[agentID]++
	if !ok {
		m.snap.RestartFailures[agentID]++
	}
	m.mu.Unlock()
}

// MonitoringChanged flips the gauge for loop.
func (m *Metrics) MonitoringChanged(loop string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	m.monitoring.WithLabelValues(loop).Set(v)
	m.mu.Lock()
	m.snap.Monitoring[loop] = on
	m.mu.Unlock()
}

// Snapshot returns a deep copy of the counters.
func (m *Metrics) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		AlertsBySeverity: copyInts(m.snap.AlertsBySeverity),
		DeliveryFailures: copyInts(m.snap.DeliveryFailures),
		RestartsByAgent:  copyInts(m.snap.RestartsByAgent),
		RestartFailures:  copyInts(m.snap.RestartFailures),
		Monitoring:       copyBools(m.snap.Monitoring),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func copyInts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyBools(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
