package metrics

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/autoheal/internal/config"
)

const defaultScrapeTimeout = 10 * time.Second

// Prometheus scrapes a text-exposition endpoint and derives a Snapshot from
// the configured metric families.
//
// Counter fields are cumulative on the wire. Prometheus keeps the previous
// scrape as a baseline and reports error rate and mean latency over the
// interval between two scrapes; the first scrape (and any scrape after a
// counter reset) falls back to the lifetime ratio.
type Prometheus struct {
	cfg    config.MetricsConfig
	client *http.Client

	mu   sync.Mutex
	prev *counters
}

// counters holds the raw cumulative values read from one scrape.
type counters struct {
	ops, errs, latSum, latCount float64
}

// NewPrometheus builds the HTTP client once and reuses it across scrapes.
func NewPrometheus(cfg config.MetricsConfig) (*Prometheus, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("prometheus source: endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultScrapeTimeout
	}
	client := &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
			}},
			auth: cfg.Auth,
		},
		Timeout: timeout,
	}
	return &Prometheus{cfg: cfg, client: client}, nil
}

// Current performs one scrape.
func (p *Prometheus) Current(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{CollectedAt: time.Now().UTC()}

	mfs, err := fetchMetrics(ctx, p.client, p.cfg.Endpoint)
	if err != nil {
		slog.Warn("metrics: prometheus scrape failed", "endpoint", p.cfg.Endpoint, "err", err)
		return snap, fmt.Errorf("prometheus scrape %q: %w", p.cfg.Endpoint, err)
	}

	n := p.cfg.Names
	latSum, latCount := latencyTotals(mfs, n.LatencySum, n.LatencyCount)
	cur := &counters{
		ops:      sumFamily(mfs[n.Operations]),
		errs:     sumFamily(mfs[n.Errors]),
		latSum:   latSum,
		latCount: latCount,
	}
	snap.OperationsTotal = cur.ops
	snap.MemoryUsageMB = sumFamily(mfs[n.Memory]) / bytesPerMB

	p.mu.Lock()
	prev := p.prev
	p.prev = cur
	p.mu.Unlock()

	window := *cur
	if prev != nil && cur.ops >= prev.ops && cur.latCount >= prev.latCount {
		window = counters{
			ops:      cur.ops - prev.ops,
			errs:     cur.errs - prev.errs,
			latSum:   cur.latSum - prev.latSum,
			latCount: cur.latCount - prev.latCount,
		}
	}
	if window.ops > 0 {
		snap.ErrorRatePercent = window.errs / window.ops * 100
	}
	if window.latCount > 0 {
		// Histogram sums are exported in seconds.
		snap.AvgResponseTimeMs = window.latSum / window.latCount * 1000
	}
	return snap, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.SourceAuth
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// latencyTotals returns the latency sum and count. Typed histograms and
// summaries fold their _sum/_count series into the base family, so those are
// read from the base name when no standalone family exists.
func latencyTotals(mfs map[string]*dto.MetricFamily, sumName, countName string) (sum, count float64) {
	if mfs[sumName] != nil || mfs[countName] != nil {
		return sumFamily(mfs[sumName]), sumFamily(mfs[countName])
	}
	mf := mfs[strings.TrimSuffix(sumName, "_sum")]
	if mf == nil {
		return 0, 0
	}
	for _, m := range mf.GetMetric() {
		switch {
		case m.Histogram != nil:
			sum += m.Histogram.GetSampleSum()
			count += float64(m.Histogram.GetSampleCount())
		case m.Summary != nil:
			sum += m.Summary.GetSampleSum()
			count += float64(m.Summary.GetSampleCount())
		}
	}
	return sum, count
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
