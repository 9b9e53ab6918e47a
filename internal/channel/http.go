package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/obsidianstack/autoheal/internal/faults"
)

// ErrNotConfigured is returned by network channels that have no target URL.
var ErrNotConfigured = errors.New("channel: target url not configured")

const defaultHTTPTimeout = 5 * time.Second

// poster POSTs JSON bodies with optional retry and rate limiting. It is
// shared by the webhook and Discord channels.
type poster struct {
	name    string
	url     string
	client  *http.Client
	retries int
	limiter *rate.Limiter

	// initialInterval seeds the exponential backoff between retries.
	initialInterval time.Duration
}

func newPoster(name, url string, timeout time.Duration, retries int, perSec float64) *poster {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	p := &poster{
		name:            name,
		url:             url,
		client:          &http.Client{Timeout: timeout},
		retries:         retries,
		initialInterval: 500 * time.Millisecond,
	}
	if perSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
	return p
}

// configured returns a ConfigurationError when the poster has no URL.
func (p *poster) configured() error {
	if p.url == "" {
		return &faults.ConfigurationError{Component: "channel " + p.name, Err: ErrNotConfigured}
	}
	return nil
}

// send POSTs body, retrying server errors and transport failures up to
// p.retries extra times. 4xx responses are not retried.
func (p *poster) send(ctx context.Context, body []byte) error {
	if err := p.configured(); err != nil {
		return err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	op := func() error { return p.post(ctx, body) }
	if p.retries <= 0 {
		return unwrapPermanent(op())
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.retries)), ctx)
	return backoff.Retry(op, b)
}

func (p *poster) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s returned HTTP %d: %s", p.name, resp.StatusCode, snippet)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("%s returned HTTP %d: %s", p.name, resp.StatusCode, snippet))
	}
	return nil
}

// unwrapPermanent strips the backoff wrapper when Retry is not involved.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
