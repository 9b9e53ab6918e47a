package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/obsidianstack/autoheal/internal/watchdog"
)

// TLS reports an agent healthy when its HTTPS endpoint completes a TLS
// handshake and the leaf certificate stays valid for at least MinValidity.
// An unreachable endpoint is unhealthy, not a failed check.
type TLS struct {
	Endpoint           string
	MinValidity        time.Duration
	Timeout            time.Duration
	InsecureSkipVerify bool

	now func() time.Time // injectable for deterministic tests
}

// NewTLS returns a TLS checker for endpoint, which must be an https URL.
func NewTLS(endpoint string, minValidity, timeout time.Duration, insecure bool) (*TLS, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" {
		return nil, fmt.Errorf("tls health check: %q is not an https url", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &TLS{
		Endpoint:           endpoint,
		MinValidity:        minValidity,
		Timeout:            timeout,
		InsecureSkipVerify: insecure,
		now:                time.Now,
	}, nil
}

func (c *TLS) IsHealthy(ctx context.Context, _ watchdog.AgentProcess) (bool, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return false, fmt.Errorf("parse endpoint: %w", err)
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		// No explicit port in the URL, append the HTTPS default.
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return false, nil
	}
	return peers[0].NotAfter.Sub(c.now()) > c.MinValidity, nil
}
