// Package probe answers whether the self-hosted backend is reachable right now.
package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"fieldassist/internal/metrics"
)

const (
	// DefaultTimeout bounds a single probe.
	DefaultTimeout = time.Second
	statusPath     = "/api/tags"
)

var localHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
	"0.0.0.0":   {},
}

// IsLocalHost reports whether host (optionally with a port) is a development host.
func IsLocalHost(host string) bool {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	_, ok := localHosts[strings.ToLower(host)]
	return ok
}

// Prober checks the local backend's status endpoint. Results are never cached.
type Prober struct {
	baseURL string
	host    string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New constructs a prober. host is the host the application itself is served
// from; probing is skipped entirely when it is not a development host.
func New(baseURL, host string, timeout time.Duration, client *http.Client, logger *zap.Logger, m *metrics.Metrics) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		baseURL: strings.TrimRight(baseURL, "/"),
		host:    host,
		timeout: timeout,
		client:  client,
		logger:  logger.Named("probe"),
		metrics: m,
	}
}

// Reachable issues a GET against the status endpoint. Any failure, including
// a non-2xx status or timeout, reports false.
func (p *Prober) Reachable(ctx context.Context) bool {
	if !IsLocalHost(p.host) {
		p.logger.Debug("skipping local probe for non-development host", zap.String("host", p.host))
		p.metrics.SetLocalAvailable(false)
		return false
	}

	ok := p.probe(ctx)
	p.metrics.SetLocalAvailable(ok)
	return ok
}

func (p *Prober) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+statusPath, nil)
	if err != nil {
		p.logger.Debug("build probe request", zap.Error(err))
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("local backend unreachable", zap.String("url", p.baseURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Debug("local backend unhealthy", zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}
