package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport sits under the collector. Page requests pass straight
// through. robots.txt requests are retried on timeouts; when every attempt
// times out the request is answered with an allow-all policy and the host is
// remembered, so pages fetched from it can be flagged.
type robotsTransport struct {
	base    http.RoundTripper
	logger  *zap.Logger
	backoff []time.Duration
	// timeout bounds each robots.txt attempt; colly sends that request
	// without a context.
	timeout time.Duration

	mu      sync.Mutex
	assumed map[string]struct{}
}

func newRobotsTransport(base http.RoundTripper, logger *zap.Logger) *robotsTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsTransport{
		base:    base,
		logger:  logger,
		backoff: defaultRobotsBackoff,
		assumed: make(map[string]struct{}),
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}
	return t.fetchRobots(req)
}

// assumedAllowAll reports whether host's robots.txt was replaced by the
// allow-all fallback.
func (t *robotsTransport) assumedAllowAll(host string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.assumed[strings.ToLower(host)]
	return ok
}

func (t *robotsTransport) fetchRobots(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= len(t.backoff); attempt++ {
		if attempt > 0 {
			if err := wait(req.Context(), t.backoff[attempt-1]); err != nil {
				return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
			}
		}
		resp, err := t.attempt(req)
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
		}
		lastErr = err
	}

	t.mu.Lock()
	t.assumed[strings.ToLower(req.URL.Hostname())] = struct{}{}
	t.mu.Unlock()
	t.logger.Warn("robots.txt unreachable, assuming allow-all",
		zap.String("host", req.URL.Host), zap.Int("attempts", len(t.backoff)+1), zap.Error(lastErr))
	metrics.ObserveRobotsFallback()
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}, nil
}

func (t *robotsTransport) attempt(req *http.Request) (*http.Response, error) {
	if t.timeout <= 0 {
		return t.base.RoundTrip(req.Clone(req.Context()))
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.base.RoundTrip(req.Clone(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isTimeout matches deadline errors and TLS handshake timeouts.
func isTimeout(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	default:
		return strings.Contains(err.Error(), "tls: handshake timeout")
	}
}
