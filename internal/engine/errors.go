package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ClassifyError renders a transport error as a page-level error string.
func ClassifyError(rawURL string, err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	msg := strings.ToLower(err.Error())
	switch {
	case errors.As(err, &dnsErr) || strings.Contains(msg, "no such host"):
		return fmt.Sprintf("DNS lookup failed: %s", rawURL)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(msg, "timeout"):
		return fmt.Sprintf("Timeout: %s", rawURL)
	case errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(msg, "connection refused"):
		return fmt.Sprintf("Connection refused: %s", rawURL)
	default:
		return fmt.Sprintf("Request failed: %s (%v)", rawURL, err)
	}
}

// ClassifyStatus renders a non-2xx response as a page-level error string.
func ClassifyStatus(rawURL string, status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("HTTP %d %s: %s", status, text, rawURL)
	}
	return fmt.Sprintf("HTTP %d: %s", status, rawURL)
}
