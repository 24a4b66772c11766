package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserversInitializeLazily(t *testing.T) {
	Init()
	Init()

	ObservePage("https://pages.test/a", "crawled", 128)
	if val := testutil.ToFloat64(pagesTotal.WithLabelValues("pages.test", "crawled")); val != 1 {
		t.Errorf("expected one crawled page, got %f", val)
	}
	if val := testutil.ToFloat64(pageBytesTotal.WithLabelValues("pages.test")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}

	SetPoolState(2, 1, 3)
	if val := testutil.ToFloat64(poolAvailableWorkers); val != 2 {
		t.Errorf("expected 2 available workers, got %f", val)
	}
	if val := testutil.ToFloat64(poolQuarantinedWorkers); val != 1 {
		t.Errorf("expected 1 quarantined worker, got %f", val)
	}
	if val := testutil.ToFloat64(poolPendingJobs); val != 3 {
		t.Errorf("expected 3 pending jobs, got %f", val)
	}

	before := testutil.ToFloat64(poolDispatchTotal.WithLabelValues("timeout"))
	ObserveDispatch("timeout")
	if val := testutil.ToFloat64(poolDispatchTotal.WithLabelValues("timeout")); val != before+1 {
		t.Errorf("expected timeout dispatch count to grow by one, got %f", val-before)
	}

	ObserveRateLimitDelay("pages.test", 250*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaySeconds); val <= 0 {
		t.Errorf("expected rate limit delay to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
