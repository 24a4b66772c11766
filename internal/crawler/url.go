package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var datasourceInvalidChars = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and fragments, and
// sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// Domain returns the lowercased host of rawURL without port.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DocumentID is the stable document identifier for a page of a datasource.
func DocumentID(datasourceID, finalURL string) string {
	sum := sha256.Sum256([]byte(datasourceID + ":" + finalURL))
	return hex.EncodeToString(sum[:])
}

// DefaultDatasourceID derives a datasource id from a start URL, e.g.
// https://docs.example.com/guide/ -> src_docs_example_com_guide.
func DefaultDatasourceID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "src_" + strings.Trim(datasourceInvalidChars.ReplaceAllString(strings.ToLower(rawURL), "_"), "_")
	}
	key := strings.ToLower(u.Hostname()) + strings.TrimRight(strings.ToLower(u.Path), "/")
	return "src_" + strings.Trim(datasourceInvalidChars.ReplaceAllString(key, "_"), "_")
}

// DefaultDatasourceName is the host of the start URL.
func DefaultDatasourceName(rawURL string) string {
	if d := Domain(rawURL); d != "" {
		return d
	}
	return rawURL
}
