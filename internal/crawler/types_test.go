package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validRequest() CrawlRequest {
	return CrawlRequest{
		JobID: "job-1",
		URL:   "https://example.com/",
		Settings: Settings{
			CrawlMode: ModeSingle,
			MaxPages:  1,
		},
	}
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusFailed, DeriveStatus(0, 0))
	require.Equal(t, StatusFailed, DeriveStatus(0, 3))
	require.Equal(t, StatusPartial, DeriveStatus(2, 1))
	require.Equal(t, StatusSuccess, DeriveStatus(5, 0))
}

func TestParseCrawlMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseCrawlMode("")
	require.NoError(t, err)
	require.Equal(t, ModeSingle, mode)

	mode, err = ParseCrawlMode(" Sitemap ")
	require.NoError(t, err)
	require.Equal(t, ModeSitemap, mode)

	_, err = ParseCrawlMode("deep")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCrawlRequestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validRequest().Validate())

	cases := map[string]func(*CrawlRequest){
		"missing job id":   func(r *CrawlRequest) { r.JobID = " " },
		"relative url":     func(r *CrawlRequest) { r.URL = "/docs" },
		"ftp scheme":       func(r *CrawlRequest) { r.URL = "ftp://example.com" },
		"zero max pages":   func(r *CrawlRequest) { r.MaxPages = 0 },
		"negative depth":   func(r *CrawlRequest) { r.MaxDepth = -1 },
		"bad mode":         func(r *CrawlRequest) { r.CrawlMode = "everything" },
		"bad allow regex":  func(r *CrawlRequest) { r.AllowedURLPatterns = []string{"("} },
		"bad deny regex":   func(r *CrawlRequest) { r.DeniedURLPatterns = []string{"[a-"} },
		"negative workers": func(r *CrawlRequest) { r.ConcurrentRequests = -2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := validRequest()
			mutate(&req)
			require.ErrorIs(t, req.Validate(), ErrInvalidRequest)
		})
	}
}

func TestPageContentType(t *testing.T) {
	t.Parallel()

	page := Page{Headers: map[string][]string{"Content-Type": {"Text/HTML; charset=utf-8"}}}
	require.Equal(t, "text/html", page.ContentType())
	require.Empty(t, Page{}.ContentType())
}
