// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// DUCKDUCKGO TESTS
// =============================================================================

const ddgFixture = `<html><body>
<div class="result results_links web-result">
  <h2 class="result__title">
    <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=abc">The <b>Go</b> Programming Language</a>
  </h2>
  <a class="result__snippet" href="x">Documentation &amp; tutorials for <b>Go</b>.</a>
</div>
<div class="result results_links web-result">
  <h2 class="result__title">
    <a rel="nofollow" class="result__a" href="https://pkg.go.dev/">Go Packages</a>
  </h2>
  <a class="result__snippet" href="y">Search   packages</a>
</div>
<div class="result results_links web-result">
  <h2 class="result__title">
    <a rel="nofollow" class="result__a" href="https://go.dev/blog/">Go Blog</a>
  </h2>
  <a class="result__snippet" href="z">News</a>
</div>
</body></html>`

func newDDGServer(t *testing.T, gotQuery *string) *DuckDuckGo {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotQuery != nil {
			*gotQuery = r.URL.Query().Get("q")
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(ddgFixture))
	}))
	t.Cleanup(srv.Close)

	ddg := NewDuckDuckGo(5 * time.Second)
	ddg.BaseURL = srv.URL + "/html/"
	return ddg
}

func TestDuckDuckGo_Search(t *testing.T) {
	var q string
	ddg := newDDGServer(t, &q)

	results, err := ddg.Search(context.Background(), "golang docs", 5)
	require.NoError(t, err)
	assert.Equal(t, "golang docs", q)
	require.Len(t, results, 3)

	assert.Equal(t, "The Go Programming Language", results[0].Title)
	assert.Equal(t, "https://go.dev/doc/", results[0].URL)
	assert.Equal(t, "Documentation & tutorials for Go.", results[0].Description)

	assert.Equal(t, "https://pkg.go.dev/", results[1].URL)
	assert.Equal(t, "Search packages", results[1].Description)
}

func TestDuckDuckGo_MaxResults(t *testing.T) {
	ddg := newDDGServer(t, nil)

	results, err := ddg.Search(context.Background(), "go", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = ddg.Search(context.Background(), "go", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1, "maxResults below 1 clamps to 1")
}

func TestDuckDuckGo_EmptyQuery(t *testing.T) {
	ddg := NewDuckDuckGo(time.Second)
	_, err := ddg.Search(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestDuckDuckGo_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ddg := NewDuckDuckGo(time.Second)
	ddg.BaseURL = srv.URL
	_, err := ddg.Search(context.Background(), "go", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestExtractActualURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa", "https://example.com/a"},
		{"https://example.com", "https://example.com"},
		{"/relative/path", ""},
		{"javascript:alert(1)", ""},
	}
	for _, tt := range tests {
		if got := extractActualURL(tt.in); got != tt.want {
			t.Errorf("extractActualURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// SSRF TESTS
// =============================================================================

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"public https", "https://example.com/page", nil},
		{"public http", "http://example.com", nil},
		{"file scheme", "file:///etc/passwd", ErrInvalidScheme},
		{"ftp scheme", "ftp://example.com", ErrInvalidScheme},
		{"no host", "https://", ErrInvalidURL},
		{"localhost", "http://localhost:8080", ErrBlockedHost},
		{"metadata host", "http://metadata.google.internal/computeMetadata", ErrBlockedHost},
		{"loopback ip", "http://127.0.0.1/", ErrBlockedIP},
		{"aws metadata ip", "http://169.254.169.254/latest/meta-data", ErrBlockedIP},
		{"rfc1918", "http://192.168.1.1/", ErrBlockedIP},
		{"ipv6 loopback", "http://[::1]/", ErrBlockedIP},
		{"ipv6 unique local", "http://[fd00::1]/", ErrBlockedIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateURL(tt.url, false)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateURL_AllowPrivate(t *testing.T) {
	for _, raw := range []string{"http://127.0.0.1:9000/", "http://localhost/", "http://10.1.2.3/"} {
		_, err := validateURL(raw, true)
		assert.NoError(t, err, raw)
	}
	_, err := validateURL("file:///etc/passwd", true)
	assert.ErrorIs(t, err, ErrInvalidScheme, "scheme is checked even when private networks are allowed")
}

func TestIsBlockedIP_IPv4Mapped(t *testing.T) {
	assert.True(t, isBlockedIP(net.ParseIP("::ffff:127.0.0.1")))
	assert.False(t, isBlockedIP(net.ParseIP("8.8.8.8")))
}

// =============================================================================
// WEB FETCH TESTS
// =============================================================================

const pageFixture = `<!DOCTYPE html>
<html><head><title>T</title><style>body{color:red}</style></head>
<body>
<nav><a href="/">Home</a> | <a href="/about">About us</a></nav>
<header>Site banner</header>
<main>
  <h1>Release notes</h1>
  <p>Version 2 adds <strong>streaming</strong> support.</p>
  <script>trackVisitor()</script>
  <!-- hidden comment -->
</main>
<footer>Copyright footer</footer>
</body></html>`

func TestMainContent(t *testing.T) {
	md, err := MainContent(pageFixture)
	require.NoError(t, err)

	assert.Contains(t, md, "Release notes")
	assert.Contains(t, md, "streaming")
	assert.NotContains(t, md, "About us")
	assert.NotContains(t, md, "Site banner")
	assert.NotContains(t, md, "Copyright footer")
	assert.NotContains(t, md, "trackVisitor")
	assert.NotContains(t, md, "hidden comment")
	assert.NotContains(t, md, "color:red")
}

func TestMainContent_FallsBackToBody(t *testing.T) {
	md, err := MainContent(`<html><body><nav>menu</nav><div><p>Plain body text</p></div></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, md, "Plain body text")
	assert.NotContains(t, md, "menu")
}

func TestMainContent_RoleMain(t *testing.T) {
	md, err := MainContent(`<html><body><div>outside</div><div role="main"><p>inside</p></div></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, md, "inside")
	assert.NotContains(t, md, "outside")
}

func newPageServer(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebFetcher_HTML(t *testing.T) {
	srv := newPageServer(t, "text/html; charset=utf-8", pageFixture)

	f := NewWebFetcher(0, true)
	text, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "Release notes")
	assert.NotContains(t, text, "About us")
}

func TestWebFetcher_PlainText(t *testing.T) {
	srv := newPageServer(t, "text/plain", "line one\n\n\n\n\nline two   \n")

	f := NewWebFetcher(0, true)
	text, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "line one\n\nline two", text)
}

func TestWebFetcher_TruncatesToMaxChars(t *testing.T) {
	srv := newPageServer(t, "text/plain", strings.Repeat("ä", 500))

	f := NewWebFetcher(100, true)
	text, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 100, utf8.RuneCountInString(text))
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestWebFetcher_Binary(t *testing.T) {
	srv := newPageServer(t, "application/octet-stream", "\x00\x01\x02")

	f := NewWebFetcher(0, true)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrUnsupportedContent)
}

func TestWebFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewWebFetcher(0, true)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestWebFetcher_TooLarge(t *testing.T) {
	srv := newPageServer(t, "text/plain", strings.Repeat("x", 2048))

	f := NewWebFetcher(0, true)
	f.MaxResponseSize = 1024
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestWebFetcher_BlocksLoopbackByDefault(t *testing.T) {
	srv := newPageServer(t, "text/plain", "secret")

	f := NewWebFetcher(0, false)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrBlockedIP), "got %v", err)
}

func TestWebFetcher_BlocksRedirectToPrivate(t *testing.T) {
	f := NewWebFetcher(0, false)
	check := f.newClient().CheckRedirect

	req := httptest.NewRequest(http.MethodGet, "http://169.254.169.254/latest", nil)
	assert.ErrorIs(t, check(req, nil), ErrBlockedIP)

	req = httptest.NewRequest(http.MethodGet, "http://example.com/next", nil)
	assert.NoError(t, check(req, nil))
}

func TestWebFetcher_RedirectCap(t *testing.T) {
	f := NewWebFetcher(0, true)
	check := f.newClient().CheckRedirect
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	via := make([]*http.Request, defaultMaxRedirects)
	assert.ErrorIs(t, check(req, via), ErrTooManyRedirects)
}
