// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

const (
	defaultMaxResponseSize = 5 * 1024 * 1024 // 5MB
	defaultFetchTimeout    = 30 * time.Second
	defaultMaxRedirects    = 5
	defaultFetchUserAgent  = "rigrun-chat/1.0 (+https://github.com/jeranaias/rigrun-chat)"

	// DefaultMaxContentChars bounds the extracted main content.
	DefaultMaxContentChars = 8000
)

var (
	// ErrResponseTooLarge is returned when the body exceeds MaxResponseSize.
	ErrResponseTooLarge = errors.New("response body too large")

	// ErrUnsupportedContent is returned for binary content types.
	ErrUnsupportedContent = errors.New("unsupported content type")
)

var multiNewlineRegex = regexp.MustCompile(`\n{3,}`)

// Elements that never hold the main text of a page.
var droppedAtoms = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
}

// =============================================================================
// WEB FETCHER
// =============================================================================

// WebFetcher fetches a page and extracts its main textual content as
// markdown, bounded in length.
type WebFetcher struct {
	// MaxResponseSize is the maximum response body size to read (default: 5MB)
	MaxResponseSize int64

	// MaxChars bounds the returned content in runes (default: 8000)
	MaxChars int

	// Timeout is the maximum time for the entire request (default: 30s)
	Timeout time.Duration

	// MaxRedirects is the maximum number of redirects to follow (default: 5)
	MaxRedirects int

	// UserAgent is the User-Agent header to send
	UserAgent string

	// AllowPrivate disables the SSRF guard so pages on the local network
	// can be fetched.
	AllowPrivate bool

	client *http.Client
}

// NewWebFetcher creates a fetcher. maxChars <= 0 selects the default.
func NewWebFetcher(maxChars int, allowPrivate bool) *WebFetcher {
	if maxChars <= 0 {
		maxChars = DefaultMaxContentChars
	}
	f := &WebFetcher{
		MaxResponseSize: defaultMaxResponseSize,
		MaxChars:        maxChars,
		Timeout:         defaultFetchTimeout,
		MaxRedirects:    defaultMaxRedirects,
		UserAgent:       defaultFetchUserAgent,
		AllowPrivate:    allowPrivate,
	}
	f.client = f.newClient()
	return f
}

// newClient creates an HTTP client with SSRF protections.
func (f *WebFetcher) newClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	if !f.AllowPrivate {
		transport.Proxy = nil
		transport.DialContext = guardedDialContext(dialer)
	}

	// Use len(via) rather than a captured counter so concurrent requests do
	// not share redirect state.
	maxRedirects := f.MaxRedirects
	allowPrivate := f.AllowPrivate
	return &http.Client{
		Transport: transport,
		Timeout:   f.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			_, err := validateURL(req.URL.String(), allowPrivate)
			return err
		},
	}
}

// Fetch retrieves rawURL and returns its main content.
func (f *WebFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := validateURL(rawURL, f.AllowPrivate)
	if err != nil {
		return "", err
	}
	if f.client == nil {
		f.client = f.newClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d %s for %s", resp.StatusCode, http.StatusText(resp.StatusCode), u.Redacted())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxResponseSize+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.MaxResponseSize {
		return "", ErrResponseTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	var content string
	switch {
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		content, err = MainContent(string(body))
		if err != nil {
			return "", err
		}
	case strings.HasPrefix(contentType, "text/"), strings.Contains(contentType, "application/json"):
		content = string(body)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}

	// UNICODE: Rune-aware truncation preserves multi-byte characters
	return util.TruncateRunes(cleanWhitespace(content), f.MaxChars), nil
}

// =============================================================================
// MAIN CONTENT EXTRACTION
// =============================================================================

// MainContent picks the main region of an HTML page (<main>, <article>,
// role="main", else <body>), drops navigation and scripts, and converts the
// rest to markdown.
func MainContent(page string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	removeDropped(doc)

	root := findFirst(doc, isMainRegion)
	if root == nil {
		root = findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	}
	if root == nil {
		root = doc
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(buf.String())
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func isMainRegion(n *html.Node) bool {
	if n.DataAtom == atom.Main || n.DataAtom == atom.Article {
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "role" && strings.EqualFold(a.Val, "main") {
			return true
		}
	}
	return false
}

// findFirst returns the first element in document order matching pred.
func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// removeDropped detaches dropped elements and comments from the tree.
func removeDropped(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && droppedAtoms[c.DataAtom]) {
			n.RemoveChild(c)
			continue
		}
		removeDropped(c)
	}
}

// cleanWhitespace trims trailing space on each line and collapses runs of
// blank lines.
func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")
	text = multiNewlineRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
