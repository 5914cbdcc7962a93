// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// PERFORMANCE: Pre-compiled regex (compiled once at startup)
// =============================================================================

var (
	// DuckDuckGo HTML parsing patterns
	ddgTitleRegex   = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.+?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.+?)</a>`)

	// HTML cleaning patterns for DuckDuckGo results
	ddgTagRegex        = regexp.MustCompile(`<[^>]*>`)
	ddgWhitespaceRegex = regexp.MustCompile(`\s+`)
)

const (
	defaultDDGBaseURL   = "https://html.duckduckgo.com/html/"
	defaultDDGUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// MaxSearchResults caps a single query.
	MaxSearchResults = 10

	maxDescriptionRunes = 300
)

// ErrEmptyQuery is returned when Search is called without a query.
var ErrEmptyQuery = errors.New("search query is empty")

// =============================================================================
// DUCKDUCKGO SEARCH
// =============================================================================

// DuckDuckGo implements web search against the DuckDuckGo HTML endpoint.
// No API key is needed.
type DuckDuckGo struct {
	// BaseURL is the DuckDuckGo HTML search endpoint
	BaseURL string

	// Timeout bounds the whole request when the caller's context has none
	// shorter (default: 15s)
	Timeout time.Duration

	// UserAgent is the User-Agent header to send
	UserAgent string

	client *http.Client
}

// NewDuckDuckGo creates a search provider with the given timeout.
func NewDuckDuckGo(timeout time.Duration) *DuckDuckGo {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DuckDuckGo{
		BaseURL:   defaultDDGBaseURL,
		Timeout:   timeout,
		UserAgent: defaultDDGUserAgent,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
	}
}

// Search runs a query and returns at most maxResults hits in page order.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > MaxSearchResults {
		maxResults = MaxSearchResults
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}

	// Note: Don't set Accept-Encoding. Go's default transport negotiates gzip
	// and decompresses transparently only when the header is left alone.
	req.Header.Set("User-Agent", d.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	results := parseDDGResults(string(body))
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// parseDDGResults extracts search results from DuckDuckGo HTML.
//
// DuckDuckGo HTML structure:
//
//	<div class="result results_links web-result">
//	  <h2 class="result__title">
//	    <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=URL">Title</a>
//	  </h2>
//	  <a class="result__snippet" href="...">Snippet text</a>
//	</div>
func parseDDGResults(page string) []model.SearchResult {
	var results []model.SearchResult

	titleMatches := ddgTitleRegex.FindAllStringSubmatch(page, 30)
	snippetMatches := ddgSnippetRegex.FindAllStringSubmatch(page, 30)

	for i, match := range titleMatches {
		if len(match) < 3 {
			continue
		}

		// DuckDuckGo uses &amp; for & in HTML
		actualURL := extractActualURL(strings.ReplaceAll(match[1], "&amp;", "&"))
		title := cleanHTML(match[2])
		if actualURL == "" || title == "" {
			continue
		}

		description := ""
		if i < len(snippetMatches) && len(snippetMatches[i]) >= 2 {
			// UNICODE: Rune-aware truncation preserves multi-byte characters
			description = util.TruncateRunes(cleanHTML(snippetMatches[i][1]), maxDescriptionRunes)
		}

		results = append(results, model.SearchResult{
			Title:       title,
			URL:         actualURL,
			Description: description,
		})
		if len(results) >= 20 {
			break
		}
	}

	return results
}

// extractActualURL extracts the real URL from DuckDuckGo's redirect wrapper.
func extractActualURL(ddgURL string) string {
	// Handle //duckduckgo.com/l/?uddg=ENCODED_URL format
	if strings.Contains(ddgURL, "uddg=") {
		if strings.HasPrefix(ddgURL, "//") {
			ddgURL = "https:" + ddgURL
		}
		parsed, err := url.Parse(ddgURL)
		if err != nil {
			return ""
		}
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
	}

	if strings.HasPrefix(ddgURL, "http://") || strings.HasPrefix(ddgURL, "https://") {
		return ddgURL
	}
	return ""
}

// cleanHTML removes tags, decodes entities and collapses whitespace.
func cleanHTML(fragment string) string {
	text := ddgTagRegex.ReplaceAllString(fragment, "")
	text = html.UnescapeString(text)
	text = ddgWhitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
