// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

// =============================================================================
// ERRORS
// =============================================================================

// Error types for offline mode violations.
var (
	// ErrSearchBlocked is returned when web search is attempted in offline mode.
	ErrSearchBlocked = errors.New("web search disabled in offline mode")

	// ErrWebFetchBlocked is returned when URL content is fetched in offline mode.
	ErrWebFetchBlocked = errors.New("web fetch disabled in offline mode")

	// ErrNonLocalhost is returned when a remote backend is not on this machine
	// in offline mode.
	ErrNonLocalhost = errors.New("only localhost/127.0.0.1 backends allowed in offline mode")

	// ErrInvalidURLScheme is returned when URL scheme is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https schemes are allowed")

	// ErrInvalidURL is returned when a URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid URL")
)

// =============================================================================
// GUARD
// =============================================================================

// Guard reports which network features are allowed. One Guard is built per
// application and shared by the components that reach outside the machine;
// toggling it takes effect on the next check.
type Guard struct {
	enabled atomic.Bool
}

// NewGuard returns a guard in the given mode.
func NewGuard(enabled bool) *Guard {
	g := &Guard{}
	g.enabled.Store(enabled)
	return g
}

// SetEnabled switches offline mode on or off.
func (g *Guard) SetEnabled(enabled bool) {
	g.enabled.Store(enabled)
}

// Enabled reports whether offline mode is on. A nil guard is never offline.
func (g *Guard) Enabled() bool {
	return g != nil && g.enabled.Load()
}

// CheckSearch returns an error if web search is not allowed.
func (g *Guard) CheckSearch() error {
	if g.Enabled() {
		return ErrSearchBlocked
	}
	return nil
}

// CheckWebFetch returns an error if URL content fetch is not allowed.
func (g *Guard) CheckWebFetch() error {
	if g.Enabled() {
		return ErrWebFetchBlocked
	}
	return nil
}

// CheckBackendURL validates a backend base URL. The scheme is always
// checked; in offline mode the host must also be a loopback address.
//
// SECURITY: Rejects file://, javascript:// and data:// style URLs regardless
// of mode.
func (g *Guard) CheckBackendURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}

	if g.Enabled() && !IsLocalhost(parsed.Hostname()) {
		return ErrNonLocalhost
	}
	return nil
}

// StatusIndicator returns "OFFLINE MODE" when offline, empty otherwise.
func (g *Guard) StatusIndicator() string {
	if g.Enabled() {
		return "OFFLINE MODE"
	}
	return ""
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost checks if a host string refers to localhost.
// Accepts: "localhost", "127.0.0.1", "::1", "[::1]", and any IPv6 loopback variant.
//
// SECURITY: Uses net.IP.IsLoopback() so every 127.0.0.0/8 address and every
// spelling of ::1 is recognized.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
