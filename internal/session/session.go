// Package session owns authenticated browser-backed contexts, one per
// platform/account. All mutation of a session's state goes through the
// store's lock.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/socialminer/crawler/internal/engine"
)

// Session is one authenticated browser context bound to a platform. It
// implements engine.Session; mutable fields are serialized behind mu.
type Session struct {
	id       string
	platform string

	mu           sync.Mutex
	state        engine.SessionState
	cookieHeader string
	userAgent    string
	lastUsed     time.Time
	browser      browserContext
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Platform returns the platform this session is bound to.
func (s *Session) Platform() string { return s.platform }

// State returns the current health state.
func (s *Session) State() engine.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CookieHeader returns the Cookie header value for outbound requests.
func (s *Session) CookieHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookieHeader
}

// UserAgent returns the UA the browser context was launched with.
func (s *Session) UserAgent() string { return s.userAgent }

// Touch records the last-used timestamp.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.lastUsed) {
		s.lastUsed = t
	}
}

// LastUsed returns the last-used timestamp.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// BrowserContext exposes the live browser context for in-page evaluation,
// or nil when the context is gone. Only the signing bridge should use this.
func (s *Session) BrowserContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	return s.browser.Context()
}

func (s *Session) setState(st engine.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setCookies(cookies []engine.Cookie) {
	s.mu.Lock()
	s.cookieHeader = cookieHeader(cookies)
	s.mu.Unlock()
}

func (s *Session) closeBrowser() {
	s.mu.Lock()
	b := s.browser
	s.browser = nil
	s.mu.Unlock()
	if b != nil {
		b.Close()
	}
}

func cookieHeader(cookies []engine.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func hasLoginCookies(cookies []engine.Cookie, names []string) bool {
	present := make(map[string]bool, len(cookies))
	for _, c := range cookies {
		present[c.Name] = true
	}
	for _, n := range names {
		if present[n] {
			return true
		}
	}
	return false
}
