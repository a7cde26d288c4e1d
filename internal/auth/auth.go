// Package auth supplies login artifacts to the session store. The engine
// never implements login UX; it consumes cookies produced by an external
// flow (QR scan, cookie export) through this boundary.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/socialminer/crawler/internal/engine"
)

// Authenticator is the authentication collaborator: it yields the cookies of
// a live login and can report whether that login is still usable.
type Authenticator interface {
	Cookies(ctx context.Context, platform string) ([]engine.Cookie, error)
	IsValid(ctx context.Context, platform string) bool
}

// CookieImport authenticates by importing a cookie string captured from an
// already logged-in browser ("name1=v1; name2=v2").
type CookieImport struct {
	cookieStr string
	domain    string
}

// NewCookieImport builds a cookie-import authenticator. domain is the cookie
// domain to bind imported cookies to (e.g. ".goofish.com").
func NewCookieImport(cookieStr, domain string) *CookieImport {
	return &CookieImport{cookieStr: cookieStr, domain: domain}
}

// Cookies parses the imported cookie string.
func (a *CookieImport) Cookies(_ context.Context, _ string) ([]engine.Cookie, error) {
	cookies, err := ParseCookieString(a.cookieStr, a.domain)
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("cookie import: no cookies configured")
	}
	return cookies, nil
}

// IsValid reports whether any cookies are configured at all; real liveness
// is established by the session store against the browser context.
func (a *CookieImport) IsValid(_ context.Context, _ string) bool {
	return strings.TrimSpace(a.cookieStr) != ""
}

// ParseCookieString splits a Cookie-header style string into cookies bound
// to the given domain.
func ParseCookieString(s, domain string) ([]engine.Cookie, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []engine.Cookie
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("parse cookie string: malformed pair %q", part)
		}
		out = append(out, engine.Cookie{
			Name:   strings.TrimSpace(name),
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
		})
	}
	return out, nil
}
