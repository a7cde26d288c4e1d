package engine

import "fmt"

// SignedRequest is a request intent bound to the session, proxy endpoint and
// signature artifacts of exactly one attempt. Artifacts are never reused
// across attempts.
type SignedRequest struct {
	Intent    RequestIntent
	Session   Session
	Proxy     ProxyEndpoint
	Artifacts SignatureArtifacts
	BaseURL   string
}

// NewSignedRequest binds an intent to a live session and proxy. It refuses
// banned or expired sessions; that invariant holds for every request the
// executor ever sees.
func NewSignedRequest(
	intent RequestIntent,
	s Session,
	proxy ProxyEndpoint,
	artifacts SignatureArtifacts,
	baseURL string,
) (SignedRequest, error) {
	if s == nil {
		return SignedRequest{}, fmt.Errorf("bind intent %s: %w", intent.ID, ErrSessionUnavailable)
	}
	switch st := s.State(); st {
	case SessionBanned, SessionExpired:
		return SignedRequest{}, fmt.Errorf("bind intent %s: session %s is %s: %w",
			intent.ID, s.ID(), st, ErrSessionUnavailable)
	}
	return SignedRequest{
		Intent:    intent,
		Session:   s,
		Proxy:     proxy,
		Artifacts: artifacts,
		BaseURL:   baseURL,
	}, nil
}
