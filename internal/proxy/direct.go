package proxy

import "github.com/socialminer/crawler/internal/engine"

// Direct is the pool used when no proxy endpoints are configured: every
// lease hands out the zero endpoint, so requests egress directly.
type Direct struct{}

// Lease always succeeds with the zero endpoint.
func (Direct) Lease() (engine.ProxyEndpoint, error) {
	return engine.ProxyEndpoint{}, nil
}

// Report is a no-op; there is no health state to track.
func (Direct) Report(string, bool) {}
