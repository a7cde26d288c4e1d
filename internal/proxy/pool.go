// Package proxy manages the egress endpoint pool with health-based rotation.
package proxy

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/socialminer/crawler/internal/engine"
	"github.com/socialminer/crawler/internal/metrics"
)

// Config controls pool behavior.
type Config struct {
	// FailureThreshold is the consecutive-failure count that triggers a
	// cooldown.
	FailureThreshold int
	// CooldownBase is the first cooldown duration; it doubles with each
	// further strike.
	CooldownBase time.Duration
}

type entry struct {
	endpoint     engine.ProxyEndpoint
	consecFails  int
	strikes      int
	cooldownTill time.Time
}

// Pool is the single owner of all endpoint health state. All access to the
// registry goes through the mutex.
type Pool struct {
	mu      sync.Mutex
	entries []*entry
	rr      int
	cfg     Config
	clock   engine.Clock
	logger  *zap.Logger
}

// New builds a pool from proxy URLs of the form
// scheme://[user:pass@]host:port.
func New(endpoints []string, cfg Config, clock engine.Clock, logger *zap.Logger) (*Pool, error) {
	metrics.Init()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = time.Minute
	}
	if clock == nil {
		clock = engine.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{cfg: cfg, clock: clock, logger: logger}
	for _, raw := range endpoints {
		ep, err := parseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		p.entries = append(p.entries, &entry{endpoint: ep})
	}
	return p, nil
}

func parseEndpoint(raw string) (engine.ProxyEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return engine.ProxyEndpoint{}, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	if u.Host == "" {
		return engine.ProxyEndpoint{}, fmt.Errorf("parse proxy %q: missing host", raw)
	}
	ep := engine.ProxyEndpoint{Address: u.Scheme + "://" + u.Host}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

// Size reports the number of managed endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Lease picks the eligible endpoint with the fewest consecutive failures,
// rotating round-robin among ties. Returns engine.ErrPoolExhausted when no
// endpoint is eligible.
func (p *Pool) Lease() (engine.ProxyEndpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	best := -1
	n := len(p.entries)
	for off := 0; off < n; off++ {
		i := (p.rr + off) % n
		e := p.entries[i]
		if e.cooldownTill.After(now) {
			continue
		}
		if best < 0 || e.consecFails < p.entries[best].consecFails {
			best = i
		}
	}
	if best < 0 {
		return engine.ProxyEndpoint{}, engine.ErrPoolExhausted
	}
	p.rr = (best + 1) % n
	return p.entries[best].endpoint, nil
}

// Report feeds back the result of a request through the endpoint. After
// FailureThreshold consecutive failures the endpoint enters a cooldown whose
// duration doubles with each strike; a later success clears the strikes.
func (p *Pool) Report(addr string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.endpoint.Address != addr {
			continue
		}
		if success {
			e.consecFails = 0
			e.strikes = 0
			return
		}
		e.consecFails++
		if e.consecFails >= p.cfg.FailureThreshold {
			d := p.cfg.CooldownBase << e.strikes
			e.strikes++
			e.consecFails = 0
			e.cooldownTill = p.clock.Now().Add(d)
			metrics.ObserveProxyCooldown()
			p.logger.Warn("proxy endpoint entering cooldown",
				zap.String("addr", addr),
				zap.Duration("cooldown", d),
				zap.Int("strikes", e.strikes),
			)
		}
		return
	}
}
