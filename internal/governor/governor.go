// Package governor bounds in-flight requests per session and paces retries.
package governor

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/socialminer/crawler/internal/engine"
	"github.com/socialminer/crawler/internal/metrics"
)

// Config controls admission and retry behavior.
type Config struct {
	// SlotsPerSession bounds concurrent in-flight requests per session.
	SlotsPerSession int
	// MinInterval is the minimum gap between requests on one session.
	MinInterval time.Duration
	// MaxRetries bounds re-admissions of a retryable intent; once exceeded
	// the intent is reported fatal.
	MaxRetries int
	// BackoffBase and BackoffMax bound the exponential retry delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// TaskBackoff is the longer wait applied at task level, e.g. on
	// proxy-pool exhaustion.
	TaskBackoff time.Duration
}

// Permit represents one admitted request slot. It must be released exactly
// once.
type Permit struct {
	key string
	g   *Governor
}

// Governor serializes admission per session: a concurrency slot must be free
// and the minimum inter-request interval must have elapsed.
type Governor struct {
	mu       sync.Mutex
	slots    map[string]chan struct{}
	limiters map[string]*rate.Limiter
	cfg      Config
	logger   *zap.Logger
}

// New builds a Governor.
func New(cfg Config, logger *zap.Logger) *Governor {
	metrics.Init()
	if cfg.SlotsPerSession <= 0 {
		cfg.SlotsPerSession = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.TaskBackoff <= 0 {
		cfg.TaskBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		slots:    make(map[string]chan struct{}),
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
		logger:   logger,
	}
}

func (g *Governor) sessionSlots(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.slots[key]
	if !ok {
		ch = make(chan struct{}, g.cfg.SlotsPerSession)
		g.slots[key] = ch
	}
	return ch
}

func (g *Governor) sessionLimiter(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[key]
	if !ok {
		r := rate.Inf
		if g.cfg.MinInterval > 0 {
			r = rate.Every(g.cfg.MinInterval)
		}
		lim = rate.NewLimiter(r, 1)
		g.limiters[key] = lim
	}
	return lim
}

// Admit blocks until a concurrency slot for the session is free and the
// inter-request interval has elapsed, or the context finishes.
func (g *Governor) Admit(ctx context.Context, platform, sessionID string) (Permit, error) {
	key := platform + "/" + sessionID
	slots := g.sessionSlots(key)

	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return Permit{}, fmt.Errorf("admit %s: %w", key, ctx.Err())
	}

	if err := g.sessionLimiter(key).Wait(ctx); err != nil {
		<-slots
		return Permit{}, fmt.Errorf("admit %s: %w", key, err)
	}
	return Permit{key: key, g: g}, nil
}

// Release returns the permit's slot. The outcome is recorded for metrics;
// retry scheduling is driven by Backoff.
func (g *Governor) Release(p Permit, outcome engine.OutcomeClass) {
	if p.g == nil {
		return
	}
	g.mu.Lock()
	slots := g.slots[p.key]
	g.mu.Unlock()
	if slots != nil {
		select {
		case <-slots:
		default:
		}
	}
}

// Backoff returns the wait before re-admitting an intent on its next attempt
// (0-based), and false once the retry budget is exhausted. The delay grows
// exponentially from BackoffBase, capped at BackoffMax, plus up to 50%
// jitter, so attempt i always waits at least BackoffBase.
func (g *Governor) Backoff(attempt int) (time.Duration, bool) {
	if attempt >= g.cfg.MaxRetries {
		return 0, false
	}
	delay := g.cfg.BackoffBase << uint(attempt)
	if delay > g.cfg.BackoffMax || delay <= 0 {
		delay = g.cfg.BackoffMax
	}
	return delay + randomJitter(delay/2), true
}

// TaskBackoff is the task-level wait applied on pool exhaustion.
func (g *Governor) TaskBackoff() time.Duration {
	return g.cfg.TaskBackoff + randomJitter(g.cfg.TaskBackoff/4)
}

// MaxRetries exposes the configured retry budget.
func (g *Governor) MaxRetries() int { return g.cfg.MaxRetries }

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
