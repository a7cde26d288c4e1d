// Package signing bridges request intents to the signing routine living
// inside a session's page context.
package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/socialminer/crawler/internal/engine"
	"github.com/socialminer/crawler/internal/metrics"
	"github.com/socialminer/crawler/internal/platform"
)

// pageSession is the slice of engine.Session the bridge needs: a reachable
// browser context. *session.Session satisfies it.
type pageSession interface {
	engine.Session
	BrowserContext() context.Context
}

// evaluator runs a JavaScript expression inside a browser context and
// returns its string result. Swapped for a fake in tests.
type evaluator func(ctx context.Context, browserCtx context.Context, expr string) (string, error)

func chromedpEvaluate(ctx context.Context, browserCtx context.Context, expr string) (string, error) {
	evalCtx, cancel := context.WithCancel(browserCtx)
	defer cancel()

	stop := forwardCancel(ctx, cancel)
	defer stop()

	var out string
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, &out)); err != nil {
		return "", err
	}
	return out, nil
}

// Bridge serializes signing calls per session: the in-page routine is not
// reentrant within one page context, but distinct sessions sign in parallel.
type Bridge struct {
	mu       sync.Mutex
	perSess  map[string]*sync.Mutex
	adapters *platform.Registry
	eval     evaluator
	timeout  time.Duration
	clock    engine.Clock
	logger   *zap.Logger
}

// NewBridge builds a signature bridge with the given per-call timeout.
func NewBridge(adapters *platform.Registry, timeout time.Duration, clock engine.Clock, logger *zap.Logger) *Bridge {
	metrics.Init()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clock == nil {
		clock = engine.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		perSess:  make(map[string]*sync.Mutex),
		adapters: adapters,
		eval:     chromedpEvaluate,
		timeout:  timeout,
		clock:    clock,
		logger:   logger,
	}
}

func (b *Bridge) sessionLock(id string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.perSess[id]
	if !ok {
		m = &sync.Mutex{}
		b.perSess[id] = m
	}
	return m
}

// signedOutput is the JSON shape the in-page routine must return.
type signedOutput struct {
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query"`
}

// Sign evaluates the platform's signing script against the session's page
// context. A hang beyond the configured timeout, a raised error, or
// malformed output all yield a *engine.SigningError; an unreachable browser
// context yields engine.ErrSessionUnavailable.
func (b *Bridge) Sign(
	ctx context.Context,
	s engine.Session,
	intent engine.RequestIntent,
) (engine.SignatureArtifacts, error) {
	ps, ok := s.(pageSession)
	if !ok {
		return engine.SignatureArtifacts{}, fmt.Errorf("sign intent %s: %w", intent.ID, engine.ErrSessionUnavailable)
	}
	browserCtx := ps.BrowserContext()
	if browserCtx == nil || browserCtx.Err() != nil {
		return engine.SignatureArtifacts{}, fmt.Errorf("sign intent %s: %w", intent.ID, engine.ErrSessionUnavailable)
	}

	ad, err := b.adapters.Get(intent.Platform)
	if err != nil {
		return engine.SignatureArtifacts{}, fmt.Errorf("sign intent %s: %w", intent.ID, err)
	}
	script, err := ad.SigningScript(intent)
	if err != nil {
		return engine.SignatureArtifacts{}, &engine.SigningError{Reason: "build signing script", Err: err}
	}

	lock := b.sessionLock(s.ID())
	lock.Lock()
	defer lock.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := b.clock.Now()
	raw, err := b.eval(callCtx, browserCtx, script)
	metrics.ObserveSigning(intent.Platform, b.clock.Now().Sub(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return engine.SignatureArtifacts{}, &engine.SigningError{Reason: "timeout", Err: err}
		}
		if browserCtx.Err() != nil {
			return engine.SignatureArtifacts{}, fmt.Errorf("sign intent %s: %w", intent.ID, engine.ErrSessionUnavailable)
		}
		return engine.SignatureArtifacts{}, &engine.SigningError{Reason: "in-page evaluation", Err: err}
	}

	var out signedOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return engine.SignatureArtifacts{}, &engine.SigningError{Reason: "malformed signer output", Err: err}
	}
	if len(out.Headers) == 0 && len(out.Query) == 0 {
		return engine.SignatureArtifacts{}, &engine.SigningError{Reason: "empty signer output"}
	}

	return engine.SignatureArtifacts{
		Headers:  out.Headers,
		Query:    out.Query,
		IssuedAt: b.clock.Now(),
	}, nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
