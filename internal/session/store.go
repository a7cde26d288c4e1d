package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/socialminer/crawler/internal/auth"
	"github.com/socialminer/crawler/internal/engine"
	"github.com/socialminer/crawler/internal/platform"
)

// Config controls session creation.
type Config struct {
	Headless     bool
	UserAgent    string
	LoginTimeout time.Duration
}

// Store hands out one shared session per platform, creating it through the
// authentication collaborator on first acquire. Concurrent acquires for the
// same platform wait on the in-flight login instead of racing it.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]chan struct{}

	adapters *platform.Registry
	authn    auth.Authenticator
	launcher launcher
	cfg      Config
	clock    engine.Clock
	logger   *zap.Logger
}

// NewStore builds a session store backed by headless Chrome.
func NewStore(
	adapters *platform.Registry,
	authn auth.Authenticator,
	cfg Config,
	clock engine.Clock,
	logger *zap.Logger,
) *Store {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 10 * time.Minute
	}
	if clock == nil {
		clock = engine.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*Session),
		pending:  make(map[string]chan struct{}),
		adapters: adapters,
		authn:    authn,
		launcher: newChromedpLauncher(cfg.Headless, cfg.UserAgent),
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Acquire returns the active session for the platform, creating one via the
// login flow if none is live.
func (st *Store) Acquire(ctx context.Context, platformID string) (engine.Session, error) {
	for {
		st.mu.Lock()
		if s, ok := st.sessions[platformID]; ok && s.State() == engine.SessionActive {
			st.mu.Unlock()
			return s, nil
		}
		if wait, ok := st.pending[platformID]; ok {
			st.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("acquire session %s: %w", platformID, ctx.Err())
			}
		}
		done := make(chan struct{})
		st.pending[platformID] = done
		st.mu.Unlock()

		s, err := st.establish(ctx, platformID)

		st.mu.Lock()
		delete(st.pending, platformID)
		if err == nil {
			st.sessions[platformID] = s
		}
		st.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (st *Store) establish(ctx context.Context, platformID string) (*Session, error) {
	ad, err := st.adapters.Get(platformID)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}

	cookies, err := st.authn.Cookies(ctx, platformID)
	if err != nil {
		return nil, fmt.Errorf("establish session %s: %w", platformID, err)
	}

	loginCtx, cancel := context.WithTimeout(ctx, st.cfg.LoginTimeout)
	defer cancel()

	browser, err := st.launcher.Launch(loginCtx, ad.BaseURL(), st.cfg.UserAgent, cookies)
	if err != nil {
		return nil, fmt.Errorf("launch browser for %s: %w", platformID, err)
	}

	live, err := browser.Cookies(loginCtx)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("read cookies for %s: %w", platformID, err)
	}
	if !hasLoginCookies(live, ad.LoginCookieNames()) {
		browser.Close()
		return nil, fmt.Errorf("establish session %s: login cookies missing: %w",
			platformID, engine.ErrSessionUnavailable)
	}

	s := &Session{
		id:        uuid.NewString(),
		platform:  platformID,
		state:     engine.SessionActive,
		userAgent: st.cfg.UserAgent,
		lastUsed:  st.clock.Now(),
		browser:   browser,
	}
	s.setCookies(live)

	st.logger.Info("session established",
		zap.String("platform", platformID),
		zap.String("session_id", s.id),
	)
	return s, nil
}

// Invalidate marks the session per the reason and removes it from the active
// pool. The browser context is torn down; a later Acquire creates a fresh
// session.
func (st *Store) Invalidate(s engine.Session, reason engine.InvalidateReason) {
	sess, ok := s.(*Session)
	if !ok || sess == nil {
		return
	}

	switch reason {
	case engine.ReasonBan:
		sess.setState(engine.SessionBanned)
	case engine.ReasonExpired:
		sess.setState(engine.SessionExpired)
	default:
		sess.setState(engine.SessionDegraded)
	}

	st.mu.Lock()
	if cur, ok := st.sessions[sess.platform]; ok && cur == sess {
		delete(st.sessions, sess.platform)
	}
	st.mu.Unlock()

	sess.closeBrowser()
	st.logger.Warn("session invalidated",
		zap.String("platform", sess.platform),
		zap.String("session_id", sess.id),
		zap.String("reason", string(reason)),
	)
}

// Refresh re-reads cookies from the live browser context without a full
// re-login. If the login cookies are gone the session is invalidated as
// expired.
func (st *Store) Refresh(ctx context.Context, s engine.Session) error {
	sess, ok := s.(*Session)
	if !ok || sess == nil {
		return engine.ErrSessionUnavailable
	}

	sess.mu.Lock()
	browser := sess.browser
	sess.mu.Unlock()
	if browser == nil {
		return fmt.Errorf("refresh session %s: %w", sess.id, engine.ErrSessionUnavailable)
	}

	ad, err := st.adapters.Get(sess.platform)
	if err != nil {
		return fmt.Errorf("refresh session %s: %w", sess.id, err)
	}

	live, err := browser.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("refresh session %s: %w", sess.id, err)
	}
	if !hasLoginCookies(live, ad.LoginCookieNames()) {
		st.Invalidate(sess, engine.ReasonExpired)
		return fmt.Errorf("refresh session %s: login cookies gone: %w",
			sess.id, engine.ErrSessionUnavailable)
	}

	sess.setCookies(live)
	st.logger.Debug("session refreshed", zap.String("session_id", sess.id))
	return nil
}

// Close tears down every live session and the browser allocator.
func (st *Store) Close() {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, s := range sessions {
		s.setState(engine.SessionExpired)
		s.closeBrowser()
	}
	st.launcher.Close()
}
