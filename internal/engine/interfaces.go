package engine

import (
	"context"
	"time"
)

// SessionState is the health of a browser-backed session.
type SessionState string

// Session states.
const (
	SessionActive   SessionState = "active"
	SessionDegraded SessionState = "degraded"
	SessionExpired  SessionState = "expired"
	SessionBanned   SessionState = "banned"
)

// InvalidateReason explains why a session is being removed from the pool.
type InvalidateReason string

// Invalidation reasons.
const (
	ReasonBan     InvalidateReason = "ban"
	ReasonExpired InvalidateReason = "expired"
	ReasonClosed  InvalidateReason = "closed"
)

// Session is the engine's view of one authenticated browser-backed context.
// Mutable fields are owned by the session store; callers only read.
type Session interface {
	ID() string
	Platform() string
	State() SessionState
	// CookieHeader is the current Cookie header value for outbound requests.
	CookieHeader() string
	UserAgent() string
	// Touch records the last-used timestamp. Called by the executor on
	// every attempt.
	Touch(t time.Time)
}

// SessionStore owns session lifecycle: creation via the authentication
// collaborator, serialized mutation, and invalidation.
type SessionStore interface {
	Acquire(ctx context.Context, platform string) (Session, error)
	Invalidate(s Session, reason InvalidateReason)
	Refresh(ctx context.Context, s Session) error
}

// Signer executes the signing routine living inside a session's page
// context. Calls against one session are serialized; distinct sessions may
// sign in parallel.
type Signer interface {
	Sign(ctx context.Context, s Session, intent RequestIntent) (SignatureArtifacts, error)
}

// Executor issues the signed HTTP call and classifies the response.
type Executor interface {
	Execute(ctx context.Context, req SignedRequest) ResponseOutcome
}

// ProxyPool manages egress endpoints with health-based rotation.
type ProxyPool interface {
	// Lease picks the lowest-failure endpoint not cooling down, round-robin
	// among ties. Returns ErrPoolExhausted when nothing is eligible.
	Lease() (ProxyEndpoint, error)
	Report(addr string, success bool)
}

// Sink receives normalized items. Duplicate is non-fatal; an error is
// retryable at the item level without re-fetching.
type Sink interface {
	Put(ctx context.Context, item NormalizedItem) (PutResult, error)
}

// Adapter translates abstract crawl work into platform-specific requests and
// parses raw payloads back into normalized records. The orchestrator is
// adapter-agnostic.
type Adapter interface {
	Platform() string
	BaseURL() string
	// SeedIntents builds the initial frontier for a task.
	SeedIntents(task CrawlTask) ([]RequestIntent, error)
	// Parse extracts items, the next pagination intent, and derived
	// follow-up intents from a successful payload.
	Parse(intent RequestIntent, payload []byte) (ParseResult, error)
	// DetectBan is the platform's ban/challenge predicate over a response.
	DetectBan(statusCode int, payload []byte) (marker string, banned bool)
	// SigningScript returns the JavaScript expression evaluated inside the
	// session's page context to produce signature artifacts for the intent.
	SigningScript(intent RequestIntent) (string, error)
	// LoginCookieNames are the cookies whose presence proves a live login.
	LoginCookieNames() []string
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
