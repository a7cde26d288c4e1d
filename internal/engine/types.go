// Package engine defines the core types shared across the crawl pipeline.
package engine

import (
	"encoding/json"
	"time"
)

// Operation is the logical request kind a platform adapter knows how to build.
type Operation string

// Operations understood by the pipeline.
const (
	OpSearch   Operation = "search"
	OpList     Operation = "list"
	OpDetail   Operation = "detail"
	OpComments Operation = "comments"
)

// Mode selects how a crawl task seeds its frontier.
type Mode string

// Crawl modes.
const (
	ModeSearch  Mode = "search"
	ModeDetail  Mode = "detail"
	ModeCreator Mode = "creator"
)

// TaskStatus is the lifecycle state of a crawl task.
type TaskStatus string

// Task status values.
const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Cursor marks a position in a platform's pagination sequence. Token is used
// by platforms with opaque cursors, Page by platforms with numbered pages.
type Cursor struct {
	Page  int    `json:"page"`
	Token string `json:"token,omitempty"`
}

// After reports whether c is strictly later than other in pagination order.
// Token-based cursors compare by token inequality only when pages match.
func (c Cursor) After(other Cursor) bool {
	if c.Page != other.Page {
		return c.Page > other.Page
	}
	return c.Token != other.Token && c.Token != ""
}

// CrawlTask is one unit of traversal work. It is created by the caller,
// advanced only by the orchestrator, and terminal on completion or
// unrecoverable failure. The progress cursor only moves forward on ok
// outcomes.
type CrawlTask struct {
	ID        string     `json:"id"`
	Platform  string     `json:"platform"`
	Mode      Mode       `json:"mode"`
	Keyword   string     `json:"keyword,omitempty"`
	ItemIDs   []string   `json:"item_ids,omitempty"`
	CreatorID string     `json:"creator_id,omitempty"`
	StartPage int        `json:"start_page,omitempty"`
	MaxItems  int        `json:"max_items,omitempty"`
	Cursor    Cursor     `json:"cursor"`
	Status    TaskStatus `json:"status"`
}

// RequestIntent is an immutable description of one outbound platform call.
// Produced by the adapter, consumed once by the pipeline; retries reuse the
// intent but never mutate it.
type RequestIntent struct {
	ID       string
	TaskID   string
	Platform string
	Op       Operation
	Method   string
	Path     string
	Params   map[string]string
	Body     []byte
	Cursor   Cursor
	// ItemKey is set for detail/comments intents derived from a parent item.
	ItemKey string
}

// SignatureArtifacts is the output of a signing bridge call: the headers and
// query parameters the platform requires for the request to be accepted.
// Artifacts are valid for a single attempt; a retry must re-sign.
type SignatureArtifacts struct {
	Headers  map[string]string
	Query    map[string]string
	IssuedAt time.Time
}

// ProxyEndpoint identifies one egress endpoint. Health bookkeeping lives in
// the proxy pool; this value only carries what the executor needs to dial.
type ProxyEndpoint struct {
	Address  string
	Username string
	Password string
}

// OutcomeClass classifies an executed request.
type OutcomeClass string

// Response classifications.
const (
	OutcomeOK        OutcomeClass = "ok"
	OutcomeRetryable OutcomeClass = "retryable"
	OutcomeBan       OutcomeClass = "ban"
	OutcomeFatal     OutcomeClass = "fatal"
)

// ResponseOutcome is the classified result of one request attempt.
type ResponseOutcome struct {
	Class      OutcomeClass
	Reason     string
	StatusCode int
	Payload    []byte
	// BackoffHint suggests a wait before retrying; zero means use policy.
	BackoffHint time.Duration
}

// NormalizedItem is a deduplicated, platform-agnostic record emitted to a
// storage sink. Dedup downstream is keyed on (Platform, Key).
type NormalizedItem struct {
	Platform     string          `json:"platform"`
	Key          string          `json:"key"`
	Payload      json.RawMessage `json:"payload"`
	TaskID       string          `json:"task_id"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}

// ParseResult is what an adapter extracts from one successful payload.
type ParseResult struct {
	Items []NormalizedItem
	// Next is the follow-up intent for the same pagination sequence,
	// nil when the sequence is exhausted.
	Next *RequestIntent
	// Derived holds fan-out intents (e.g. comment threads per item).
	Derived []RequestIntent
}

// PutResult is a sink's verdict for one item.
type PutResult string

// Sink verdicts. Duplicate means the item key was already persisted and is
// safe to skip.
const (
	PutOK        PutResult = "ok"
	PutDuplicate PutResult = "duplicate"
)

// TaskReport summarizes a finished task for the caller.
type TaskReport struct {
	TaskID         string     `json:"task_id"`
	Platform       string     `json:"platform"`
	Status         TaskStatus `json:"status"`
	ItemsCollected int        `json:"items_collected"`
	IntentsSkipped int        `json:"intents_skipped"`
	BansEncountered int       `json:"bans_encountered"`
	FirstFatal     string     `json:"first_fatal,omitempty"`
}

// Cookie is one browser cookie imported into or exported from a session.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}
