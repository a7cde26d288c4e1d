// Package orchestrator drives crawl tasks through the request pipeline:
// governor admission, in-page signing, proxied execution, parsing, and
// forwarding to the storage sink.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/socialminer/crawler/internal/engine"
	"github.com/socialminer/crawler/internal/governor"
	"github.com/socialminer/crawler/internal/metrics"
	"github.com/socialminer/crawler/internal/platform"
)

// Config controls task execution.
type Config struct {
	// MaxConcurrentTasks bounds the number of tasks running at once; each
	// task's pagination stays strictly sequential.
	MaxConcurrentTasks int
	// FailFast promotes the first fatal intent to task failure.
	FailFast bool
	// TaskTimeout bounds one task end to end; on expiry the task fails with
	// partial results retained.
	TaskTimeout time.Duration
	// PutRetries bounds item-level sink retries.
	PutRetries int
	// MaxBanRotations bounds fresh-session attempts after ban signals
	// within one intent.
	MaxBanRotations int
}

// Orchestrator owns the per-task state machines. It is adapter-agnostic.
type Orchestrator struct {
	sessions engine.SessionStore
	signer   engine.Signer
	exec     engine.Executor
	gov      *governor.Governor
	pool     engine.ProxyPool
	adapters *platform.Registry
	sink     engine.Sink
	cfg      Config
	clock    engine.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	reports map[string]engine.TaskReport
}

// New builds an orchestrator.
func New(
	sessions engine.SessionStore,
	signer engine.Signer,
	exec engine.Executor,
	gov *governor.Governor,
	pool engine.ProxyPool,
	adapters *platform.Registry,
	sink engine.Sink,
	cfg Config,
	clock engine.Clock,
	logger *zap.Logger,
) *Orchestrator {
	metrics.Init()
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	if cfg.PutRetries <= 0 {
		cfg.PutRetries = 3
	}
	if cfg.MaxBanRotations <= 0 {
		cfg.MaxBanRotations = 2
	}
	if clock == nil {
		clock = engine.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions: sessions,
		signer:   signer,
		exec:     exec,
		gov:      gov,
		pool:     pool,
		adapters: adapters,
		sink:     sink,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		reports:  make(map[string]engine.TaskReport),
	}
}

// Run executes all tasks with bounded parallelism and returns their reports
// in input order.
func (o *Orchestrator) Run(ctx context.Context, tasks []*engine.CrawlTask) []engine.TaskReport {
	sem := make(chan struct{}, o.cfg.MaxConcurrentTasks)
	reports := make([]engine.TaskReport, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *engine.CrawlTask) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				task.Status = engine.TaskFailed
				reports[i] = engine.TaskReport{
					TaskID:     task.ID,
					Platform:   task.Platform,
					Status:     engine.TaskFailed,
					FirstFatal: ctx.Err().Error(),
				}
				return
			}
			reports[i] = o.runTask(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return reports
}

// Snapshot returns the current report of every task seen so far.
func (o *Orchestrator) Snapshot() []engine.TaskReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]engine.TaskReport, 0, len(o.reports))
	for _, r := range o.reports {
		out = append(out, r)
	}
	return out
}

func (o *Orchestrator) publishReport(r engine.TaskReport) {
	o.mu.Lock()
	o.reports[r.TaskID] = r
	o.mu.Unlock()
}

// taskState is the per-task mutable state, confined to the task's goroutine.
type taskState struct {
	task     *engine.CrawlTask
	report   engine.TaskReport
	frontier []engine.RequestIntent
	seen     map[string]struct{}
	// sigFails counts consecutive signing failures per session id; the
	// second one escalates to a session refresh.
	sigFails map[string]int
}

func (o *Orchestrator) runTask(ctx context.Context, task *engine.CrawlTask) engine.TaskReport {
	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()

	log := o.logger.With(zap.String("task_id", task.ID), zap.String("platform", task.Platform))

	st := &taskState{
		task: task,
		report: engine.TaskReport{
			TaskID:   task.ID,
			Platform: task.Platform,
			Status:   engine.TaskRunning,
		},
		seen:     make(map[string]struct{}),
		sigFails: make(map[string]int),
	}
	fail := func(cause string) engine.TaskReport {
		task.Status = engine.TaskFailed
		st.report.Status = engine.TaskFailed
		if st.report.FirstFatal == "" {
			st.report.FirstFatal = cause
		}
		o.publishReport(st.report)
		log.Error("task failed", zap.String("cause", st.report.FirstFatal))
		return st.report
	}

	ad, err := o.adapters.Get(task.Platform)
	if err != nil {
		return fail(err.Error())
	}
	seeds, err := ad.SeedIntents(*task)
	if err != nil {
		return fail(err.Error())
	}
	st.frontier = seeds

	task.Status = engine.TaskRunning
	o.publishReport(st.report)
	log.Info("task started", zap.String("mode", string(task.Mode)), zap.Int("seed_intents", len(seeds)))

	taskCtx := ctx
	if o.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, o.cfg.TaskTimeout)
		defer cancel()
	}

	for len(st.frontier) > 0 {
		// cancellation boundary between intents
		if err := taskCtx.Err(); err != nil {
			return fail(fmt.Sprintf("task aborted: %v", err))
		}
		if task.MaxItems > 0 && st.report.ItemsCollected >= task.MaxItems {
			log.Info("item budget reached", zap.Int("collected", st.report.ItemsCollected))
			break
		}

		intent := st.frontier[0]
		st.frontier = st.frontier[1:]

		result, err := o.processIntent(taskCtx, ad, st, intent)
		if err != nil {
			if taskCtx.Err() != nil {
				return fail(fmt.Sprintf("task aborted: %v", taskCtx.Err()))
			}
			st.report.IntentsSkipped++
			if st.report.FirstFatal == "" {
				st.report.FirstFatal = err.Error()
			}
			log.Warn("intent failed",
				zap.String("intent_id", intent.ID),
				zap.String("op", string(intent.Op)),
				zap.Error(err),
			)
			if o.cfg.FailFast {
				return fail(err.Error())
			}
			o.publishReport(st.report)
			continue
		}

		if err := o.forwardItems(taskCtx, st, result.Items); err != nil {
			return fail(err.Error())
		}

		// progress cursor advances only after this page's items are
		// forwarded, and never regresses
		if intent.Cursor.After(task.Cursor) {
			task.Cursor = intent.Cursor
		}

		st.frontier = append(st.frontier, result.Derived...)
		if result.Next != nil {
			st.frontier = append(st.frontier, *result.Next)
		}
		o.publishReport(st.report)
	}

	task.Status = engine.TaskCompleted
	st.report.Status = engine.TaskCompleted
	o.publishReport(st.report)
	log.Info("task completed",
		zap.Int("items", st.report.ItemsCollected),
		zap.Int("skipped", st.report.IntentsSkipped),
		zap.Int("bans", st.report.BansEncountered),
	)
	return st.report
}

// forwardItems pushes parsed items to the sink with item-level retry.
// Duplicates are skipped silently and never re-forwarded.
func (o *Orchestrator) forwardItems(ctx context.Context, st *taskState, items []engine.NormalizedItem) error {
	for _, item := range items {
		if st.task.MaxItems > 0 && st.report.ItemsCollected >= st.task.MaxItems {
			return nil
		}
		key := item.Platform + "/" + item.Key
		if _, ok := st.seen[key]; ok {
			continue
		}
		if item.DiscoveredAt.IsZero() {
			item.DiscoveredAt = o.clock.Now()
		}

		var res engine.PutResult
		var err error
		for attempt := 0; attempt <= o.cfg.PutRetries; attempt++ {
			res, err = o.sink.Put(ctx, item)
			if err == nil {
				break
			}
			if sleepErr := sleepCtx(ctx, time.Duration(attempt+1)*100*time.Millisecond); sleepErr != nil {
				return fmt.Errorf("forward item %s: %w", key, sleepErr)
			}
		}
		if err != nil {
			return fmt.Errorf("forward item %s: %w", key, err)
		}

		st.seen[key] = struct{}{}
		if res == engine.PutOK {
			st.report.ItemsCollected++
			metrics.ObserveItems(item.Platform, 1)
		}
	}
	return nil
}

// processIntent pushes one intent through the pipeline, absorbing retryable
// failures, ban-driven session rotation, and pool exhaustion. It returns the
// adapter's parse result on success and an error once the intent is fatal.
func (o *Orchestrator) processIntent(
	ctx context.Context,
	ad engine.Adapter,
	st *taskState,
	intent engine.RequestIntent,
) (engine.ParseResult, error) {
	attempt := 0
	banRotations := 0

	for {
		if err := ctx.Err(); err != nil {
			return engine.ParseResult{}, err
		}

		sess, err := o.sessions.Acquire(ctx, intent.Platform)
		if err != nil {
			if ctx.Err() != nil {
				return engine.ParseResult{}, ctx.Err()
			}
			return engine.ParseResult{}, &engine.FatalError{Reason: "acquire session", Err: err}
		}

		permit, err := o.gov.Admit(ctx, intent.Platform, sess.ID())
		if err != nil {
			return engine.ParseResult{}, err
		}

		artifacts, err := o.signer.Sign(ctx, sess, intent)
		if err != nil {
			o.gov.Release(permit, engine.OutcomeRetryable)
			retry, handleErr := o.handleSigningFailure(ctx, st, sess, err)
			if handleErr != nil {
				return engine.ParseResult{}, handleErr
			}
			if retry {
				var cont bool
				attempt, cont = o.waitBackoff(ctx, intent.Platform, attempt, 0)
				if !cont {
					return engine.ParseResult{}, &engine.FatalError{Reason: "signing retries exhausted", Err: err}
				}
			}
			continue
		}
		st.sigFails[sess.ID()] = 0

		endpoint, err := o.pool.Lease()
		if err != nil {
			o.gov.Release(permit, engine.OutcomeRetryable)
			if errors.Is(err, engine.ErrPoolExhausted) {
				// task-level backoff, not charged against the intent's
				// retry budget
				d := o.gov.TaskBackoff()
				o.logger.Warn("proxy pool exhausted, task backing off",
					zap.String("task_id", st.task.ID), zap.Duration("backoff", d))
				if err := sleepCtx(ctx, d); err != nil {
					return engine.ParseResult{}, err
				}
				continue
			}
			return engine.ParseResult{}, &engine.FatalError{Reason: "lease proxy", Err: err}
		}

		req, err := engine.NewSignedRequest(intent, sess, endpoint, artifacts, ad.BaseURL())
		if err != nil {
			// session went bad between acquire and bind; rotate
			o.gov.Release(permit, engine.OutcomeRetryable)
			o.sessions.Invalidate(sess, engine.ReasonExpired)
			continue
		}

		// in-flight requests finish even if the task is cancelled; the
		// result is discarded at the next boundary check
		outcome := o.exec.Execute(context.WithoutCancel(ctx), req)
		o.gov.Release(permit, outcome.Class)

		if err := ctx.Err(); err != nil {
			return engine.ParseResult{}, err
		}

		switch outcome.Class {
		case engine.OutcomeOK:
			result, err := ad.Parse(intent, outcome.Payload)
			if err != nil {
				return engine.ParseResult{}, &engine.FatalError{Reason: "parse payload", Err: err}
			}
			return result, nil

		case engine.OutcomeRetryable:
			var cont bool
			attempt, cont = o.waitBackoff(ctx, intent.Platform, attempt, outcome.BackoffHint)
			if !cont {
				return engine.ParseResult{}, &engine.FatalError{
					Reason: fmt.Sprintf("retries exhausted: %s", outcome.Reason),
				}
			}

		case engine.OutcomeBan:
			st.report.BansEncountered++
			metrics.ObserveBan(intent.Platform)
			o.sessions.Invalidate(sess, engine.ReasonBan)
			banRotations++
			if banRotations > o.cfg.MaxBanRotations {
				return engine.ParseResult{}, &engine.FatalError{
					Reason: fmt.Sprintf("ban persisted across %d sessions: %s", banRotations, outcome.Reason),
				}
			}
			o.logger.Warn("ban signal, rotating session",
				zap.String("task_id", st.task.ID),
				zap.String("marker", outcome.Reason),
			)
			if err := sleepCtx(ctx, o.gov.TaskBackoff()); err != nil {
				return engine.ParseResult{}, err
			}

		default: // fatal
			return engine.ParseResult{}, &engine.FatalError{
				Reason: fmt.Sprintf("unclassifiable response: %s", outcome.Reason),
			}
		}
	}
}

// handleSigningFailure maps a signing error to the retry decision. A first
// signing failure on a session is retried; the second consecutive one
// escalates to a session refresh. An unreachable browser context rotates
// the session immediately.
func (o *Orchestrator) handleSigningFailure(
	ctx context.Context,
	st *taskState,
	sess engine.Session,
	err error,
) (retry bool, fatal error) {
	if errors.Is(err, engine.ErrSessionUnavailable) {
		o.sessions.Invalidate(sess, engine.ReasonExpired)
		return false, nil
	}

	var se *engine.SigningError
	if errors.As(err, &se) {
		st.sigFails[sess.ID()]++
		if st.sigFails[sess.ID()] >= 2 {
			st.sigFails[sess.ID()] = 0
			if refreshErr := o.sessions.Refresh(ctx, sess); refreshErr != nil {
				o.logger.Warn("session refresh after signing failures failed",
					zap.String("session_id", sess.ID()), zap.Error(refreshErr))
			}
		}
		return true, nil
	}
	return false, &engine.FatalError{Reason: "sign intent", Err: err}
}

// waitBackoff sleeps out the retry delay for the given 0-based attempt and
// returns the next attempt number. cont is false once the budget is spent.
func (o *Orchestrator) waitBackoff(
	ctx context.Context,
	platform string,
	attempt int,
	hint time.Duration,
) (next int, cont bool) {
	d, ok := o.gov.Backoff(attempt)
	if !ok {
		return attempt, false
	}
	if hint > d {
		d = hint
	}
	metrics.ObserveBackoff(platform, d)
	if err := sleepCtx(ctx, d); err != nil {
		return attempt, false
	}
	return attempt + 1, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
