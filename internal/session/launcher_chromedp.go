package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/socialminer/crawler/internal/engine"
)

// browserContext is one live browser tab holding an authenticated page.
type browserContext interface {
	// Context is the chromedp context used for in-page evaluation.
	Context() context.Context
	// Cookies reads the cookies currently visible to the browser context.
	Cookies(ctx context.Context) ([]engine.Cookie, error)
	Close()
}

// launcher creates browser contexts. Swapped for a fake in tests.
type launcher interface {
	Launch(ctx context.Context, baseURL, userAgent string, cookies []engine.Cookie) (browserContext, error)
	Close()
}

// chromedpLauncher shares one exec allocator across all sessions; each
// session gets its own browser context (tab) from it.
type chromedpLauncher struct {
	once        sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc
	headless    bool
	userAgent   string
}

func newChromedpLauncher(headless bool, userAgent string) *chromedpLauncher {
	return &chromedpLauncher{headless: headless, userAgent: userAgent}
}

func (l *chromedpLauncher) allocator() context.Context {
	l.once.Do(func() {
		opts := chromedp.DefaultExecAllocatorOptions[:]
		opts = append(opts,
			chromedp.Flag("headless", l.headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.UserAgent(l.userAgent),
		)
		l.allocCtx, l.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return l.allocCtx
}

// Launch opens a tab, imports the login cookies, and navigates to the
// platform's index page so its scripts (including the signing routine) are
// loaded.
func (l *chromedpLauncher) Launch(
	ctx context.Context,
	baseURL, userAgent string,
	cookies []engine.Cookie,
) (browserContext, error) {
	tabCtx, tabCancel := chromedp.NewContext(l.allocator())

	stop := forwardCancel(ctx, tabCancel)
	defer stop()

	tasks := chromedp.Tasks{
		network.Enable(),
		setCookies(cookies),
		chromedp.Navigate(baseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		tabCancel()
		return nil, fmt.Errorf("chromedp launch: %w", err)
	}

	return &chromedpTab{ctx: tabCtx, cancel: tabCancel}, nil
}

func (l *chromedpLauncher) Close() {
	if l.allocCancel != nil {
		l.allocCancel()
	}
}

func setCookies(cookies []engine.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

type chromedpTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *chromedpTab) Context() context.Context { return t.ctx }

func (t *chromedpTab) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	var raw []*network.Cookie
	err := chromedp.Run(t.ctx, chromedp.ActionFunc(func(cdpCtx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(cdpCtx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]engine.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, engine.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return out, nil
}

func (t *chromedpTab) Close() { t.cancel() }

// forwardCancel propagates cancellation of the caller's context into the
// chromedp context for the duration of a call.
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
