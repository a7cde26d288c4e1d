package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/socialminer/crawler/internal/engine"
	"github.com/socialminer/crawler/internal/platform"
)

type fakeAdapter struct{}

func (fakeAdapter) Platform() string { return "goofish" }
func (fakeAdapter) BaseURL() string  { return "https://www.goofish.com" }
func (fakeAdapter) SeedIntents(engine.CrawlTask) ([]engine.RequestIntent, error) {
	return nil, nil
}
func (fakeAdapter) Parse(engine.RequestIntent, []byte) (engine.ParseResult, error) {
	return engine.ParseResult{}, nil
}
func (fakeAdapter) DetectBan(int, []byte) (string, bool)               { return "", false }
func (fakeAdapter) SigningScript(engine.RequestIntent) (string, error) { return "1", nil }
func (fakeAdapter) LoginCookieNames() []string                         { return []string{"unb", "cookie2"} }

type fakeAuthn struct {
	cookies []engine.Cookie
	err     error
}

func (a *fakeAuthn) Cookies(context.Context, string) ([]engine.Cookie, error) {
	return a.cookies, a.err
}
func (a *fakeAuthn) IsValid(context.Context, string) bool { return a.err == nil }

type fakeBrowser struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	cookies []engine.Cookie
	closed  bool
}

func newFakeBrowser(cookies []engine.Cookie) *fakeBrowser {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeBrowser{ctx: ctx, cancel: cancel, cookies: cookies}
}

func (b *fakeBrowser) Context() context.Context { return b.ctx }

func (b *fakeBrowser) Cookies(context.Context) ([]engine.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cookies, nil
}

func (b *fakeBrowser) SetCookies(cookies []engine.Cookie) {
	b.mu.Lock()
	b.cookies = cookies
	b.mu.Unlock()
}

func (b *fakeBrowser) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
}

func (b *fakeBrowser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	browsers []*fakeBrowser
	cookies  []engine.Cookie
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, _, _ string, imported []engine.Cookie) (browserContext, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.launches++
	live := l.cookies
	if live == nil {
		live = imported
	}
	b := newFakeBrowser(live)
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) Close() {}

func (l *fakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func loginCookies() []engine.Cookie {
	return []engine.Cookie{
		{Name: "unb", Value: "u1", Domain: ".goofish.com", Path: "/"},
		{Name: "cookie2", Value: "c2", Domain: ".goofish.com", Path: "/"},
	}
}

func newTestStore(t *testing.T, l *fakeLauncher, authn *fakeAuthn) *Store {
	t.Helper()
	registry := platform.NewRegistry()
	registry.Register(fakeAdapter{})
	st := NewStore(registry, authn, Config{UserAgent: "test-ua", LoginTimeout: time.Second}, nil, nil)
	st.launcher = l
	return st
}

func TestStore_AcquireEstablishesAndReuses(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	st := newTestStore(t, l, &fakeAuthn{cookies: loginCookies()})
	defer st.Close()

	s1, err := st.Acquire(context.Background(), "goofish")
	require.NoError(t, err)
	require.Equal(t, engine.SessionActive, s1.State())
	require.Contains(t, s1.CookieHeader(), "unb=u1")
	require.Equal(t, "test-ua", s1.UserAgent())

	s2, err := st.Acquire(context.Background(), "goofish")
	require.NoError(t, err)
	require.Equal(t, s1.ID(), s2.ID())
	require.Equal(t, 1, l.Launches())
}

func TestStore_ConcurrentAcquiresShareOneLogin(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	st := newTestStore(t, l, &fakeAuthn{cookies: loginCookies()})
	defer st.Close()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := st.Acquire(context.Background(), "goofish")
			require.NoError(t, err)
			ids[i] = s.ID()
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id)
	}
	require.Equal(t, 1, l.Launches())
}

func TestStore_AcquireFailsWithoutLoginCookies(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{cookies: []engine.Cookie{{Name: "junk", Value: "x"}}}
	st := newTestStore(t, l, &fakeAuthn{cookies: loginCookies()})
	defer st.Close()

	_, err := st.Acquire(context.Background(), "goofish")
	require.ErrorIs(t, err, engine.ErrSessionUnavailable)
}

func TestStore_AcquireFailsWhenAuthnFails(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	st := newTestStore(t, l, &fakeAuthn{err: errors.New("no cookies configured")})
	defer st.Close()

	_, err := st.Acquire(context.Background(), "goofish")
	require.Error(t, err)
	require.Equal(t, 0, l.Launches())
}

func TestStore_InvalidateBanCreatesFreshSessionNextAcquire(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	st := newTestStore(t, l, &fakeAuthn{cookies: loginCookies()})
	defer st.Close()

	s1, err := st.Acquire(context.Background(), "goofish")
	require.NoError(t, err)

	st.Invalidate(s1, engine.ReasonBan)
	require.Equal(t, engine.SessionBanned, s1.State())
	require.True(t, l.browsers[0].Closed())

	s2, err := st.Acquire(context.Background(), "goofish")
	require.NoError(t, err)
	require.NotEqual(t, s1.ID(), s2.ID())
	require.Equal(t, 2, l.Launches())
}

func TestStore_RefreshReloadsCookies(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	st := newTestStore(t, l, &fakeAuthn{cookies: loginCookies()})
	defer st.Close()

	s, err := st.Acquire(context.Background(), "goofish")
	require.NoError(t, err)

	l.browsers[0].SetCookies([]engine.Cookie{
		{Name: "unb", Value: "rotated"},
		{Name: "cookie2", Value: "c2"},
	})
	require.NoError(t, st.Refresh(context.Background(), s))
	require.Contains(t, s.CookieHeader(), "unb=rotated")
}

func TestStore_RefreshExpiresSessionWhenLoginCookiesGone(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	st := newTestStore(t, l, &fakeAuthn{cookies: loginCookies()})
	defer st.Close()

	s, err := st.Acquire(context.Background(), "goofish")
	require.NoError(t, err)

	l.browsers[0].SetCookies([]engine.Cookie{{Name: "junk", Value: "x"}})
	err = st.Refresh(context.Background(), s)
	require.ErrorIs(t, err, engine.ErrSessionUnavailable)
	require.Equal(t, engine.SessionExpired, s.State())

	// a new acquire establishes a fresh session
	s2, err := st.Acquire(context.Background(), "goofish")
	require.NoError(t, err)
	require.NotEqual(t, s.ID(), s2.ID())
}

func TestStore_CloseTearsDownSessions(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	st := newTestStore(t, l, &fakeAuthn{cookies: loginCookies()})

	s, err := st.Acquire(context.Background(), "goofish")
	require.NoError(t, err)

	st.Close()
	require.Equal(t, engine.SessionExpired, s.State())
	require.True(t, l.browsers[0].Closed())
}

func TestSession_TouchNeverRegresses(t *testing.T) {
	t.Parallel()

	s := &Session{}
	later := time.Unix(2000, 0)
	s.Touch(later)
	s.Touch(time.Unix(1000, 0))
	require.Equal(t, later, s.LastUsed())
}
