package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"marketdata/internal/metrics"
	"marketdata/internal/provider"
)

const (
	DefaultCookieURL = "https://fc.yahoo.com"
	DefaultCrumbURL  = "https://query1.finance.yahoo.com/v1/test/getcrumb"
)

var errFailed = errors.New("session could not be re-established; client is unusable")

// HTTPClient describes an HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider acquires and holds the crumb session for a cookie-protected provider.
// Authentication happens lazily on first use and once per refresh, shared by
// every concurrent caller.
type Provider struct {
	client    HTTPClient
	key       provider.Key
	cookieURL string
	crumbURL  string
	userAgent string
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics

	// coalesce concurrent authentications
	sf singleflight.Group

	mu      sync.RWMutex
	state   State
	session *Session
	lastErr error
}

type Option func(*Provider)

func WithCookieURL(u string) Option { return func(p *Provider) { p.cookieURL = u } }
func WithCrumbURL(u string) Option { return func(p *Provider) { p.crumbURL = u } }
func WithUserAgent(ua string) Option { return func(p *Provider) { p.userAgent = ua } }
func WithLogger(l *zap.Logger) Option { return func(p *Provider) { p.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Provider) { p.metrics = m } }
func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }
func WithProviderKey(k provider.Key) Option { return func(p *Provider) { p.key = k } }

func New(client HTTPClient, opts ...Option) *Provider {
	p := &Provider{
		client:    client,
		key:       provider.Yahoo,
		cookieURL: DefaultCookieURL,
		crumbURL:  DefaultCrumbURL,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Session returns the current session, authenticating first if there is none.
func (p *Provider) Session(ctx context.Context) (*Session, error) {
	p.mu.RLock()
	s, st := p.session, p.state
	p.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	if st == Failed {
		return nil, p.terminal()
	}
	return p.acquire(ctx, nil)
}

// Refresh replaces stale with a newly authenticated session. If another caller
// already replaced it, the replacement is returned without authenticating again.
// A failed refresh moves the provider to Failed.
func (p *Provider) Refresh(ctx context.Context, stale *Session) (*Session, error) {
	p.mu.RLock()
	cur, st := p.session, p.state
	p.mu.RUnlock()
	if st == Failed {
		return nil, p.terminal()
	}
	if cur != nil && cur != stale {
		return cur, nil
	}
	return p.acquire(ctx, stale)
}

func (p *Provider) acquire(ctx context.Context, stale *Session) (*Session, error) {
	ch := p.sf.DoChan("session", func() (any, error) {
		p.mu.Lock()
		if p.state == Failed {
			p.mu.Unlock()
			return nil, p.terminal()
		}
		if p.session != nil && p.session != stale {
			s := p.session
			p.mu.Unlock()
			return s, nil
		}
		p.state = Authenticating
		p.mu.Unlock()

		// Shared by every waiter, so no single caller may cancel it.
		s, err := p.Authenticate(context.WithoutCancel(ctx))

		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			p.lastErr = err
			if stale != nil {
				p.state = Failed
				p.session = nil
				p.log.Error("re-authentication failed", zap.String("provider", p.key.String()), zap.Error(err))
			} else {
				p.state = Unauthenticated
				p.log.Warn("authentication failed", zap.String("provider", p.key.String()), zap.Error(err))
			}
			return nil, err
		}
		p.session = s
		p.state = Authenticated
		p.log.Info("session established", zap.String("provider", p.key.String()), zap.Bool("refresh", stale != nil))
		return s, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Provider) terminal() error {
	p.mu.RLock()
	last := p.lastErr
	p.mu.RUnlock()
	err := errFailed
	if last != nil {
		err = fmt.Errorf("%w: %v", errFailed, last)
	}
	return &provider.AuthenticationError{Provider: p.key, Step: "session", Err: err}
}

// Authenticate runs the cookie + crumb protocol and returns a new session.
// It does not change the provider's state.
func (p *Provider) Authenticate(ctx context.Context) (*Session, error) {
	s, err := p.authenticate(ctx)
	p.metrics.AuthAttempt(p.key.String(), err == nil)
	return s, err
}

func (p *Provider) authenticate(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, p.fail("cookie", err)
	}

	// (1) a page that sets the session cookies; its status does not matter
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cookieURL, http.NoBody)
	if err != nil {
		return nil, p.fail("cookie", fmt.Errorf("creating request: %w", err))
	}
	p.decorate(req)
	res, err := p.client.Do(req)
	if err != nil {
		return nil, p.fail("cookie", fmt.Errorf("performing request: %w", err))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	res.Body.Close()
	cookies := res.Cookies()
	if len(cookies) == 0 {
		return nil, p.fail("cookie", errors.New("no session cookie set"))
	}
	jar.SetCookies(req.URL, cookies)

	// (2) the crumb endpoint, with those cookies
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.crumbURL, http.NoBody)
	if err != nil {
		return nil, p.fail("crumb", fmt.Errorf("creating request: %w", err))
	}
	p.decorate(req)
	for _, ck := range jar.Cookies(req.URL) {
		req.AddCookie(ck)
	}
	res, err = p.client.Do(req)
	if err != nil {
		return nil, p.fail("crumb", fmt.Errorf("performing request: %w", err))
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	if err != nil {
		return nil, p.fail("crumb", fmt.Errorf("reading body: %w", err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, p.fail("crumb", provider.NewAPIError(p.key, res.StatusCode, body))
	}
	crumb := strings.TrimSpace(string(body))
	if crumb == "" || strings.ContainsAny(crumb, "<>{}") {
		return nil, p.fail("crumb", fmt.Errorf("unexpected crumb body %q", truncate(crumb, 64)))
	}
	if extra := res.Cookies(); len(extra) > 0 {
		jar.SetCookies(req.URL, extra)
	}

	return &Session{Token: crumb, Jar: jar, AcquiredAt: p.now()}, nil
}

func (p *Provider) decorate(req *http.Request) {
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	req.Header.Set("Accept", "*/*")
}

func (p *Provider) fail(step string, err error) error {
	return &provider.AuthenticationError{Provider: p.key, Step: step, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
