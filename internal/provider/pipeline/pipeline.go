package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/metrics"
	"marketdata/internal/provider"
	"marketdata/internal/provider/auth"
	"marketdata/internal/provider/cache"
	"marketdata/internal/provider/ratelimit"
)

// maxBody caps how much of an upstream response is read into memory.
const maxBody = 32 << 20

// CallFunc performs one outbound request. s is nil for providers without a
// session. The pipeline owns and closes the response body.
type CallFunc func(ctx context.Context, s *auth.Session) (*http.Response, error)

// ParseFunc maps a 2xx body to a domain value. It returns *DataNotFoundError
// for an empty or error envelope and *DataParsingError for a malformed body;
// any other error is reported as a parsing error.
type ParseFunc func(body []byte) (any, error)

// Request is one pipeline call. An empty CacheKey skips caching and
// deduplication; a TTL <= 0 deduplicates concurrent calls without storing.
type Request struct {
	Provider provider.Key
	Resource string
	CacheKey string
	TTL      time.Duration
	Call     CallFunc
	Parse    ParseFunc
}

// Pipeline is what domain services depend on.
type Pipeline interface {
	Execute(ctx context.Context, req Request) (any, error)
	RateLimitStatus(key provider.Key) ratelimit.Status
}

// Authenticator supplies and renews the session of a cookie-protected provider.
type Authenticator interface {
	Session(ctx context.Context) (*auth.Session, error)
	Refresh(ctx context.Context, stale *auth.Session) (*auth.Session, error)
}

// Executor composes rate limiting, caching and authentication into one call path.
type Executor struct {
	limiter *ratelimit.Limiter
	cache   *cache.Cache[any]
	store   cache.Store
	auths   map[provider.Key]Authenticator
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Executor)

func WithLimiter(l *ratelimit.Limiter) Option { return func(e *Executor) { e.limiter = l } }
func WithCache(c *cache.Cache[any]) Option { return func(e *Executor) { e.cache = c } }

// WithStore adds a shared body store consulted before the upstream.
func WithStore(s cache.Store) Option { return func(e *Executor) { e.store = s } }

func WithAuthenticator(key provider.Key, a Authenticator) Option {
	return func(e *Executor) { e.auths[key] = a }
}

func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Executor) { e.metrics = m } }

func New(opts ...Option) *Executor {
	e := &Executor{
		auths: make(map[provider.Key]Authenticator),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.limiter == nil {
		e.limiter = ratelimit.New(nil)
	}
	if e.cache == nil {
		e.cache = cache.New[any](cache.WithLogger(e.log), cache.WithMetrics(e.metrics))
	}
	return e
}

// Execute returns the cached value for req.CacheKey or runs the call once for
// every concurrent caller asking for the same key.
func (e *Executor) Execute(ctx context.Context, req Request) (any, error) {
	if req.Call == nil || req.Parse == nil {
		return nil, fmt.Errorf("pipeline: %s %s: call and parse are required", req.Provider, req.Resource)
	}
	var (
		v   any
		err error
	)
	if req.CacheKey == "" {
		v, err = e.fetch(ctx, req)
	} else {
		v, err = e.cache.GetOrPut(ctx, req.CacheKey, req.TTL, func(ctx context.Context) (any, error) {
			return e.fetch(ctx, req)
		})
	}
	e.metrics.Outcome(req.Provider.String(), provider.CodeOf(err))
	return v, err
}

func (e *Executor) RateLimitStatus(key provider.Key) ratelimit.Status {
	return e.limiter.Status(key)
}

// Execute runs req on p and asserts the parsed value to T.
func Execute[T any](ctx context.Context, p Pipeline, req Request) (T, error) {
	var zero T
	v, err := p.Execute(ctx, req)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &provider.DataParsingError{
			Provider: req.Provider,
			Resource: req.Resource,
			Err:      fmt.Errorf("parsed %T, want %T", v, zero),
		}
	}
	return t, nil
}

func (e *Executor) fetch(ctx context.Context, req Request) (any, error) {
	useStore := e.store != nil && req.CacheKey != "" && req.TTL > 0
	if useStore {
		body, ok, err := e.store.Get(ctx, req.CacheKey)
		switch {
		case err != nil:
			e.log.Warn("body store read failed", zap.String("key", req.CacheKey), zap.Error(err))
		case ok:
			if v, err := e.parse(req, body); err == nil {
				return v, nil
			}
			e.log.Debug("stored body no longer parses", zap.String("key", req.CacheKey))
		}
	}

	body, err := e.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	v, err := e.parse(req, body)
	if err != nil {
		return nil, err
	}
	if useStore {
		if err := e.store.Set(ctx, req.CacheKey, body, req.TTL); err != nil {
			e.log.Warn("body store write failed", zap.String("key", req.CacheKey), zap.Error(err))
		}
	}
	return v, nil
}

func (e *Executor) parse(req Request, body []byte) (any, error) {
	v, err := req.Parse(body)
	if err == nil {
		return v, nil
	}
	var (
		notFound *provider.DataNotFoundError
		parsing  *provider.DataParsingError
	)
	if errors.As(err, &notFound) || errors.As(err, &parsing) {
		return nil, err
	}
	return nil, &provider.DataParsingError{Provider: req.Provider, Resource: req.Resource, Err: err}
}

// roundTrip sends req, re-authenticating and retrying once on 401.
func (e *Executor) roundTrip(ctx context.Context, req Request) ([]byte, error) {
	a := e.auths[req.Provider]
	var sess *auth.Session
	if a != nil {
		s, err := a.Session(ctx)
		if err != nil {
			return nil, err
		}
		sess = s
	}

	status, body, err := e.send(ctx, req, sess)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && a != nil {
		e.log.Info("upstream rejected session, refreshing", zap.String("provider", req.Provider.String()))
		fresh, err := a.Refresh(ctx, sess)
		if err != nil {
			return nil, err
		}
		status, body, err = e.send(ctx, req, fresh)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, provider.NewAPIError(req.Provider, status, body)
	}
	return body, nil
}

func (e *Executor) send(ctx context.Context, req Request, s *auth.Session) (int, []byte, error) {
	if err := e.limiter.Acquire(ctx, req.Provider); err != nil {
		return 0, nil, err
	}
	start := time.Now()
	res, err := req.Call(ctx, s)
	if err != nil {
		e.metrics.UpstreamDone(req.Provider.String(), 0, time.Since(start))
		return 0, nil, fmt.Errorf("%s %s: performing request: %w", req.Provider, req.Resource, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	e.metrics.UpstreamDone(req.Provider.String(), res.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: reading body: %w", req.Provider, req.Resource, err)
	}
	return res.StatusCode, body, nil
}

// DecodeJSON unmarshals body into dst, reporting failures as DataParsingError.
func DecodeJSON(p provider.Key, resource string, body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return &provider.DataParsingError{Provider: p, Resource: resource, Err: err}
	}
	return nil
}
