package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"marketdata/internal/metrics"
	"marketdata/internal/provider"
	"marketdata/internal/provider/auth"
	"marketdata/internal/provider/cache"
	"marketdata/internal/provider/pipeline"
)

// fakeAuth hands out sessions whose token is "t<generation>".
type fakeAuth struct {
	mu         sync.Mutex
	cur        *auth.Session
	sessions   atomic.Int32
	refreshes  atomic.Int32
	refreshErr error
}

func newFakeAuth() *fakeAuth { return &fakeAuth{cur: &auth.Session{Token: "t1"}} }

func (f *fakeAuth) Session(context.Context) (*auth.Session, error) {
	f.sessions.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur, nil
}

func (f *fakeAuth) Refresh(_ context.Context, stale *auth.Session) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur != stale {
		return f.cur, nil
	}
	n := f.refreshes.Add(1)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.cur = &auth.Session{Token: fmt.Sprintf("t%d", n+1)}
	return f.cur, nil
}

// upstream serves body for requests carrying an accepted crumb.
type upstream struct {
	*httptest.Server
	hits     atomic.Int32
	accepted atomic.Value // string crumb; empty accepts anything
	status   atomic.Int32
	body     atomic.Value
	delay    time.Duration
}

func newUpstream(t *testing.T, body string) *upstream {
	t.Helper()

	u := &upstream{}
	u.body.Store(body)
	u.accepted.Store("")
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		if u.delay > 0 {
			time.Sleep(u.delay)
		}
		if want := u.accepted.Load().(string); want != "" && r.URL.Query().Get("crumb") != want {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"finance":{"error":{"code":"Unauthorized","description":"Invalid Crumb"}}}`))
			return
		}
		if code := u.status.Load(); code != 0 {
			w.WriteHeader(int(code))
		}
		_, _ = w.Write([]byte(u.body.Load().(string)))
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) call(path string) pipeline.CallFunc {
	return func(ctx context.Context, s *auth.Session) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL+path, http.NoBody)
		if err != nil {
			return nil, err
		}
		s.Apply(req)
		return u.Client().Do(req)
	}
}

type quoteEnvelope struct {
	QuoteResponse struct {
		Result []struct {
			Symbol string  `json:"symbol"`
			Price  float64 `json:"regularMarketPrice"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

func parseQuote(body []byte) (any, error) {
	var env quoteEnvelope
	if err := pipeline.DecodeJSON(provider.Yahoo, "quote", body, &env); err != nil {
		return nil, err
	}
	if e := env.QuoteResponse.Error; e != nil {
		return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: "quote", UpstreamErr: e.Code, Description: e.Description}
	}
	if len(env.QuoteResponse.Result) == 0 {
		return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: "quote"}
	}
	return env.QuoteResponse.Result[0].Price, nil
}

const aaplBody = `{"quoteResponse":{"result":[{"symbol":"AAPL","regularMarketPrice":187.5}],"error":null}}`

func quoteRequest(u *upstream, key string) pipeline.Request {
	return pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "quote",
		CacheKey: key,
		TTL:      time.Minute,
		Call:     u.call("/v7/finance/quote"),
		Parse:    parseQuote,
	}
}

func TestExecute_ReturnsParsedValue(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, aaplBody)
	p := pipeline.New(pipeline.WithLogger(zaptest.NewLogger(t)))

	price, err := pipeline.Execute[float64](t.Context(), p, quoteRequest(u, "quote:AAPL"))
	require.NoError(t, err)
	require.Equal(t, 187.5, price)
}

func TestExecute_SingleFlightAndCache(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, aaplBody)
	u.delay = 30 * time.Millisecond
	p := pipeline.New()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pipeline.Execute[float64](t.Context(), p, quoteRequest(u, "quote:AAPL"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := pipeline.Execute[float64](t.Context(), p, quoteRequest(u, "quote:AAPL"))
	require.NoError(t, err)

	require.Equal(t, int32(1), u.hits.Load())
}

func TestExecute_AuthenticatesOnceForConcurrentCalls(t *testing.T) {
	t.Parallel()

	// Arrange: a real crumb provider in front of the upstream.
	var crumbHits atomic.Int32
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/getcrumb" {
			crumbHits.Add(1)
			time.Sleep(20 * time.Millisecond)
			_, _ = w.Write([]byte("good"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "c", Path: "/"})
	}))
	t.Cleanup(authSrv.Close)
	ap := auth.New(authSrv.Client(), auth.WithCookieURL(authSrv.URL+"/"), auth.WithCrumbURL(authSrv.URL+"/getcrumb"))

	u := newUpstream(t, aaplBody)
	u.accepted.Store("good")
	p := pipeline.New(pipeline.WithAuthenticator(provider.Yahoo, ap))

	// Act: distinct cache keys so every call reaches the upstream.
	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Execute(t.Context(), quoteRequest(u, fmt.Sprintf("quote:%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), crumbHits.Load())
	require.Equal(t, int32(n), u.hits.Load())
	require.Equal(t, auth.Authenticated, ap.State())
}

func TestExecute_RetriesOnceAfterUnauthorized(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, aaplBody)
	u.accepted.Store("t2")
	fa := newFakeAuth()
	p := pipeline.New(pipeline.WithAuthenticator(provider.Yahoo, fa))

	price, err := pipeline.Execute[float64](t.Context(), p, quoteRequest(u, "quote:AAPL"))

	require.NoError(t, err)
	require.Equal(t, 187.5, price)
	require.Equal(t, int32(1), fa.refreshes.Load())
	require.Equal(t, int32(2), u.hits.Load())
}

func TestExecute_SecondUnauthorizedIsReturnedUnmodified(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, aaplBody)
	u.accepted.Store("never")
	fa := newFakeAuth()
	p := pipeline.New(pipeline.WithAuthenticator(provider.Yahoo, fa))

	_, err := p.Execute(t.Context(), quoteRequest(u, "quote:AAPL"))

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	var authErr *provider.AuthenticationError
	require.False(t, errors.As(err, &authErr), "a second 401 is not re-labelled")
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, provider.CodeAPI, provider.CodeOf(err))
	require.Equal(t, int32(1), fa.refreshes.Load(), "exactly one recovery")
	require.Equal(t, int32(2), u.hits.Load())
}

func TestExecute_RefreshFailureSurfaces(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, aaplBody)
	u.accepted.Store("t2")
	fa := newFakeAuth()
	fa.refreshErr = &provider.AuthenticationError{Provider: provider.Yahoo, Step: "crumb", Err: errors.New("denied")}
	p := pipeline.New(pipeline.WithAuthenticator(provider.Yahoo, fa))

	_, err := p.Execute(t.Context(), quoteRequest(u, "quote:AAPL"))
	require.Equal(t, provider.CodeAuthentication, provider.CodeOf(err))
	require.Equal(t, int32(1), u.hits.Load())
}

func TestExecute_Classification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int32
		body   string
		code   string
	}{
		{"server error", http.StatusBadGateway, "bad gateway", provider.CodeAPI},
		{"not found status", http.StatusNotFound, `{"chart":{"result":null}}`, provider.CodeAPI},
		{"malformed body", 0, `{"quoteResponse":`, provider.CodeDataParsing},
		{"empty result", 0, `{"quoteResponse":{"result":[],"error":null}}`, provider.CodeDataNotFound},
		{"null result", 0, `{"quoteResponse":{"result":null,"error":null}}`, provider.CodeDataNotFound},
		{"envelope error", 0, `{"quoteResponse":{"result":[],"error":{"code":"Not Found","description":"No data found"}}}`, provider.CodeDataNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			u := newUpstream(t, tc.body)
			u.status.Store(tc.status)
			p := pipeline.New()

			_, err := p.Execute(t.Context(), quoteRequest(u, "quote:X"))
			require.Error(t, err)
			require.Equal(t, tc.code, provider.CodeOf(err))
		})
	}
}

func TestExecute_APIErrorBodyIsTruncated(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, strings.Repeat("x", 10<<10))
	u.status.Store(http.StatusInternalServerError)
	p := pipeline.New()

	_, err := p.Execute(t.Context(), quoteRequest(u, "quote:X"))
	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.Status)
	require.Len(t, apiErr.Body, 2<<10)
}

func TestExecute_FailuresAreNotCached(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, aaplBody)
	u.status.Store(http.StatusServiceUnavailable)
	p := pipeline.New()

	_, err := p.Execute(t.Context(), quoteRequest(u, "quote:AAPL"))
	require.Error(t, err)

	u.status.Store(0)
	price, err := pipeline.Execute[float64](t.Context(), p, quoteRequest(u, "quote:AAPL"))
	require.NoError(t, err)
	require.Equal(t, 187.5, price)
	require.Equal(t, int32(2), u.hits.Load())
}

func TestExecute_TypeMismatchIsParsingError(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, aaplBody)
	p := pipeline.New()

	_, err := pipeline.Execute[string](t.Context(), p, quoteRequest(u, "quote:AAPL"))
	require.Equal(t, provider.CodeDataParsing, provider.CodeOf(err))
}

func TestExecute_PlainParseErrorBecomesParsingError(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, aaplBody)
	p := pipeline.New()
	req := quoteRequest(u, "")
	req.Parse = func([]byte) (any, error) { return nil, errors.New("unexpected shape") }

	_, err := p.Execute(t.Context(), req)
	var perr *provider.DataParsingError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "quote", perr.Resource)
}

func TestExecute_StoreSharesBodiesAcrossExecutors(t *testing.T) {
	t.Parallel()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStore(client, "test")

	u := newUpstream(t, aaplBody)
	first := pipeline.New(pipeline.WithStore(store))
	second := pipeline.New(pipeline.WithStore(store))

	_, err = first.Execute(t.Context(), quoteRequest(u, "quote:AAPL"))
	require.NoError(t, err)
	price, err := pipeline.Execute[float64](t.Context(), second, quoteRequest(u, "quote:AAPL"))
	require.NoError(t, err)

	require.Equal(t, 187.5, price)
	require.Equal(t, int32(1), u.hits.Load())
	require.True(t, server.Exists("test:quote:AAPL"))
}

func TestExecute_RecordsOutcomes(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	u := newUpstream(t, `{"quoteResponse":{"result":[]}}`)
	p := pipeline.New(pipeline.WithMetrics(m))

	_, _ = p.Execute(t.Context(), quoteRequest(u, "quote:X"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("YAHOO", provider.CodeDataNotFound)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Upstream.WithLabelValues("YAHOO", "200")))
}

func TestExecute_RequiresCallAndParse(t *testing.T) {
	t.Parallel()

	_, err := pipeline.New().Execute(t.Context(), pipeline.Request{Provider: provider.FRED})
	require.Error(t, err)
}
