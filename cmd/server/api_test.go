package main

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/metrics"
	"marketdata/internal/provider"
)

// fakeYahoo serves the cookie, crumb, quote and chart endpoints.
func fakeYahoo(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "session", Path: "/"})
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/crumb", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "crumb-1")
	})
	mux.HandleFunc("/v7/finance/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("crumb") != "crumb-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sym := r.URL.Query().Get("symbols")
		if sym == "BOOM" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "upstream exploded")
			return
		}
		_, _ = io.WriteString(w, `{"quoteResponse":{"result":[{"symbol":"`+sym+`","currency":"USD","regularMarketPrice":101.5}],"error":null}}`)
	})
	mux.HandleFunc("/v8/finance/chart/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"chart":{"result":[{"meta":{"symbol":"AAPL"},"timestamp":[],
			"events":{"dividends":{"1699900000":{"amount":0.24,"date":1699900000}},
				"splits":{"1598832000":{"date":1598832000,"numerator":4,"denominator":1,"splitRatio":"4:1"}}},
			"indicators":{"quote":[{}]}}],"error":null}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	upstream := fakeYahoo(t)
	cfg := config.Default()
	cfg.Yahoo.BaseURL = upstream.URL
	cfg.Yahoo.CookieURL = upstream.URL + "/cookie"
	cfg.Yahoo.CrumbURL = upstream.URL + "/crumb"
	cfg.Yahoo.RateLimit.Enabled = false
	cfg.Fred.APIKey = ""

	lg := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	a := app.New(t.Context(), cfg, lg, m)
	return newHandler(cfg, a, lg, m, reg)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, rd))
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestQuotes_Get(t *testing.T) {
	h := newTestHandler(t)

	rr := do(t, h, http.MethodGet, "/api/quotes?symbols=aapl,MSFT", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	var resp quotesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Quotes, 2)
	require.InDelta(t, 101.5, resp.Quotes["AAPL"].Price, 1e-9)
}

func TestQuotes_Post(t *testing.T) {
	h := newTestHandler(t)

	rr := do(t, h, http.MethodPost, "/api/quotes", `{"symbols":["SPX"]}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp quotesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Contains(t, resp.Quotes, "^GSPC", "aliases are resolved")
}

func TestActions_Kind(t *testing.T) {
	h := newTestHandler(t)

	// Act
	divs := do(t, h, http.MethodGet, "/api/actions?symbol=AAPL&kind=dividends", "")
	splits := do(t, h, http.MethodGet, "/api/actions?symbol=AAPL&kind=splits", "")

	// Assert
	require.Equal(t, http.StatusOK, divs.Code, divs.Body.String())
	var d map[string][]map[string]any
	require.NoError(t, json.Unmarshal(divs.Body.Bytes(), &d))
	require.Len(t, d["dividends"], 1)
	require.InDelta(t, 0.24, d["dividends"][0]["amount"], 1e-9)
	require.NotContains(t, d, "splits")

	require.Equal(t, http.StatusOK, splits.Code, splits.Body.String())
	var s map[string][]map[string]any
	require.NoError(t, json.Unmarshal(splits.Body.Bytes(), &s))
	require.Len(t, s["splits"], 1)
	require.Equal(t, "4:1", s["splits"][0]["ratio"])
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing symbols", http.MethodGet, "/api/quotes", "", http.StatusBadRequest, provider.CodeInvalidInput},
		{"bad symbol", http.MethodGet, "/api/quotes?symbols=A%20B", "", http.StatusBadRequest, provider.CodeInvalidInput},
		{"bad json", http.MethodPost, "/api/quotes", `{"tickers":[]}`, http.StatusBadRequest, provider.CodeInvalidInput},
		{"bad date", http.MethodGet, "/api/history?symbol=AAPL&start=yesterday", "", http.StatusBadRequest, provider.CodeInvalidInput},
		{"bad count", http.MethodGet, "/api/screener?id=day_gainers&count=many", "", http.StatusBadRequest, provider.CodeInvalidInput},
		{"bad action kind", http.MethodGet, "/api/actions?symbol=AAPL&kind=mergers", "", http.StatusBadRequest, provider.CodeInvalidInput},
		{"bad isin", http.MethodGet, "/api/isin?isin=US0378331006", "", http.StatusBadRequest, provider.CodeInvalidInput},
		{"upstream failure", http.MethodGet, "/api/quotes?symbols=BOOM", "", http.StatusBadGateway, provider.CodeAPI},
		{"no fred key", http.MethodGet, "/api/macro/series?id=GDP", "", http.StatusServiceUnavailable, provider.CodeConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, tt.method, tt.target, tt.body)

			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			require.Equal(t, tt.wantCode, decodeError(t, rr).Error.Code)
		})
	}
}

func TestRateLimitStatus(t *testing.T) {
	h := newTestHandler(t)

	rr := do(t, h, http.MethodGet, "/api/ratelimit", "")

	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, false, got["YAHOO"]["enabled"])
	require.Equal(t, true, got["FRED"]["enabled"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestGzip(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=AAPL", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	require.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	var resp quotesResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&resp))
	require.Contains(t, resp.Quotes, "AAPL")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t)
	_ = do(t, h, http.MethodGet, "/api/quotes?symbols=AAPL", "")

	rr := do(t, h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "marketdata_http_requests_total")
	require.Contains(t, rr.Body.String(), "marketdata_upstream_requests_total")
}

func TestRecoverPanic(t *testing.T) {
	h := recoverPanic(zaptest.NewLogger(t), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := do(t, h, http.MethodGet, "/", "")

	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
