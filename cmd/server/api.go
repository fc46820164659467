package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/config"
	"marketdata/internal/logger"
	"marketdata/internal/metrics"
	"marketdata/internal/provider"
	"marketdata/internal/provider/fred"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/provider/yahoo"
	"marketdata/internal/validate"
)

// api serves the HTTP endpoints over the domain services.
type api struct {
	yahoo   *yahoo.Services
	macro   *fred.MacroService
	pipe    pipeline.Pipeline
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	a.handle(mux, "GET /api/quotes", a.getQuotes)
	a.handle(mux, "POST /api/quotes", a.postQuotes)
	a.handle(mux, "GET /api/history", a.history)
	a.handle(mux, "GET /api/actions", a.actions)
	a.handle(mux, "GET /api/options", a.options)
	a.handle(mux, "GET /api/screener", a.screener)
	a.handle(mux, "GET /api/search", a.search)
	a.handle(mux, "GET /api/isin", a.isin)
	a.handle(mux, "GET /api/profile", a.profile)
	a.handle(mux, "GET /api/macro/series", a.macroSeries)
	a.handle(mux, "GET /api/macro/observations", a.macroObservations)
	a.handle(mux, "GET /api/ratelimit", a.rateLimit)
	return mux
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle bounds each request by the configured timeout, writes handler
// errors, and records the access log and route metrics.
func (a *api) handle(mux *http.ServeMux, pattern string, h handlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
		defer cancel()
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		log := logger.FromContext(ctx, a.log)
		if err := h(rec, r); err != nil {
			writeError(rec, log, err)
		}
		a.metrics.HTTPDone(pattern, r.Method, rec.status, time.Since(start))
		log.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

type quotesResponse struct {
	Quotes map[string]yahoo.Quote `json:"quotes"`
}

func (a *api) getQuotes(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query().Get("symbols")
	if strings.TrimSpace(q) == "" {
		return &provider.InvalidInputError{Field: "symbols", Reason: "missing symbols query param"}
	}
	return a.writeQuotes(r.Context(), w, config.SplitCSV(q))
}

type postBody struct {
	Symbols []string `json:"symbols"`
}

func (a *api) postQuotes(w http.ResponseWriter, r *http.Request) error {
	var b postBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return &provider.InvalidInputError{Field: "body", Reason: "invalid JSON body"}
	}
	return a.writeQuotes(r.Context(), w, b.Symbols)
}

func (a *api) writeQuotes(ctx context.Context, w http.ResponseWriter, symbols []string) error {
	quotes, err := a.yahoo.Quotes.Quotes(ctx, symbols)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, quotesResponse{Quotes: quotes})
	return nil
}

func (a *api) history(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	start, err := validate.Date("start", q.Get("start"))
	if err != nil {
		return err
	}
	end, err := validate.Date("end", q.Get("end"))
	if err != nil {
		return err
	}
	h, err := a.yahoo.History.History(r.Context(), q.Get("symbol"), yahoo.HistoryParams{
		Range:    q.Get("range"),
		Interval: q.Get("interval"),
		Start:    start,
		End:      end,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, h)
	return nil
}

// actions serves dividends and splits; kind=dividends or kind=splits narrows
// the answer to one list.
func (a *api) actions(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	symbol, rng := q.Get("symbol"), q.Get("range")
	var (
		v   any
		err error
	)
	switch kind := strings.ToLower(q.Get("kind")); kind {
	case "":
		v, err = a.yahoo.Actions.Actions(r.Context(), symbol, rng)
	case "dividends":
		var d []yahoo.Dividend
		d, err = a.yahoo.Actions.Dividends(r.Context(), symbol, rng)
		v = map[string]any{"dividends": d}
	case "splits":
		var s []yahoo.Split
		s, err = a.yahoo.Actions.Splits(r.Context(), symbol, rng)
		v = map[string]any{"splits": s}
	default:
		return &provider.InvalidInputError{Field: "kind", Value: kind, Reason: "want dividends or splits"}
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, v)
	return nil
}

func (a *api) options(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	expiry, err := validate.Date("expiry", q.Get("expiry"))
	if err != nil {
		return err
	}
	chain, err := a.yahoo.Options.Chain(r.Context(), q.Get("symbol"), expiry)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, chain)
	return nil
}

func (a *api) screener(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	count, err := intParam(q.Get("count"), "count")
	if err != nil {
		return err
	}
	screen, err := a.yahoo.Screener.Predefined(r.Context(), q.Get("id"), count)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, screen)
	return nil
}

func (a *api) search(w http.ResponseWriter, r *http.Request) error {
	matches, err := a.yahoo.Lookup.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
	return nil
}

func (a *api) isin(w http.ResponseWriter, r *http.Request) error {
	id, err := a.yahoo.Lookup.ISIN(r.Context(), r.URL.Query().Get("isin"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, id)
	return nil
}

func (a *api) profile(w http.ResponseWriter, r *http.Request) error {
	p, err := a.yahoo.Profile.Profile(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, p)
	return nil
}

func (a *api) macroSeries(w http.ResponseWriter, r *http.Request) error {
	s, err := a.macro.Series(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s)
	return nil
}

// macroObservations accepts ids as a comma separated list; several ids
// are fetched as a batch.
func (a *api) macroObservations(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	start, err := validate.Date("start", q.Get("start"))
	if err != nil {
		return err
	}
	end, err := validate.Date("end", q.Get("end"))
	if err != nil {
		return err
	}
	ids := config.SplitCSV(q.Get("ids"))
	if len(ids) == 1 {
		obs, err := a.macro.Observations(r.Context(), ids[0], start, end)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"observations": map[string][]fred.Observation{ids[0]: obs}})
		return nil
	}
	obs, err := a.macro.ObservationsBatch(r.Context(), ids, start, end)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": obs})
	return nil
}

func (a *api) rateLimit(w http.ResponseWriter, r *http.Request) error {
	out := make(map[string]ratelimit.Status, 2)
	for _, k := range []provider.Key{provider.Yahoo, provider.FRED} {
		out[k.String()] = a.pipe.RateLimitStatus(k)
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func intParam(s, field string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &provider.InvalidInputError{Field: field, Value: s, Reason: "not an integer"}
	}
	return n, nil
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusFor maps an error code to the HTTP status callers see.
func statusFor(err error) int {
	switch provider.CodeOf(err) {
	case provider.CodeInvalidInput:
		return http.StatusBadRequest
	case provider.CodeDataNotFound:
		return http.StatusNotFound
	case provider.CodeConfiguration:
		return http.StatusServiceUnavailable
	case provider.CodeAuthentication, provider.CodeAPI, provider.CodeDataParsing:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusFor(err)
	var body errorBody
	body.Error.Code = provider.CodeOf(err)
	body.Error.Message = err.Error()
	if status >= 500 {
		log.Warn("request failed", zap.String("code", body.Error.Code), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
