package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/validate"
)

type apiChart struct {
	Meta struct {
		Symbol           string `json:"symbol"`
		Currency         string `json:"currency"`
		ExchangeTimezone string `json:"exchangeTimezoneName"`
		DataGranularity  string `json:"dataGranularity"`
	} `json:"meta"`
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Date        int64   `json:"date"`
			Numerator   float64 `json:"numerator"`
			Denominator float64 `json:"denominator"`
			SplitRatio  string  `json:"splitRatio"`
		} `json:"splits"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

func parseChart(resource string, body []byte) (apiChart, error) {
	res, err := unwrap[apiChart](resource, "chart", body)
	if err != nil {
		return apiChart{}, err
	}
	return res[0], nil
}

func at(vs []*float64, i int) float64 {
	if i >= len(vs) {
		return 0
	}
	return deref(vs[i])
}

func (c apiChart) bars() ([]Bar, error) {
	if len(c.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart without quote indicators")
	}
	q := c.Indicators.Quote[0]
	var adj []*float64
	if len(c.Indicators.AdjClose) > 0 {
		adj = c.Indicators.AdjClose[0].AdjClose
	}
	out := make([]Bar, 0, len(c.Timestamp))
	for i, ts := range c.Timestamp {
		// rows where the upstream has no trade at all are dropped
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		out = append(out, Bar{
			Time:     unixTime(ts),
			Open:     at(q.Open, i),
			High:     at(q.High, i),
			Low:      at(q.Low, i),
			Close:    at(q.Close, i),
			AdjClose: at(adj, i),
			Volume:   int64(at(q.Volume, i)),
		})
	}
	return out, nil
}

// HistoryParams selects bars either by Range or by an explicit Start/End.
type HistoryParams struct {
	Range    string
	Interval string
	Start    time.Time
	End      time.Time
}

// HistoryService serves OHLCV bars.
type HistoryService struct {
	p pipeline.Pipeline
	c *Client
}

func NewHistoryService(p pipeline.Pipeline, c *Client) *HistoryService {
	return &HistoryService{p: p, c: c}
}

func (s *HistoryService) History(ctx context.Context, symbol string, params HistoryParams) (History, error) {
	sym, err := validate.Symbol(symbol)
	if err != nil {
		return History{}, err
	}
	if params.Interval == "" {
		params.Interval = "1d"
	}
	interval, err := validate.Interval(params.Interval)
	if err != nil {
		return History{}, err
	}

	query := url.Values{"interval": {interval}, "includePrePost": {"false"}}
	key := fmt.Sprintf("yahoo:chart:%s:%s", sym, interval)
	if !params.Start.IsZero() {
		end := params.End
		if end.IsZero() {
			end = time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		}
		if err := validate.Period(params.Start, end); err != nil {
			return History{}, err
		}
		if err := validate.IntervalSpan(interval, end.Sub(params.Start)); err != nil {
			return History{}, err
		}
		query.Set("period1", strconv.FormatInt(params.Start.Unix(), 10))
		query.Set("period2", strconv.FormatInt(end.Unix(), 10))
		key += fmt.Sprintf(":%d-%d", params.Start.Unix(), end.Unix())
	} else {
		if params.Range == "" {
			params.Range = "1mo"
		}
		rng, err := validate.Range(params.Range)
		if err != nil {
			return History{}, err
		}
		if err := validate.RangeInterval(rng, interval); err != nil {
			return History{}, err
		}
		query.Set("range", rng)
		key += ":" + rng
	}

	return pipeline.Execute[History](ctx, s.p, pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "chart",
		CacheKey: key,
		TTL:      provider.TTLBars,
		Call:     s.c.call("/v8/finance/chart/"+url.PathEscape(sym), query),
		Parse: func(body []byte) (any, error) {
			ch, err := parseChart("chart", body)
			if err != nil {
				return nil, err
			}
			bars, err := ch.bars()
			if err != nil {
				return nil, err
			}
			if len(bars) == 0 {
				return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: "chart", Description: "no bars for " + sym}
			}
			return History{
				Symbol:   sym,
				Currency: ch.Meta.Currency,
				Interval: interval,
				Timezone: ch.Meta.ExchangeTimezone,
				Bars:     bars,
			}, nil
		},
	})
}

// CorporateActionsService serves dividends and splits.
type CorporateActionsService struct {
	p pipeline.Pipeline
	c *Client
}

func NewCorporateActionsService(p pipeline.Pipeline, c *Client) *CorporateActionsService {
	return &CorporateActionsService{p: p, c: c}
}

// Actions returns dividends and splits over rng (default "max"). A symbol
// that never paid or split has empty lists, not an error.
func (s *CorporateActionsService) Actions(ctx context.Context, symbol, rng string) (Actions, error) {
	sym, err := validate.Symbol(symbol)
	if err != nil {
		return Actions{}, err
	}
	if rng == "" {
		rng = "max"
	}
	if rng, err = validate.Range(rng); err != nil {
		return Actions{}, err
	}

	return pipeline.Execute[Actions](ctx, s.p, pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "actions",
		CacheKey: fmt.Sprintf("yahoo:actions:%s:%s", sym, rng),
		TTL:      provider.TTLReference,
		Call: s.c.call("/v8/finance/chart/"+url.PathEscape(sym), url.Values{
			"range":    {rng},
			"interval": {"1d"},
			"events":   {"div,splits"},
		}),
		Parse: func(body []byte) (any, error) {
			ch, err := parseChart("actions", body)
			if err != nil {
				return nil, err
			}
			a := Actions{Symbol: sym, Dividends: []Dividend{}, Splits: []Split{}}
			for _, d := range ch.Events.Dividends {
				a.Dividends = append(a.Dividends, Dividend{Date: unixTime(d.Date), Amount: d.Amount})
			}
			for _, sp := range ch.Events.Splits {
				a.Splits = append(a.Splits, Split{
					Date:        unixTime(sp.Date),
					Numerator:   sp.Numerator,
					Denominator: sp.Denominator,
					Ratio:       sp.SplitRatio,
				})
			}
			sort.Slice(a.Dividends, func(i, j int) bool { return a.Dividends[i].Date.Before(a.Dividends[j].Date) })
			sort.Slice(a.Splits, func(i, j int) bool { return a.Splits[i].Date.Before(a.Splits[j].Date) })
			return a, nil
		},
	})
}

func (s *CorporateActionsService) Dividends(ctx context.Context, symbol, rng string) ([]Dividend, error) {
	a, err := s.Actions(ctx, symbol, rng)
	if err != nil {
		return nil, err
	}
	return a.Dividends, nil
}

func (s *CorporateActionsService) Splits(ctx context.Context, symbol, rng string) ([]Split, error) {
	a, err := s.Actions(ctx, symbol, rng)
	if err != nil {
		return nil, err
	}
	return a.Splits, nil
}
