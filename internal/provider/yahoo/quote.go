package yahoo

import (
	"context"
	"net/url"

	"marketdata/internal/provider"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/validate"
)

// apiQuote is one element of quoteResponse.result (and of screener quotes).
type apiQuote struct {
	Symbol                     string   `json:"symbol"`
	ShortName                  string   `json:"shortName"`
	LongName                   string   `json:"longName"`
	QuoteType                  string   `json:"quoteType"`
	Currency                   string   `json:"currency"`
	FullExchangeName           string   `json:"fullExchangeName"`
	MarketState                string   `json:"marketState"`
	RegularMarketPrice         *float64 `json:"regularMarketPrice"`
	RegularMarketChange        *float64 `json:"regularMarketChange"`
	RegularMarketChangePercent *float64 `json:"regularMarketChangePercent"`
	RegularMarketPreviousClose *float64 `json:"regularMarketPreviousClose"`
	RegularMarketOpen          *float64 `json:"regularMarketOpen"`
	RegularMarketDayHigh       *float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow        *float64 `json:"regularMarketDayLow"`
	RegularMarketVolume        int64    `json:"regularMarketVolume"`
	MarketCap                  *float64 `json:"marketCap"`
	RegularMarketTime          int64    `json:"regularMarketTime"`
}

func (q apiQuote) toQuote() Quote {
	name := q.LongName
	if name == "" {
		name = q.ShortName
	}
	return Quote{
		Symbol:        q.Symbol,
		Name:          name,
		QuoteType:     q.QuoteType,
		Currency:      q.Currency,
		Exchange:      q.FullExchangeName,
		MarketState:   q.MarketState,
		Price:         deref(q.RegularMarketPrice),
		Change:        deref(q.RegularMarketChange),
		ChangePercent: deref(q.RegularMarketChangePercent),
		PreviousClose: deref(q.RegularMarketPreviousClose),
		Open:          deref(q.RegularMarketOpen),
		DayHigh:       deref(q.RegularMarketDayHigh),
		DayLow:        deref(q.RegularMarketDayLow),
		Volume:        q.RegularMarketVolume,
		MarketCap:     deref(q.MarketCap),
		Time:          unixTime(q.RegularMarketTime),
	}
}

// QuoteService serves near-real-time quotes.
type QuoteService struct {
	p pipeline.Pipeline
	c *Client
}

func NewQuoteService(p pipeline.Pipeline, c *Client) *QuoteService {
	return &QuoteService{p: p, c: c}
}

func (s *QuoteService) Quote(ctx context.Context, symbol string) (Quote, error) {
	sym, err := validate.Symbol(symbol)
	if err != nil {
		return Quote{}, err
	}
	return s.quote(ctx, sym)
}

// Quotes fetches every symbol independently. Symbols that are malformed or
// have no data are left out; the call fails only when none could be fetched.
func (s *QuoteService) Quotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	syms, err := validate.Symbols(symbols)
	if err != nil {
		return nil, err
	}
	return pipeline.Batch(ctx, s.c.log, s.c.batchLimit, syms, func(ctx context.Context, sym string) (Quote, error) {
		if _, err := validate.Symbol(sym); err != nil {
			return Quote{}, err
		}
		return s.quote(ctx, sym)
	})
}

func (s *QuoteService) quote(ctx context.Context, sym string) (Quote, error) {
	return pipeline.Execute[Quote](ctx, s.p, pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "quote",
		CacheKey: "yahoo:quote:" + sym,
		TTL:      provider.TTLQuote,
		Call:     s.c.call("/v7/finance/quote", url.Values{"symbols": {sym}}),
		Parse: func(body []byte) (any, error) {
			res, err := unwrap[apiQuote]("quote", "quoteResponse", body)
			if err != nil {
				return nil, err
			}
			for _, q := range res {
				if q.Symbol == sym && q.RegularMarketPrice != nil {
					return q.toQuote(), nil
				}
			}
			return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: "quote", Description: "no price for " + sym}
		},
	})
}
