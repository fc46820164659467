package yahoo

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"marketdata/internal/provider"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/validate"
)

type apiSearch struct {
	Count  int `json:"count"`
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		Exchange  string `json:"exchDisp"`
		QuoteType string `json:"quoteType"`
		Sector    string `json:"sector"`
		Industry  string `json:"industry"`
	} `json:"quotes"`
}

// parseSearch maps /v1/finance/search; it has no result envelope, so an
// empty quotes list is the not-found signal.
func parseSearch(resource string, body []byte) ([]Match, error) {
	var res apiSearch
	if err := pipeline.DecodeJSON(provider.Yahoo, resource, body, &res); err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(res.Quotes))
	for _, q := range res.Quotes {
		if q.Symbol == "" {
			continue
		}
		name := q.LongName
		if name == "" {
			name = q.ShortName
		}
		out = append(out, Match{
			Symbol:    q.Symbol,
			Name:      name,
			Exchange:  q.Exchange,
			QuoteType: q.QuoteType,
			Sector:    q.Sector,
			Industry:  q.Industry,
		})
	}
	if len(out) == 0 {
		return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: resource}
	}
	return out, nil
}

// LookupService resolves free text and ISINs to symbols.
type LookupService struct {
	p pipeline.Pipeline
	c *Client
}

func NewLookupService(p pipeline.Pipeline, c *Client) *LookupService {
	return &LookupService{p: p, c: c}
}

func (s *LookupService) Search(ctx context.Context, query string) ([]Match, error) {
	q, err := validate.Query(query)
	if err != nil {
		return nil, err
	}
	return pipeline.Execute[[]Match](ctx, s.p, pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "search",
		CacheKey: "yahoo:search:" + strings.ToLower(q),
		TTL:      provider.TTLReference,
		Call:     s.c.call("/v1/finance/search", searchQuery(q, 10)),
		Parse: func(body []byte) (any, error) {
			return parseSearch("search", body)
		},
	})
}

// ISIN resolves an ISIN to its primary listing, preferring equities and funds
// over derivatives the search may also return.
func (s *LookupService) ISIN(ctx context.Context, isin string) (Identifier, error) {
	code, err := validate.ISIN(isin)
	if err != nil {
		return Identifier{}, err
	}
	return pipeline.Execute[Identifier](ctx, s.p, pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "isin",
		CacheKey: "yahoo:isin:" + code,
		TTL:      provider.TTLISIN,
		Call:     s.c.call("/v1/finance/search", searchQuery(code, 5)),
		Parse: func(body []byte) (any, error) {
			matches, err := parseSearch("isin", body)
			if err != nil {
				return nil, err
			}
			best := matches[0]
			for _, m := range matches {
				if m.QuoteType == "EQUITY" || m.QuoteType == "ETF" || m.QuoteType == "MUTUALFUND" {
					best = m
					break
				}
			}
			return Identifier{ISIN: code, Symbol: best.Symbol, Name: best.Name, Exchange: best.Exchange}, nil
		},
	})
}

// Symbol resolves an ISIN to a ticker and reports whether anything was found.
func (s *LookupService) Symbol(ctx context.Context, isin string) (string, bool, error) {
	id, err := s.ISIN(ctx, isin)
	if notFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id.Symbol, true, nil
}

func searchQuery(q string, quotes int) url.Values {
	return url.Values{
		"q":           {q},
		"quotesCount": {strconv.Itoa(quotes)},
		"newsCount":   {"0"},
		"listsCount":  {"0"},
	}
}
