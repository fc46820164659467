package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/validate"
)

type apiContract struct {
	ContractSymbol    string   `json:"contractSymbol"`
	Strike            float64  `json:"strike"`
	Currency          string   `json:"currency"`
	LastPrice         *float64 `json:"lastPrice"`
	Change            *float64 `json:"change"`
	PercentChange     *float64 `json:"percentChange"`
	Volume            int64    `json:"volume"`
	OpenInterest      int64    `json:"openInterest"`
	Bid               *float64 `json:"bid"`
	Ask               *float64 `json:"ask"`
	ImpliedVolatility *float64 `json:"impliedVolatility"`
	InTheMoney        bool     `json:"inTheMoney"`
	Expiration        int64    `json:"expiration"`
	LastTradeDate     int64    `json:"lastTradeDate"`
}

type apiOptionChain struct {
	UnderlyingSymbol string    `json:"underlyingSymbol"`
	ExpirationDates  []int64   `json:"expirationDates"`
	Strikes          []float64 `json:"strikes"`
	Options          []struct {
		ExpirationDate int64         `json:"expirationDate"`
		Calls          []apiContract `json:"calls"`
		Puts           []apiContract `json:"puts"`
	} `json:"options"`
}

func contracts(in []apiContract) []OptionContract {
	out := make([]OptionContract, 0, len(in))
	for _, c := range in {
		out = append(out, OptionContract{
			ContractSymbol:    c.ContractSymbol,
			Strike:            c.Strike,
			Currency:          c.Currency,
			LastPrice:         deref(c.LastPrice),
			Change:            deref(c.Change),
			PercentChange:     deref(c.PercentChange),
			Volume:            c.Volume,
			OpenInterest:      c.OpenInterest,
			Bid:               deref(c.Bid),
			Ask:               deref(c.Ask),
			ImpliedVolatility: deref(c.ImpliedVolatility),
			InTheMoney:        c.InTheMoney,
			Expiration:        unixTime(c.Expiration),
			LastTrade:         unixTime(c.LastTradeDate),
		})
	}
	return out
}

// OptionsService serves option chains.
type OptionsService struct {
	p pipeline.Pipeline
	c *Client
}

func NewOptionsService(p pipeline.Pipeline, c *Client) *OptionsService {
	return &OptionsService{p: p, c: c}
}

// Chain returns the chain for expiry, or for the nearest expiry when expiry is zero.
func (s *OptionsService) Chain(ctx context.Context, symbol string, expiry time.Time) (OptionChain, error) {
	sym, err := validate.Symbol(symbol)
	if err != nil {
		return OptionChain{}, err
	}
	query := url.Values{}
	key := "yahoo:options:" + sym
	if !expiry.IsZero() {
		// expiries are midnight UTC on the upstream
		d := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC).Unix()
		query.Set("date", strconv.FormatInt(d, 10))
		key += fmt.Sprintf(":%d", d)
	}

	return pipeline.Execute[OptionChain](ctx, s.p, pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "options",
		CacheKey: key,
		TTL:      provider.TTLOptions,
		Call:     s.c.call("/v7/finance/options/"+url.PathEscape(sym), query),
		Parse: func(body []byte) (any, error) {
			res, err := unwrap[apiOptionChain]("options", "optionChain", body)
			if err != nil {
				return nil, err
			}
			oc := res[0]
			if len(oc.Options) == 0 {
				return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: "options", Description: "no contracts for " + sym}
			}
			chain := OptionChain{
				Symbol:  sym,
				Expiry:  unixTime(oc.Options[0].ExpirationDate),
				Strikes: oc.Strikes,
				Calls:   contracts(oc.Options[0].Calls),
				Puts:    contracts(oc.Options[0].Puts),
			}
			if oc.UnderlyingSymbol != "" {
				chain.Symbol = oc.UnderlyingSymbol
			}
			chain.Expirations = make([]time.Time, 0, len(oc.ExpirationDates))
			for _, e := range oc.ExpirationDates {
				chain.Expirations = append(chain.Expirations, unixTime(e))
			}
			return chain, nil
		},
	})
}

// Expirations lists the available expiry dates of symbol.
func (s *OptionsService) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	chain, err := s.Chain(ctx, symbol, time.Time{})
	if err != nil {
		return nil, err
	}
	return chain.Expirations, nil
}
