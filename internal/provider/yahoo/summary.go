package yahoo

import (
	"context"
	"net/url"

	"marketdata/internal/provider"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/validate"
)

type apiSummary struct {
	AssetProfile *struct {
		Sector              string `json:"sector"`
		Industry            string `json:"industry"`
		Country             string `json:"country"`
		Website             string `json:"website"`
		FullTimeEmployees   int64  `json:"fullTimeEmployees"`
		LongBusinessSummary string `json:"longBusinessSummary"`
	} `json:"assetProfile"`
	Price *struct {
		Symbol       string    `json:"symbol"`
		LongName     string    `json:"longName"`
		ShortName    string    `json:"shortName"`
		Currency     string    `json:"currency"`
		ExchangeName string    `json:"exchangeName"`
		MarketCap    *rawValue `json:"marketCap"`
	} `json:"price"`
}

// ProfileService serves company reference data.
type ProfileService struct {
	p pipeline.Pipeline
	c *Client
}

func NewProfileService(p pipeline.Pipeline, c *Client) *ProfileService {
	return &ProfileService{p: p, c: c}
}

func (s *ProfileService) Profile(ctx context.Context, symbol string) (Profile, error) {
	sym, err := validate.Symbol(symbol)
	if err != nil {
		return Profile{}, err
	}
	return pipeline.Execute[Profile](ctx, s.p, pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "profile",
		CacheKey: "yahoo:profile:" + sym,
		TTL:      provider.TTLReference,
		Call: s.c.call("/v10/finance/quoteSummary/"+url.PathEscape(sym), url.Values{
			"modules": {"assetProfile,price"},
		}),
		Parse: func(body []byte) (any, error) {
			res, err := unwrap[apiSummary]("profile", "quoteSummary", body)
			if err != nil {
				return nil, err
			}
			sm := res[0]
			if sm.AssetProfile == nil && sm.Price == nil {
				return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: "profile", Description: "no modules for " + sym}
			}
			p := Profile{Symbol: sym}
			if ap := sm.AssetProfile; ap != nil {
				p.Sector = ap.Sector
				p.Industry = ap.Industry
				p.Country = ap.Country
				p.Website = ap.Website
				p.Employees = ap.FullTimeEmployees
				p.Summary = ap.LongBusinessSummary
			}
			if pr := sm.Price; pr != nil {
				p.Name = pr.LongName
				if p.Name == "" {
					p.Name = pr.ShortName
				}
				p.Currency = pr.Currency
				p.Exchange = pr.ExchangeName
				p.MarketCap = pr.MarketCap.value()
			}
			return p, nil
		},
	})
}
