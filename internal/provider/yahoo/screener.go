package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"marketdata/internal/provider"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/validate"
)

// Predefined screener ids, e.g. "day_gainers", "most_actives".
var screenerIDRe = regexp.MustCompile(`^[a-z][a-z0-9_]{2,63}$`)

const (
	defaultScreenerCount = 25
	maxScreenerCount     = 250
)

type apiScreen struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Total       int        `json:"total"`
	Quotes      []apiQuote `json:"quotes"`
}

// ScreenerService serves Yahoo's predefined screens.
type ScreenerService struct {
	p pipeline.Pipeline
	c *Client
}

func NewScreenerService(p pipeline.Pipeline, c *Client) *ScreenerService {
	return &ScreenerService{p: p, c: c}
}

// Predefined runs screen id and returns up to count quotes (default 25).
func (s *ScreenerService) Predefined(ctx context.Context, id string, count int) (Screen, error) {
	if !screenerIDRe.MatchString(id) {
		return Screen{}, &provider.InvalidInputError{Field: "screener", Value: id, Reason: "lower-case identifier expected"}
	}
	n, err := validate.Count("count", count, defaultScreenerCount, maxScreenerCount)
	if err != nil {
		return Screen{}, err
	}

	return pipeline.Execute[Screen](ctx, s.p, pipeline.Request{
		Provider: provider.Yahoo,
		Resource: "screener",
		CacheKey: fmt.Sprintf("yahoo:screener:%s:%d", id, n),
		TTL:      provider.TTLScreener,
		Call: s.c.call("/v1/finance/screener/predefined/saved", url.Values{
			"scrIds":    {id},
			"count":     {strconv.Itoa(n)},
			"formatted": {"false"},
		}),
		Parse: func(body []byte) (any, error) {
			res, err := unwrap[apiScreen]("screener", "finance", body)
			if err != nil {
				return nil, err
			}
			sc := res[0]
			if len(sc.Quotes) == 0 {
				return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: "screener", Description: "empty screen " + id}
			}
			out := Screen{ID: id, Title: sc.Title, Description: sc.Description, Total: sc.Total}
			out.Quotes = make([]Quote, 0, len(sc.Quotes))
			for _, q := range sc.Quotes {
				out.Quotes = append(out.Quotes, q.toQuote())
			}
			return out, nil
		},
	})
}
