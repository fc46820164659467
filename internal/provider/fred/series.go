package fred

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/validate"
)

// Series is the metadata of one FRED series.
type Series struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Frequency          string    `json:"frequency,omitempty"`
	Units              string    `json:"units,omitempty"`
	SeasonalAdjustment string    `json:"seasonal_adjustment,omitempty"`
	ObservationStart   time.Time `json:"observation_start"`
	ObservationEnd     time.Time `json:"observation_end"`
	LastUpdated        string    `json:"last_updated,omitempty"`
	Notes              string    `json:"notes,omitempty"`
}

// Observation is one dated value. Value is nil where FRED reports "." (missing).
type Observation struct {
	Date  time.Time `json:"date"`
	Value *float64  `json:"value"`
}

type apiSeries struct {
	Seriess []struct {
		ID                 string `json:"id"`
		Title              string `json:"title"`
		Frequency          string `json:"frequency"`
		Units              string `json:"units"`
		SeasonalAdjustment string `json:"seasonal_adjustment"`
		ObservationStart   string `json:"observation_start"`
		ObservationEnd     string `json:"observation_end"`
		LastUpdated        string `json:"last_updated"`
		Notes              string `json:"notes"`
	} `json:"seriess"`
}

type apiObservations struct {
	Count        int `json:"count"`
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// MacroService serves macroeconomic series from FRED.
type MacroService struct {
	p pipeline.Pipeline
	c *FredAPIClient
}

func NewMacroService(p pipeline.Pipeline, c *FredAPIClient) *MacroService {
	return &MacroService{p: p, c: c}
}

func (s *MacroService) configured() error {
	if !s.c.Configured() {
		return &provider.ConfigError{Provider: provider.FRED, Reason: "no API key (set FRED_API_KEY)"}
	}
	return nil
}

func (s *MacroService) Series(ctx context.Context, seriesID string) (Series, error) {
	if err := s.configured(); err != nil {
		return Series{}, err
	}
	id, err := validate.SeriesID(seriesID)
	if err != nil {
		return Series{}, err
	}
	return pipeline.Execute[Series](ctx, s.p, pipeline.Request{
		Provider: provider.FRED,
		Resource: "series",
		CacheKey: "fred:series:" + id,
		TTL:      provider.TTLMacroSeries,
		Call:     s.c.call("/fred/series", url.Values{"series_id": {id}}),
		Parse: func(body []byte) (any, error) {
			var res apiSeries
			if err := pipeline.DecodeJSON(provider.FRED, "series", body, &res); err != nil {
				return nil, err
			}
			if len(res.Seriess) == 0 {
				return nil, &provider.DataNotFoundError{Provider: provider.FRED, Resource: "series", Description: id}
			}
			r := res.Seriess[0]
			start, err := parseDate(r.ObservationStart)
			if err != nil {
				return nil, err
			}
			end, err := parseDate(r.ObservationEnd)
			if err != nil {
				return nil, err
			}
			return Series{
				ID:                 r.ID,
				Title:              r.Title,
				Frequency:          r.Frequency,
				Units:              r.Units,
				SeasonalAdjustment: r.SeasonalAdjustment,
				ObservationStart:   start,
				ObservationEnd:     end,
				LastUpdated:        r.LastUpdated,
				Notes:              strings.TrimSpace(r.Notes),
			}, nil
		},
	})
}

// Observations returns the values of seriesID between start and end
// (zero values are open ends), oldest first.
func (s *MacroService) Observations(ctx context.Context, seriesID string, start, end time.Time) ([]Observation, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	id, err := validate.SeriesID(seriesID)
	if err != nil {
		return nil, err
	}
	if err := validate.Period(start, end); err != nil {
		return nil, err
	}
	return s.observations(ctx, id, start, end)
}

// ObservationsBatch fetches several series independently. Series that fail,
// malformed ids included, are left out; the call fails only when all of them fail.
func (s *MacroService) ObservationsBatch(ctx context.Context, seriesIDs []string, start, end time.Time) (map[string][]Observation, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	ids, err := validate.SeriesIDs(seriesIDs)
	if err != nil {
		return nil, err
	}
	if err := validate.Period(start, end); err != nil {
		return nil, err
	}
	return pipeline.Batch(ctx, s.c.log, s.c.batchLimit, ids, func(ctx context.Context, id string) ([]Observation, error) {
		if _, err := validate.SeriesID(id); err != nil {
			return nil, err
		}
		return s.observations(ctx, id, start, end)
	})
}

func (s *MacroService) observations(ctx context.Context, id string, start, end time.Time) ([]Observation, error) {
	query := url.Values{"series_id": {id}, "sort_order": {"asc"}}
	if !start.IsZero() {
		query.Set("observation_start", start.Format(time.DateOnly))
	}
	if !end.IsZero() {
		query.Set("observation_end", end.Format(time.DateOnly))
	}
	return pipeline.Execute[[]Observation](ctx, s.p, pipeline.Request{
		Provider: provider.FRED,
		Resource: "observations",
		CacheKey: fmt.Sprintf("fred:observations:%s:%s:%s", id, query.Get("observation_start"), query.Get("observation_end")),
		TTL:      provider.TTLMacroObserve,
		Call:     s.c.call("/fred/series/observations", query),
		Parse: func(body []byte) (any, error) {
			var res apiObservations
			if err := pipeline.DecodeJSON(provider.FRED, "observations", body, &res); err != nil {
				return nil, err
			}
			if len(res.Observations) == 0 {
				return nil, &provider.DataNotFoundError{Provider: provider.FRED, Resource: "observations", Description: id}
			}
			out := make([]Observation, 0, len(res.Observations))
			for _, o := range res.Observations {
				d, err := parseDate(o.Date)
				if err != nil {
					return nil, err
				}
				obs := Observation{Date: d}
				if v := strings.TrimSpace(o.Value); v != "" && v != "." {
					f, err := strconv.ParseFloat(v, 64)
					if err != nil {
						return nil, fmt.Errorf("value %q on %s: %w", o.Value, o.Date, err)
					}
					obs.Value = &f
				}
				out = append(out, obs)
			}
			return out, nil
		},
	})
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return t, nil
}
