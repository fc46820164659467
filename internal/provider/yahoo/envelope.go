package yahoo

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/provider/pipeline"
)

// envelopeError is the error object of every Yahoo envelope.
type envelopeError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// envelope is the {"result": [...], "error": {...}} shape Yahoo wraps responses in,
// keyed by a per-endpoint name such as "quoteResponse" or "chart".
type envelope[T any] struct {
	Result []T            `json:"result"`
	Error  *envelopeError `json:"error"`
}

// unwrap decodes body[name] and returns its results. A populated error or an
// empty/null result is DataNotFound.
func unwrap[T any](resource, name string, body []byte) ([]T, error) {
	var outer map[string]json.RawMessage
	if err := pipeline.DecodeJSON(provider.Yahoo, resource, body, &outer); err != nil {
		return nil, err
	}
	raw, ok := outer[name]
	if !ok {
		return nil, &provider.DataParsingError{Provider: provider.Yahoo, Resource: resource, Err: fmt.Errorf("missing %q envelope", name)}
	}
	var env envelope[T]
	if err := pipeline.DecodeJSON(provider.Yahoo, resource, raw, &env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, &provider.DataNotFoundError{
			Provider:    provider.Yahoo,
			Resource:    resource,
			UpstreamErr: env.Error.Code,
			Description: env.Error.Description,
		}
	}
	if len(env.Result) == 0 {
		return nil, &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: resource}
	}
	return env.Result, nil
}

// notFound reports whether err means the upstream has no data for the request.
func notFound(err error) bool {
	var nf *provider.DataNotFoundError
	return errors.As(err, &nf)
}

// rawValue is the {"raw": 1.5, "fmt": "1.50"} number format of quoteSummary.
type rawValue struct {
	Raw float64 `json:"raw"`
	Fmt string  `json:"fmt"`
}

func (v *rawValue) value() float64 {
	if v == nil {
		return 0
	}
	return v.Raw
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
