package fred

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"marketdata/internal/provider/auth"
	"marketdata/internal/provider/pipeline"
)

const baseURL = "https://api.stlouisfed.org"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=fred_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FredAPIClient is a client for the FRED API.
type FredAPIClient struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
	// keyed reports whether an API key was supplied.
	keyed      bool
	batchLimit int
	log        *zap.Logger
}

// FredAPIClientOption is a configuration option for the FRED API client.
type FredAPIClientOption func(*FredAPIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) FredAPIClientOption {
	return func(c *FredAPIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) FredAPIClientOption {
	return func(c *FredAPIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) FredAPIClientOption {
	return func(c *FredAPIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithBatchLimit bounds concurrent executions of multi-series calls.
func WithBatchLimit(n int) FredAPIClientOption {
	return func(c *FredAPIClient) {
		c.batchLimit = n
	}
}

func WithLogger(l *zap.Logger) FredAPIClientOption {
	return func(c *FredAPIClient) {
		c.log = l
	}
}

// NewFredAPIClient creates a new FRED API client. An empty key yields a
// client whose services answer with a configuration error.
func NewFredAPIClient(key string, options ...FredAPIClientOption) *FredAPIClient {
	var fredAPIClient = &FredAPIClient{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{"file_type": {"json"}},
		batchLimit: pipeline.DefaultBatchLimit,
		log:        zap.NewNop(),
	}
	if key != "" {
		// https://fred.stlouisfed.org/docs/api/api_key.html
		fredAPIClient.query.Add("api_key", key)
		fredAPIClient.keyed = true
	}
	for _, option := range options {
		option(fredAPIClient)
	}
	return fredAPIClient
}

// Configured reports whether the client can reach the API at all.
func (c *FredAPIClient) Configured() bool { return c.keyed }

func (c *FredAPIClient) call(path string, query url.Values) pipeline.CallFunc {
	return func(ctx context.Context, _ *auth.Session) (*http.Response, error) {
		q := maps.Clone(c.query)
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u := fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header = c.header.Clone()
		return c.httpClient.Do(req)
	}
}
