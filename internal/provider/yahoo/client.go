package yahoo

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

const baseURL = "https://query2.finance.yahoo.com"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=yahoo_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client builds outbound Yahoo requests. Sessions are applied by the
// pipeline-provided *auth.Session; the client itself holds no auth state.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
	// batchLimit bounds concurrent executions of multi-symbol calls.
	batchLimit int
	log        *zap.Logger
}

// ClientOption is a configuration option for the Yahoo client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithQuery sets additional query parameters to be sent with each request.
func WithQuery(query url.Values) ClientOption {
	return func(c *Client) {
		for key, values := range query {
			for _, value := range values {
				c.query.Add(key, value)
			}
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.header.Set("User-Agent", ua)
		}
	}
}

// WithBatchLimit bounds concurrent executions of multi-symbol calls.
func WithBatchLimit(n int) ClientOption {
	return func(c *Client) {
		c.batchLimit = n
	}
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a new Yahoo client.
func NewClient(options ...ClientOption) *Client {
	var client = &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{"Accept": []string{"application/json"}},
		query:      url.Values{},
		batchLimit: pipeline.DefaultBatchLimit,
		log:        zap.NewNop(),
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// call returns a pipeline call for GET path?query.
func (c *Client) call(path string, query url.Values) pipeline.CallFunc {
	return func(ctx context.Context, s *auth.Session) (*http.Response, error) {
		q := maps.Clone(c.query)
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u := fmt.Sprintf("%s%s", c.baseURL, path)
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header = c.header.Clone()
		s.Apply(req)
		return c.httpClient.Do(req)
	}
}
