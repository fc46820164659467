package provider_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"marketdata/internal/provider"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	apiErr := provider.NewAPIError(provider.Yahoo, 401, []byte("Invalid Crumb"))

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid input", &provider.InvalidInputError{Field: "symbol", Reason: "empty"}, provider.CodeInvalidInput},
		{"api", apiErr, provider.CodeAPI},
		{"wrapped api", fmt.Errorf("quote AAPL: %w", apiErr), provider.CodeAPI},
		{"auth wraps api", &provider.AuthenticationError{Provider: provider.Yahoo, Step: "retry", Err: apiErr}, provider.CodeAuthentication},
		{"parsing", &provider.DataParsingError{Provider: provider.FRED, Resource: "series", Err: errors.New("eof")}, provider.CodeDataParsing},
		{"not found", &provider.DataNotFoundError{Provider: provider.Yahoo, Resource: "chart"}, provider.CodeDataNotFound},
		{"config", &provider.ConfigError{Provider: provider.FRED, Reason: "missing api key"}, provider.CodeConfiguration},
		{"plain", context.Canceled, provider.CodeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, provider.CodeOf(tc.err))
		})
	}
}

func TestAuthenticationErrorUnwrapsToAPIError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("history: %w", &provider.AuthenticationError{
		Provider: provider.Yahoo,
		Step:     "retry",
		Err:      provider.NewAPIError(provider.Yahoo, 401, nil),
	})

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 401, apiErr.Status)
}

func TestNewAPIError_TruncatesBody(t *testing.T) {
	t.Parallel()

	body := []byte(strings.Repeat("x", 10_000))
	err := provider.NewAPIError(provider.Yahoo, 500, body)
	require.Len(t, err.Body, 2<<10)
	require.Contains(t, err.Error(), "YAHOO responded 500")
}
