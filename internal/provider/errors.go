package provider

import (
	"errors"
	"fmt"
)

// Stable machine-readable error codes.
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeAuthentication = "AUTHENTICATION_FAILED"
	CodeAPI            = "API_ERROR"
	CodeDataParsing    = "DATA_PARSING_ERROR"
	CodeDataNotFound   = "DATA_NOT_FOUND"
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeUnknown        = "UNKNOWN"
)

// maxBodyInError caps the upstream body carried by APIError.
const maxBodyInError = 2 << 10

// InvalidInputError is raised by a domain service before any cache or network activity.
type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidInputError) Code() string { return CodeInvalidInput }

// AuthenticationError reports a failed session/token acquisition, or an upstream
// that keeps rejecting the session after one refresh.
type AuthenticationError struct {
	Provider Key
	Step     string
	Err      error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s authentication failed at %s", e.Provider, e.Step)
	}
	return fmt.Sprintf("%s authentication failed at %s: %v", e.Provider, e.Step, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }
func (e *AuthenticationError) Code() string  { return CodeAuthentication }

// APIError is a non-2xx upstream response.
type APIError struct {
	Provider Key
	Status   int
	Body     string
}

// NewAPIError truncates body so large error pages never end up in logs verbatim.
func NewAPIError(p Key, status int, body []byte) *APIError {
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError]
	}
	return &APIError{Provider: p, Status: status, Body: string(body)}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Provider, e.Status, e.Body)
}

func (e *APIError) Code() string { return CodeAPI }

// DataParsingError is a malformed or unexpectedly shaped body.
type DataParsingError struct {
	Provider Key
	Resource string
	Err      error
}

func (e *DataParsingError) Error() string {
	return fmt.Sprintf("%s %s: decode: %v", e.Provider, e.Resource, e.Err)
}

func (e *DataParsingError) Unwrap() error { return e.Err }
func (e *DataParsingError) Code() string  { return CodeDataParsing }

// DataNotFoundError is a well-formed response that carries an error or no results.
type DataNotFoundError struct {
	Provider    Key
	Resource    string
	UpstreamErr string // upstream error code, empty when the result was simply empty
	Description string
}

func (e *DataNotFoundError) Error() string {
	if e.UpstreamErr != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Provider, e.Resource, e.UpstreamErr, e.Description)
	}
	if e.Description != "" {
		return fmt.Sprintf("%s %s: no data: %s", e.Provider, e.Resource, e.Description)
	}
	return fmt.Sprintf("%s %s: no data", e.Provider, e.Resource)
}

func (e *DataNotFoundError) Code() string { return CodeDataNotFound }

// ConfigError means the provider cannot be used with the current configuration.
type ConfigError struct {
	Provider Key
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s not configured: %s", e.Provider, e.Reason)
}

func (e *ConfigError) Code() string { return CodeConfiguration }

type coded interface {
	error
	Code() string
}

// CodeOf returns the code of the outermost typed error in err's chain.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeUnknown
}
