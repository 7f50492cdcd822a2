package provider

import (
	"errors"
	"fmt"
)

// ErrUnsupportedModel is returned for model identifiers that match no routing
// prefix. No network call is made in that case.
var ErrUnsupportedModel = errors.New("unsupported model")

// AuthError means the backend could not be called because its API key is not
// configured. It is raised before dispatch, never from an upstream response.
type AuthError struct {
	Backend string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s api key is not configured", e.Backend)
}

// UpstreamError is any non-success HTTP response from an LLM backend. Detail
// carries the upstream-provided message when one could be parsed.
type UpstreamError struct {
	Backend string
	Status  int
	Detail  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Backend, e.Status, e.Detail)
}

// NetworkError means no response reached us at all.
type NetworkError struct {
	Backend string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request %s: %v", e.Backend, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
