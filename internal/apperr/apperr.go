// Package apperr holds the error kinds shared by the upstream clients and the
// HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// UpstreamError is a non-2xx or malformed response from the workflow server or
// the model provider.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Service, e.StatusCode, e.Message)
}

// NotFound reports whether the upstream answered 404.
func (e *UpstreamError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// ConfigurationError means a required credential or setting is missing.
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Key)
}

// IsUpstream unwraps err into an UpstreamError.
func IsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsConfiguration unwraps err into a ConfigurationError.
func IsConfiguration(err error) (*ConfigurationError, bool) {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
