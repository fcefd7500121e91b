package blobs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConsistency is returned when a strongly consistent read is requested
	// but no uncached edge URL has been configured.
	ErrConsistency = errors.New("blobs: strong consistency requires an uncachedEdgeURL in the environment")
	// ErrMetadataTooLarge is returned when encoded metadata exceeds the header budget.
	ErrMetadataTooLarge = errors.New("blobs: metadata object exceeds the maximum size")
)

// ConfigurationError reports required settings missing from both the
// explicit configuration and the environment context.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("blobs: the environment has not been configured to use blobs; to use it manually, supply the following properties: %s",
		strings.Join(e.Missing, ", "))
}

// ValidationError reports a malformed key, store name, deploy ID or option.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("blobs: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TransportError is returned when no HTTP exchange could be completed within
// the retry budget.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("blobs: request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InternalError is returned for any response status the operation does not
// expect.
type InternalError struct {
	StatusCode int
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("blobs: the service has generated an internal error: %d response", e.StatusCode)
}

// DecodeError is returned when a metadata header cannot be parsed, which
// usually means the client speaks an older protocol than the service.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "blobs: an internal error occurred while trying to retrieve the metadata for an entry; please try updating to the latest version of the blobs client"
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

