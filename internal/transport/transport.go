// Package transport carries sync requests to the cloud endpoint.
package transport

import (
	"context"
	"fmt"

	"github.com/roach88/datasync/internal/value"
)

// Client sends dataset requests to the cloud and reports connectivity.
type Client interface {
	// IsOnline reports whether the cloud is believed reachable.
	IsOnline() bool
	// Perform sends params for datasetID and returns the decoded response
	// object. Any transport failure, non-success status or undecodable body
	// is returned as an error.
	Perform(ctx context.Context, datasetID string, params value.Object) (value.Object, error)
}

// RequestError describes a failed cloud request.
type RequestError struct {
	DatasetID  string
	Fn         string
	StatusCode int // 0 when no response was received
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.DatasetID, e.Fn, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.DatasetID, e.Fn, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	return e.Err
}
