package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound is returned when a uid has no local record.
	ErrRecordNotFound = errors.New("dataset: record not found")

	// ErrSyncInProgress is returned by Sync while a round is already running.
	ErrSyncInProgress = errors.New("dataset: sync already in progress")

	// ErrSyncPaused is returned by Sync while the dataset is paused.
	ErrSyncPaused = errors.New("dataset: sync paused")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("dataset: closed")
)

// ResponseError reports a cloud response that does not have the expected
// shape. A round that receives one applies nothing from it.
type ResponseError struct {
	Fn      string // "sync" or "syncRecords"
	Field   string // JSON path of the offending member
	Message string
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %s: %s", e.Fn, e.Field, e.Message)
}

// IsResponseError returns true if err is or wraps a ResponseError.
func IsResponseError(err error) bool {
	var re *ResponseError
	return errors.As(err, &re)
}
