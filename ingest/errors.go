package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrTransferFailed is returned when a transfer fails at the transport
	// level or ends with a status outside [200, 400).
	ErrTransferFailed = errors.New("transfer failed")

	// ErrTimeout is returned when a transfer exceeds its deadline.
	ErrTimeout = errors.New("transfer timed out")
)

// StatusError reports a transfer rejected because of its HTTP status.
// It matches ErrTransferFailed with errors.Is.
type StatusError struct {
	URI        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URI, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrTransferFailed
}
