package mediacache

import (
	"github.com/meigma/mediacache/cache/disk"
	"github.com/meigma/mediacache/ingest"
)

// Errors re-exported from the cache store and ingest service. They are
// returned only by [Client.Ensure]; the best-effort operations never fail.
var (
	// ErrDirectoryUnavailable is returned when the cache directory cannot be created or opened.
	ErrDirectoryUnavailable = disk.ErrUnavailable

	// ErrTransferFailed is returned when a download fails or ends with a status outside [200, 400).
	ErrTransferFailed = ingest.ErrTransferFailed

	// ErrTimeout is returned when a download exceeds its deadline.
	ErrTimeout = ingest.ErrTimeout
)

// StatusError reports a download rejected because of its HTTP status.
type StatusError = ingest.StatusError
