package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	// Errors in this family are user-correctable and never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrFolderExists indicates the folder is already configured.
	ErrFolderExists = errors.New("folder already configured")

	// ErrFolderNotConfigured indicates an operation on an unknown folder.
	ErrFolderNotConfigured = errors.New("folder not configured")

	// ErrDimensionMismatch indicates a vector or store whose dimension
	// does not match the configured model. Fatal: never retried, requires
	// an explicit rebuild of the folder's storage.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrModelNotReady indicates a worker's model has not finished
	// loading. Transient: retried with exponential backoff.
	ErrModelNotReady = errors.New("model not ready")

	// ErrWorkerFailed indicates a worker crashed while serving a request.
	// Transient: only the in-flight request fails; the worker is respawned.
	ErrWorkerFailed = errors.New("embedding worker failed")

	// ErrUnknownModel indicates a model id the daemon cannot serve.
	ErrUnknownModel = errors.New("unknown embedding model")

	// ErrPoolClosed indicates the worker pool has been shut down.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrFolderRemoved indicates work was cancelled because its folder
	// was removed mid-flight. Results are discarded, never committed.
	ErrFolderRemoved = errors.New("folder removed")

	// ErrBadContinuation indicates a continuation token that is malformed
	// or was issued for a different query.
	ErrBadContinuation = errors.New("invalid continuation token")

	// ErrUnsupportedFile indicates the parser cannot handle a file type.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// ParseError is a typed per-file parser failure. It is a PartialFailure:
// the file is marked errored and folder indexing continues.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "parse " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
