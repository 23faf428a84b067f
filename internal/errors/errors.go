// Package errors declares the sentinel error taxonomy shared by every
// camlsync layer. Callers wrap these with fmt.Errorf("...: %w", ErrX)
// so errors.Is still matches at the CLI's top-level handler.
package errors

import "errors"

// Filesystem / reconciliation errors.
var (
	ErrNotInitialized = errors.New("not initialized")
	ErrFileExisted    = errors.New("file already exists")
	ErrFileNotFound   = errors.New("file not found")
	ErrMalformedDiff  = errors.New("malformed diff")
)

// Transport / protocol errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
	ErrServerError  = errors.New("server error")
	ErrTimeout      = errors.New("request timed out")
)

// CLI errors.
var (
	ErrInvalidArgument = errors.New("invalid argument")
)
