// Package syncerrors defines the error taxonomy shared by the store,
// remote, and sync layers.
package syncerrors

import "errors"

// Authentication errors. A missing or expired token is terminal for the
// current sync attempt; it is not retried until the next trigger.
var (
	ErrNoToken = errors.New("no access token available")
)

// Remote store errors.
var (
	// ErrNotFound maps 404/410 from the remote store. The delta layer
	// reclassifies it as a delete rather than a failure.
	ErrNotFound = errors.New("remote object not found")

	// ErrPreconditionFailed maps a 412 from a conditional metadata
	// upload: the remote copy changed since the etag was read.
	ErrPreconditionFailed = errors.New("remote metadata changed since read")
)

// Crypto errors. Decrypt failures are hard failures: callers must never
// substitute defaults for a payload that fails authentication, because
// that would mask corruption as missing data.
var (
	ErrDecrypt                = errors.New("decryption failed")
	ErrUnknownEnvelopeVersion = errors.New("unknown envelope version")
)

// TransientError wraps an error that is likely temporary and safe to
// retry on a later cycle: timeouts, connection resets, 429s, 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
