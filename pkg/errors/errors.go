// Package errors holds the sentinel errors that client and driver errors wrap,
// so callers can test for a category with errors.Is regardless of which
// resource failed.
package errors

import stderrors "errors"

var (
	// ErrNotFound reports a registration or resource the driver does not know.
	ErrNotFound = stderrors.New("not found")

	// ErrClosed reports use of a client, context or handle after close.
	ErrClosed = stderrors.New("closed")

	// ErrInvalidInput reports an argument rejected before reaching the driver.
	ErrInvalidInput = stderrors.New("invalid input")

	// ErrNotReady reports an async registration that has not completed.
	ErrNotReady = stderrors.New("not ready")

	// ErrAlreadyReleased reports a second release of a claim or image.
	ErrAlreadyReleased = stderrors.New("already released")

	// ErrInUse reports a context that cannot change once a client owns it.
	ErrInUse = stderrors.New("in use")
)
