package client

import (
	"errors"
	"fmt"

	conduiterrors "github.com/gezibash/arc-conduit/pkg/errors"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

var (
	ErrClientClosed  = fmt.Errorf("client %w", conduiterrors.ErrClosed)
	ErrContextClosed = fmt.Errorf("context %w", conduiterrors.ErrClosed)
	ErrContextInUse  = fmt.Errorf("context %w", conduiterrors.ErrInUse)
	ErrNotFound      = fmt.Errorf("registration %w", conduiterrors.ErrNotFound)
	ErrNotReady      = fmt.Errorf("registration %w", conduiterrors.ErrNotReady)
	ErrClaimReleased = fmt.Errorf("claim %w", conduiterrors.ErrAlreadyReleased)
	ErrImageReleased = fmt.Errorf("image %w", conduiterrors.ErrAlreadyReleased)
	ErrClaimTooLarge = fmt.Errorf("claim length %w", conduiterrors.ErrInvalidInput)
	ErrNilHandler    = fmt.Errorf("handler %w", conduiterrors.ErrInvalidInput)
	ErrNoConnector   = fmt.Errorf("connector %w", conduiterrors.ErrNotFound)
)

// Code classifies the outcome of a data-plane call.
type Code int

const (
	CodeGeneric Code = iota
	CodeNotConnected
	CodeBackPressured
	CodeAdminAction
	CodeClosed
	CodeMaxPositionExceeded
)

func (c Code) String() string {
	switch c {
	case CodeNotConnected:
		return "not connected"
	case CodeBackPressured:
		return "back pressured"
	case CodeAdminAction:
		return "admin action"
	case CodeClosed:
		return "publication closed"
	case CodeMaxPositionExceeded:
		return "max position exceeded"
	default:
		return "generic"
	}
}

// Retryable reports whether the same call may succeed if repeated later.
func (c Code) Retryable() bool {
	switch c {
	case CodeNotConnected, CodeBackPressured, CodeAdminAction:
		return true
	}
	return false
}

// PublicationError is the failure of an offer, claim or poll. errors.Is
// matches any two PublicationErrors with the same Code.
type PublicationError struct {
	Code    Code
	Message string
	Err     error
}

// Sentinel data-plane outcomes.
var (
	ErrNotConnected        = &PublicationError{Code: CodeNotConnected}
	ErrBackPressured       = &PublicationError{Code: CodeBackPressured}
	ErrAdminAction         = &PublicationError{Code: CodeAdminAction}
	ErrPublicationClosed   = &PublicationError{Code: CodeClosed}
	ErrMaxPositionExceeded = &PublicationError{Code: CodeMaxPositionExceeded}
)

func (e *PublicationError) Error() string {
	switch {
	case e.Message != "":
		return e.Code.String() + ": " + e.Message
	case e.Err != nil:
		return e.Code.String() + ": " + e.Err.Error()
	}
	return e.Code.String()
}

func (e *PublicationError) Unwrap() error { return e.Err }

func (e *PublicationError) Is(target error) bool {
	t, ok := target.(*PublicationError)
	return ok && t.Code == e.Code
}

// Retryable reports whether the outcome is transient.
func (e *PublicationError) Retryable() bool { return e.Code.Retryable() }

// Retryable reports whether err is a transient data-plane outcome.
func Retryable(err error) bool {
	var pe *PublicationError
	return errors.As(err, &pe) && pe.Retryable()
}

// resultError maps a transport result code to its error. Non-negative
// results are positions and map to nil.
func resultError(result int64, err error) error {
	if result >= 0 {
		return nil
	}
	switch result {
	case transport.NotConnected:
		return ErrNotConnected
	case transport.BackPressured:
		return ErrBackPressured
	case transport.AdminAction:
		return ErrAdminAction
	case transport.PublicationClosed:
		return ErrPublicationClosed
	case transport.MaxPositionExceeded:
		return ErrMaxPositionExceeded
	}
	if err == nil {
		err = fmt.Errorf("unknown result %d", result)
	}
	return &PublicationError{Code: CodeGeneric, Err: err}
}

// RegistrationError reports a registration the transport refused. Err is
// usually a *transport.Error.
type RegistrationError struct {
	ID   int64
	Kind Kind
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s registration %d: %v", e.Kind, e.ID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
