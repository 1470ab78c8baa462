package client

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a registration.
type State int

const (
	StatePending State = iota
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Kind is the resource type behind a registration.
type Kind int

const (
	KindPublication Kind = iota
	KindExclusivePublication
	KindSubscription
	KindDestination
)

func (k Kind) String() string {
	switch k {
	case KindPublication:
		return "publication"
	case KindExclusivePublication:
		return "exclusive_publication"
	case KindSubscription:
		return "subscription"
	case KindDestination:
		return "destination"
	}
	return "unknown"
}

type token[H any] interface {
	RegistrationID() int64
	Poll() (H, error)
}

// regBase is the part of a registration that does not depend on the handle type.
type regBase struct {
	id      int64
	kind    Kind
	state   State
	err     error
	started time.Time
	span    trace.Span
}

func (r *regBase) base() *regBase { return r }

// registration drives a pending token to a live handle. The token is polled
// at most once per call while pending and never again after it resolves.
type registration[H comparable] struct {
	regBase
	token  token[H]
	handle H
}

func newRegistration[H comparable](kind Kind, t token[H], span trace.Span) *registration[H] {
	return &registration[H]{
		regBase: regBase{id: t.RegistrationID(), kind: kind, started: time.Now(), span: span},
		token:   t,
	}
}

func (r *registration[H]) pollReady() (State, error) {
	switch r.state {
	case StatePending:
	case StateFailed:
		return r.state, r.err
	default:
		return r.state, nil
	}

	h, err := r.token.Poll()
	if err != nil {
		r.state = StateFailed
		r.err = &RegistrationError{ID: r.id, Kind: r.kind, Err: err}
		r.token = nil
		return r.state, r.err
	}
	var zero H
	if h == zero {
		return StatePending, nil
	}
	r.handle = h
	r.state = StateReady
	r.token = nil
	return StateReady, nil
}

// live returns the handle, or the error a data-plane call should report.
func (r *registration[H]) live() (H, error) {
	var zero H
	switch r.state {
	case StateReady:
		return r.handle, nil
	case StateClosed:
		return zero, ErrPublicationClosed
	case StateFailed:
		return zero, r.err
	}
	return zero, ErrNotReady
}

// registered is implemented by every resource wrapper kept in a Client registry.
type registered interface {
	base() *regBase
	pollReady() (State, error)
	// closeHandle closes the native handle of a ready resource and marks the
	// registration closed. Pending registrations are abandoned.
	closeHandle() error
}
