package client

import "github.com/gezibash/arc-conduit/pkg/transport"

// Destination is an in-flight add or remove of a destination on a manual
// control mode channel. Once PollReady reports true it keeps doing so without
// consulting the transport again.
type Destination struct {
	token   transport.PendingDestination
	channel string
	ready   bool
	err     error
}

func newDestination(t transport.PendingDestination, channel string) *Destination {
	return &Destination{token: t, channel: channel}
}

func (d *Destination) RegistrationID() int64 { return d.token.RegistrationID() }

func (d *Destination) Channel() string { return d.channel }

// PollReady reports whether the transport has applied the change. Call
// Client.DoWork between polls.
func (d *Destination) PollReady() (bool, error) {
	if d.ready {
		return true, nil
	}
	if d.err != nil {
		return false, d.err
	}
	ok, err := d.token.Poll()
	if err != nil {
		d.err = &RegistrationError{ID: d.token.RegistrationID(), Kind: KindDestination, Err: err}
		return false, d.err
	}
	d.ready = ok
	return ok, nil
}
