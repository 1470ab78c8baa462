package client

import (
	"fmt"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

// publisher holds what shared and exclusive publications have in common.
// P is an interface type; comparable lets the registration test it for nil.
type publisher[P interface {
	transport.Publication
	comparable
}] struct {
	*registration[P]
	client   *Client
	channel  string
	streamID int32
}

// RegistrationID identifies the publication from registration through close.
func (p *publisher[P]) RegistrationID() int64 { return p.id }
func (p *publisher[P]) Channel() string       { return p.channel }
func (p *publisher[P]) StreamID() int32       { return p.streamID }

// SessionID is the publisher session, or 0 before the publication is ready.
func (p *publisher[P]) SessionID() int32 {
	h, err := p.live()
	if err != nil {
		return 0
	}
	return h.SessionID()
}

func (p *publisher[P]) InitialTermID() int32 {
	h, err := p.live()
	if err != nil {
		return 0
	}
	return h.InitialTermID()
}

// Offer appends buffer to the stream and returns the new stream position.
func (p *publisher[P]) Offer(buffer []byte) (int64, error) {
	return p.offer([][]byte{buffer}, nil)
}

// OfferWithSupplier is Offer with a reserved value computed per frame.
func (p *publisher[P]) OfferWithSupplier(buffer []byte, supplier ReservedValueSupplier) (int64, error) {
	return p.offer([][]byte{buffer}, supplier)
}

// OfferParts appends the concatenation of parts as one message.
func (p *publisher[P]) OfferParts(parts ...[]byte) (int64, error) {
	return p.offer(parts, nil)
}

func (p *publisher[P]) offer(parts [][]byte, supplier ReservedValueSupplier) (int64, error) {
	h, err := p.live()
	if err != nil {
		return 0, err
	}

	var cb transport.Callback[transport.ReservedValueFunc]
	if supplier != nil {
		var b binding
		cb, b = bindReservedValue(supplier)
		defer b.release()
	}

	length := 0
	for _, part := range parts {
		length += len(part)
	}
	var result int64
	if len(parts) == 1 {
		result, err = h.Offer(parts[0], cb)
	} else {
		result, err = h.OfferParts(parts, cb)
	}
	err = resultError(result, err)
	p.client.metrics.offer(err, length)
	if err != nil {
		return 0, err
	}
	return result, nil
}

// TryClaim reserves length bytes in the log. The returned claim must be
// committed or aborted; defer its Discard to abort it on any other path.
func (p *publisher[P]) TryClaim(length int) (*BufferClaim, error) {
	h, err := p.live()
	if err != nil {
		return nil, err
	}
	if length < 0 || length > h.MaxPayloadLength() {
		return nil, &PublicationError{
			Code: CodeGeneric,
			Err:  fmt.Errorf("%w: %d exceeds max payload length %d", ErrClaimTooLarge, length, h.MaxPayloadLength()),
		}
	}

	bc := newBufferClaim(p.client.log, p.client.metrics)
	result, err := h.TryClaim(length, &bc.claim)
	err = resultError(result, err)
	p.client.metrics.offer(err, length)
	if err != nil {
		return nil, err
	}
	bc.position = result
	bc.track()
	return bc, nil
}

// Claim reserves length bytes and hands them to fn. The claim is committed
// if fn returns nil and aborted if fn returns an error or panics.
func (p *publisher[P]) Claim(length int, fn func(buffer []byte) error) (int64, error) {
	bc, err := p.TryClaim(length)
	if err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			bc.Discard()
			panic(r)
		}
	}()
	if err := fn(bc.Bytes()); err != nil {
		bc.Discard()
		return 0, err
	}
	if err := bc.Commit(); err != nil {
		return 0, err
	}
	return bc.Position(), nil
}

func (p *publisher[P]) IsConnected() bool {
	h, err := p.live()
	return err == nil && h.IsConnected()
}

func (p *publisher[P]) IsClosed() bool {
	switch p.state {
	case StatePending:
		return false
	case StateReady:
		return p.handle.IsClosed()
	}
	return true
}

func (p *publisher[P]) ChannelStatus() int64 {
	switch p.state {
	case StatePending:
		return transport.ChannelStatusInitializing
	case StateReady:
		return p.handle.ChannelStatus()
	}
	return transport.ChannelStatusErrored
}

// Position is the position of the next frame to be appended.
func (p *publisher[P]) Position() (int64, error) {
	h, err := p.live()
	if err != nil {
		return 0, err
	}
	position := h.Position()
	if err := resultError(position, nil); err != nil {
		return 0, err
	}
	return position, nil
}

// PositionLimit is the position at which offers start reporting back pressure.
func (p *publisher[P]) PositionLimit() (int64, error) {
	h, err := p.live()
	if err != nil {
		return 0, err
	}
	limit := h.PositionLimit()
	if err := resultError(limit, nil); err != nil {
		return 0, err
	}
	return limit, nil
}

func (p *publisher[P]) MaxPayloadLength() int {
	h, err := p.live()
	if err != nil {
		return 0
	}
	return h.MaxPayloadLength()
}

func (p *publisher[P]) MaxMessageLength() int {
	h, err := p.live()
	if err != nil {
		return 0
	}
	return h.MaxMessageLength()
}

func (p *publisher[P]) TermBufferLength() int {
	h, err := p.live()
	if err != nil {
		return 0
	}
	return h.TermBufferLength()
}

// AsyncAddDestination adds a destination to a manual control mode channel.
// The returned Destination resolves through PollReady after DoWork.
func (p *publisher[P]) AsyncAddDestination(channel string) (*Destination, error) {
	h, err := p.live()
	if err != nil {
		return nil, err
	}
	t, err := h.AsyncAddDestination(channel)
	if err != nil {
		return nil, fmt.Errorf("add destination %s: %w", channel, err)
	}
	return newDestination(t, channel), nil
}

// AsyncRemoveDestination removes a destination added earlier.
func (p *publisher[P]) AsyncRemoveDestination(channel string) (*Destination, error) {
	h, err := p.live()
	if err != nil {
		return nil, err
	}
	t, err := h.AsyncRemoveDestination(channel)
	if err != nil {
		return nil, fmt.Errorf("remove destination %s: %w", channel, err)
	}
	return newDestination(t, channel), nil
}

func (p *publisher[P]) closeHandle() error {
	if p.state != StateReady {
		p.state = StateClosed
		return nil
	}
	p.state = StateClosed
	return p.handle.Close()
}

// Publication is a shared publication. Every shared publication on the same
// channel and stream in a process appends to one session.
type Publication struct {
	publisher[transport.Publication]
}

// Close closes the publication and removes it from its client. It is idempotent.
func (p *Publication) Close() error {
	return closeIn(p.client, p.client.publications, p.id)
}

func (p *Publication) String() string {
	return fmt.Sprintf("Publication{id=%d channel=%s stream=%d state=%s}", p.id, p.channel, p.streamID, p.state)
}
