package driver

import (
	"sync/atomic"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

// destinationTarget is a publication or subscription that accepts destinations.
type destinationTarget interface {
	channelOf() Channel
	isClosed() bool
	destinationSet() map[string]struct{}
}

// publication is a live handle onto a shared or exclusive log.
type publication struct {
	c              *conductor
	registrationID int64
	channel        Channel
	log            *logBuffer
	exclusive      bool
	closed         atomic.Bool

	// guarded by Driver.mu
	released     bool
	destinations map[string]struct{}
}

var (
	_ transport.Publication          = (*publication)(nil)
	_ transport.ExclusivePublication = (*publication)(nil)
)

func (p *publication) RegistrationID() int64 { return p.registrationID }
func (p *publication) Channel() string        { return p.channel.Raw }
func (p *publication) StreamID() int32        { return p.log.streamID }
func (p *publication) SessionID() int32       { return p.log.sessionID }
func (p *publication) InitialTermID() int32   { return p.log.initialTermID }

func (p *publication) Offer(buffer []byte, supplier transport.Callback[transport.ReservedValueFunc]) (int64, error) {
	if p.closed.Load() {
		return transport.PublicationClosed, nil
	}
	return p.log.offer([][]byte{buffer}, supplier)
}

func (p *publication) OfferParts(parts [][]byte, supplier transport.Callback[transport.ReservedValueFunc]) (int64, error) {
	if p.closed.Load() {
		return transport.PublicationClosed, nil
	}
	return p.log.offer(parts, supplier)
}

func (p *publication) TryClaim(length int, claim *transport.Claim) (int64, error) {
	if p.closed.Load() {
		return transport.PublicationClosed, nil
	}
	position, err := p.log.claim(length, claim)
	if position > 0 {
		claim.Abandon = p.abandonClaim
	}
	return position, err
}

// abandonClaim pads out a dropped claim while the log is still referenced.
// A released log may already be unmapped, so it is left alone.
func (p *publication) abandonClaim(c *transport.Claim) {
	d := p.c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.log.refs > 0 {
		_ = transport.AbortClaim(c)
	}
}

func (p *publication) IsConnected() bool {
	return !p.closed.Load() && p.log.connected.Load()
}

func (p *publication) IsClosed() bool { return p.closed.Load() }

func (p *publication) ChannelStatus() int64 {
	if p.closed.Load() {
		return transport.ChannelStatusErrored
	}
	return transport.ChannelStatusActive
}

func (p *publication) Position() int64 {
	if p.closed.Load() {
		return transport.PublicationClosed
	}
	return p.log.tail.Load()
}

func (p *publication) PositionLimit() int64 {
	if p.closed.Load() {
		return transport.PublicationClosed
	}
	return p.log.limit.Load()
}

func (p *publication) MaxPayloadLength() int { return p.log.maxPayloadLength() }
func (p *publication) MaxMessageLength() int { return p.log.maxMessageLength() }
func (p *publication) TermBufferLength() int { return p.log.termLength }

func (p *publication) TermID() int32 {
	_, _, termID := p.log.locate(p.log.tail.Load())
	return termID
}

func (p *publication) TermOffset() int32 {
	_, termOffset, _ := p.log.locate(p.log.tail.Load())
	return int32(termOffset)
}

func (p *publication) AsyncAddDestination(channel string) (transport.PendingDestination, error) {
	return p.c.asyncDestination(p, channel, cmdAddDestination)
}

func (p *publication) AsyncRemoveDestination(channel string) (transport.PendingDestination, error) {
	return p.c.asyncDestination(p, channel, cmdRemoveDestination)
}

// Close releases the publication. The log reaches end of stream when its last
// publication closes.
func (p *publication) Close() error {
	d := p.c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closePublicationLocked(p, true)
	return nil
}

func (p *publication) channelOf() Channel { return p.channel }
func (p *publication) isClosed() bool     { return p.closed.Load() }

func (p *publication) destinationSet() map[string]struct{} {
	if p.destinations == nil {
		p.destinations = make(map[string]struct{})
	}
	return p.destinations
}
