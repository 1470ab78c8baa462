package driver

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

var errNoFragmentHandler = errors.New("fragment handler is required")

// image is one subscription's read cursor over one log.
type image struct {
	log           *logBuffer
	sub           *subscription
	correlationID int64
	joinPosition  int64
	position      atomic.Int64
	closed        atomic.Bool

	// owner goroutine only
	outstanding int

	// guarded by Driver.mu
	detached bool
	released bool
}

var _ transport.Image = (*image)(nil)

func (i *image) SessionID() int32                  { return i.log.sessionID }
func (i *image) CorrelationID() int64              { return i.correlationID }
func (i *image) SubscriptionRegistrationID() int64 { return i.sub.registrationID }
func (i *image) SourceIdentity() string            { return i.log.channel.Canonical() }
func (i *image) InitialTermID() int32              { return i.log.initialTermID }
func (i *image) TermBufferLength() int             { return i.log.termLength }
func (i *image) JoinPosition() int64               { return i.joinPosition }
func (i *image) Position() int64                   { return i.position.Load() }
func (i *image) IsClosed() bool                    { return i.closed.Load() }

func (i *image) IsEndOfStream() bool {
	return i.log.eos.Load() && i.position.Load() >= i.log.eosPosition.Load()
}

func (i *image) EndOfStreamPosition() int64 {
	if !i.log.eos.Load() {
		return math.MaxInt64
	}
	return i.log.eosPosition.Load()
}

// Poll delivers up to fragmentLimit fragments from the current term, skipping
// padding, and advances the image position past everything it consumed.
func (i *image) Poll(handler transport.Callback[transport.FragmentFunc], fragmentLimit int) (int, error) {
	if handler.Fn == nil {
		return 0, errNoFragmentHandler
	}
	if i.closed.Load() || fragmentLimit <= 0 {
		return 0, nil
	}

	l := i.log
	position := i.position.Load()
	term, termOffset, _ := l.locate(position)

	offset := termOffset
	fragments := 0
	for fragments < fragmentLimit && offset < l.termLength {
		frameLength := int(transport.FrameLength(term, offset))
		if frameLength <= 0 {
			break
		}
		header := transport.ReadHeader(term, offset, l.initialTermID, l.bitsToShift)
		next := offset + transport.Align(frameLength, transport.FrameAlignment)
		if header.Type != transport.TypePad {
			fragments++
			i.position.Store(position + int64(next-termOffset))
			handler.Fn(handler.Clientd, term[offset+transport.HeaderLength:offset+frameLength], &header)
			if i.closed.Load() {
				return fragments, nil
			}
		}
		offset = next
	}

	if offset > termOffset {
		i.position.Store(position + int64(offset-termOffset))
	}
	l.stats.fragmentsDelivered.Add(int64(fragments))
	return fragments, nil
}
