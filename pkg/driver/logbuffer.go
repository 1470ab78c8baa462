package driver

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

const partitionCount = 3

// logBuffer is the term-partitioned log behind one publisher session. Shared
// publications on the same channel and stream append to one logBuffer under
// writeMu; an exclusive publication owns its logBuffer and appends without it.
type logBuffer struct {
	registrationID int64
	channel        Channel
	streamID       int32
	sessionID      int32
	initialTermID  int32
	termLength     int
	bitsToShift    int
	mtu            int
	window         int
	exclusive      bool

	mem   *mapping
	terms [partitionCount][]byte
	stats *counters

	writeMu     sync.Mutex
	tail        atomic.Int64
	limit       atomic.Int64
	connected   atomic.Bool
	eos         atomic.Bool
	eosPosition atomic.Int64

	// guarded by Driver.mu
	publications int
	refs         int
	images       []*image
}

type logParams struct {
	registrationID int64
	channel        Channel
	streamID       int32
	sessionID      int32
	initialTermID  int32
	termID         int32
	termOffset     int32
	termLength     int
	mtu            int
	window         int
	exclusive      bool
}

func newLogBuffer(p logParams, mem *mapping, stats *counters) (*logBuffer, error) {
	if len(mem.data) != partitionCount*p.termLength {
		return nil, fmt.Errorf("log memory %d bytes, want %d", len(mem.data), partitionCount*p.termLength)
	}
	if p.termOffset < 0 || int(p.termOffset) >= p.termLength || int(p.termOffset)%transport.FrameAlignment != 0 {
		return nil, fmt.Errorf("term offset %d must be frame aligned and within the term", p.termOffset)
	}
	window := p.window
	if window <= 0 || window > p.termLength/2 {
		window = p.termLength / 2
	}

	l := &logBuffer{
		registrationID: p.registrationID,
		channel:        p.channel,
		streamID:       p.streamID,
		sessionID:      p.sessionID,
		initialTermID:  p.initialTermID,
		termLength:     p.termLength,
		bitsToShift:    transport.PositionBitsToShift(p.termLength),
		mtu:            p.mtu,
		window:         window,
		exclusive:      p.exclusive,
		mem:            mem,
		stats:          stats,
	}
	for i := range l.terms {
		l.terms[i] = mem.data[i*p.termLength : (i+1)*p.termLength]
	}

	start := transport.ComputePosition(p.termID, p.termOffset, l.bitsToShift, p.initialTermID)
	l.tail.Store(start)
	l.limit.Store(start)
	l.eosPosition.Store(math.MaxInt64)
	return l, nil
}

func (l *logBuffer) maxPayloadLength() int {
	return l.mtu - transport.HeaderLength
}

func (l *logBuffer) maxMessageLength() int {
	return min(l.termLength/8, maxMessage)
}

func (l *logBuffer) maxPossiblePosition() int64 {
	return int64(l.termLength) << 31
}

// checkLimits returns the tail to append at, or a negative result code.
func (l *logBuffer) checkLimits(required int) int64 {
	if l.eos.Load() {
		return transport.PublicationClosed
	}
	if !l.connected.Load() {
		l.stats.notConnected.Add(1)
		return transport.NotConnected
	}
	position := l.tail.Load()
	if position+int64(required) > l.maxPossiblePosition() {
		return transport.MaxPositionExceeded
	}
	if position >= l.limit.Load() {
		l.stats.backPressured.Add(1)
		return transport.BackPressured
	}
	return position
}

func (l *logBuffer) requiredLength(length int) int {
	maxPayload := l.maxPayloadLength()
	if length <= maxPayload {
		return transport.Align(length+transport.HeaderLength, transport.FrameAlignment)
	}
	full := length / maxPayload
	required := full * transport.Align(l.mtu, transport.FrameAlignment)
	if rem := length % maxPayload; rem > 0 {
		required += transport.Align(rem+transport.HeaderLength, transport.FrameAlignment)
	}
	return required
}

func (l *logBuffer) offer(parts [][]byte, supplier transport.Callback[transport.ReservedValueFunc]) (int64, error) {
	length := 0
	for _, p := range parts {
		length += len(p)
	}
	if length > l.maxMessageLength() {
		return transport.PublicationError, fmt.Errorf("message length %d exceeds max message length %d", length, l.maxMessageLength())
	}

	if !l.exclusive {
		l.writeMu.Lock()
		defer l.writeMu.Unlock()
	}

	required := l.requiredLength(length)
	position := l.checkLimits(required)
	if position < 0 {
		return position, nil
	}

	term, termOffset, termID := l.locate(position)
	if termOffset+required > l.termLength {
		l.rotate(position, term, termOffset, termID)
		return transport.AdminAction, nil
	}

	maxPayload := l.maxPayloadLength()
	flags := transport.FlagBegin
	offset := termOffset
	written := 0
	for {
		chunk := min(maxPayload, length-written)
		if written+chunk == length {
			flags |= transport.FlagEnd
		}
		frameLength := chunk + transport.HeaderLength
		l.writeHeader(term, offset, flags, transport.TypeData, termID)
		gather(term[offset+transport.HeaderLength:offset+frameLength], parts, written)
		if supplier.Fn != nil {
			frame := term[offset : offset+frameLength]
			transport.SetReservedValue(term, offset, supplier.Fn(supplier.Clientd, frame, frameLength))
		}
		transport.SetFrameLength(term, offset, int32(frameLength))

		offset += transport.Align(frameLength, transport.FrameAlignment)
		written += chunk
		flags = 0
		if written >= length {
			break
		}
	}

	next := position + int64(offset-termOffset)
	l.advance(position, next)
	l.stats.bytesPublished.Add(int64(length))
	return next, nil
}

func (l *logBuffer) claim(length int, c *transport.Claim) (int64, error) {
	if length < 0 || length > l.maxPayloadLength() {
		return transport.PublicationError, fmt.Errorf("claim length %d exceeds max payload length %d", length, l.maxPayloadLength())
	}

	if !l.exclusive {
		l.writeMu.Lock()
		defer l.writeMu.Unlock()
	}

	frameLength := length + transport.HeaderLength
	required := transport.Align(frameLength, transport.FrameAlignment)
	position := l.checkLimits(required)
	if position < 0 {
		return position, nil
	}

	term, termOffset, termID := l.locate(position)
	if termOffset+required > l.termLength {
		l.rotate(position, term, termOffset, termID)
		return transport.AdminAction, nil
	}

	l.writeHeader(term, termOffset, transport.FlagsUnfragmented, transport.TypeData, termID)
	transport.SetFrameLength(term, termOffset, -int32(frameLength))
	c.Frame = term[termOffset : termOffset+frameLength : termOffset+frameLength]

	next := position + int64(required)
	l.advance(position, next)
	l.stats.bytesPublished.Add(int64(length))
	return next, nil
}

// advance moves the tail from position to next. A frame that ends exactly on
// a term boundary enters the next term without padding, so the partition two
// terms ahead is cleaned here just as rotate does.
func (l *logBuffer) advance(position, next int64) {
	if termCount := position >> l.bitsToShift; next>>l.bitsToShift != termCount {
		l.cleanAhead(termCount)
	}
	l.tail.Store(next)
}

// cleanAhead zeroes the partition that termCount+2 will use. Flow control keeps
// every subscriber within half a term of the tail, so nobody still reads it.
func (l *logBuffer) cleanAhead(termCount int64) {
	clear(l.terms[(termCount+2)%partitionCount])
}

func (l *logBuffer) locate(position int64) (term []byte, termOffset int, termID int32) {
	termCount := position >> l.bitsToShift
	term = l.terms[termCount%partitionCount]
	termOffset = int(position & int64(l.termLength-1))
	termID = l.initialTermID + int32(termCount)
	return term, termOffset, termID
}

func (l *logBuffer) writeHeader(term []byte, offset int, flags uint8, typ uint16, termID int32) {
	transport.WriteHeader(term, offset, transport.Header{
		Version:    transport.CurrentVersion,
		Flags:      flags,
		Type:       typ,
		TermOffset: int32(offset),
		SessionID:  l.sessionID,
		StreamID:   l.streamID,
		TermID:     termID,
	})
}

// rotate pads out the rest of the active term and moves the tail to the start
// of the next one.
func (l *logBuffer) rotate(position int64, term []byte, termOffset int, termID int32) {
	padLength := l.termLength - termOffset
	l.writeHeader(term, termOffset, transport.FlagsUnfragmented, transport.TypePad, termID)
	transport.SetFrameLength(term, termOffset, int32(padLength))

	l.cleanAhead(position >> l.bitsToShift)
	l.tail.Store(position + int64(padLength))
	l.stats.adminActions.Add(1)
}

// updateLimit recomputes the publisher limit from linked images. Called under Driver.mu.
func (l *logBuffer) updateLimit() {
	if len(l.images) == 0 {
		l.connected.Store(false)
		l.limit.Store(l.tail.Load())
		return
	}
	minPosition := int64(math.MaxInt64)
	for _, img := range l.images {
		minPosition = min(minPosition, img.position.Load())
	}
	l.limit.Store(minPosition + int64(l.window))
	l.connected.Store(true)
}

// markEndOfStream records the final position once the last publication is gone.
func (l *logBuffer) markEndOfStream() {
	l.eosPosition.Store(l.tail.Load())
	l.eos.Store(true)
}

// gather copies len(dst) bytes of the concatenation of parts, starting at from.
func gather(dst []byte, parts [][]byte, from int) {
	n := 0
	for _, p := range parts {
		if from >= len(p) {
			from -= len(p)
			continue
		}
		n += copy(dst[n:], p[from:])
		from = 0
		if n == len(dst) {
			return
		}
	}
}
