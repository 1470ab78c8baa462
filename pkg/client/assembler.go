package client

import "github.com/gezibash/arc-conduit/pkg/transport"

// DefaultAssemblerBufferLength is the initial per-session buffer size.
const DefaultAssemblerBufferLength = 4096

// FragmentAssembler reassembles fragmented messages before handing them to
// a delegate. Unfragmented frames pass straight through. Reassembled messages
// carry the header of their last fragment with the flags set to unfragmented.
type FragmentAssembler struct {
	delegate      FragmentHandler
	initialLength int
	sessions      map[int32]*messageBuffer
}

type messageBuffer struct {
	data    []byte
	started bool
}

// NewFragmentAssembler returns an assembler delivering whole messages to
// delegate. initialBufferLength sizes each session's buffer; it grows as needed.
func NewFragmentAssembler(delegate FragmentHandler, initialBufferLength int) *FragmentAssembler {
	if initialBufferLength <= 0 {
		initialBufferLength = DefaultAssemblerBufferLength
	}
	return &FragmentAssembler{
		delegate:      delegate,
		initialLength: initialBufferLength,
		sessions:      make(map[int32]*messageBuffer),
	}
}

func (a *FragmentAssembler) OnFragment(buffer []byte, header *Header) {
	flags := header.Flags
	if flags&transport.FlagsUnfragmented == transport.FlagsUnfragmented {
		a.delegate.OnFragment(buffer, header)
		return
	}

	if flags&transport.FlagBegin != 0 {
		mb, ok := a.sessions[header.SessionID]
		if !ok {
			mb = &messageBuffer{data: make([]byte, 0, a.initialLength)}
			a.sessions[header.SessionID] = mb
		}
		mb.data = append(mb.data[:0], buffer...)
		mb.started = true
		return
	}

	mb, ok := a.sessions[header.SessionID]
	if !ok || !mb.started {
		return
	}
	mb.data = append(mb.data, buffer...)
	if flags&transport.FlagEnd == 0 {
		return
	}

	h := *header
	h.Flags |= transport.FlagsUnfragmented
	mb.started = false
	a.delegate.OnFragment(mb.data, &h)
	mb.data = mb.data[:0]
}

// Reset drops any partial message for sessionID.
func (a *FragmentAssembler) Reset(sessionID int32) {
	delete(a.sessions, sessionID)
}

// OnUnavailableImage drops the partial message of a departed session, so an
// assembler can be passed as a subscription's unavailable image handler.
func (a *FragmentAssembler) OnUnavailableImage(_ *Subscription, img *BorrowedImage) {
	a.Reset(img.SessionID())
}
