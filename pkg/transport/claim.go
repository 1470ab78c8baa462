package transport

import "errors"

// ErrClaimInvalid is returned when committing or aborting a claim that holds no frame.
var ErrClaimInvalid = errors.New("claim does not reference a frame")

// Claim is a reserved frame that the holder fills in place. Frame spans the
// header and the payload; the engine has written every header field and left
// the frame length negative so subscribers stop before it.
type Claim struct {
	Frame []byte

	// Abandon, when set by the engine, aborts a claim its holder dropped
	// without resolving. It does nothing once the log has been released.
	Abandon func(*Claim)
}

// Data returns the payload region of the claim.
func (c *Claim) Data() []byte {
	if len(c.Frame) < HeaderLength {
		return nil
	}
	return c.Frame[HeaderLength:]
}

// CommitClaim publishes the claimed frame to subscribers.
func CommitClaim(c *Claim) error {
	if len(c.Frame) < HeaderLength {
		return ErrClaimInvalid
	}
	SetFrameLength(c.Frame, 0, int32(len(c.Frame)))
	return nil
}

// AbortClaim turns the claimed frame into padding that subscribers skip.
func AbortClaim(c *Claim) error {
	if len(c.Frame) < HeaderLength {
		return ErrClaimInvalid
	}
	c.Frame[TypeOffset] = byte(TypePad)
	c.Frame[TypeOffset+1] = byte(TypePad >> 8)
	SetFrameLength(c.Frame, 0, int32(len(c.Frame)))
	return nil
}
