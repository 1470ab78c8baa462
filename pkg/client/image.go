package client

import (
	"errors"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

var errBorrowExpired = errors.New("borrowed image used after its callback returned")

// imageView holds the accessors shared by owned and borrowed images.
type imageView struct {
	client *Client
	image  transport.Image
}

func (v *imageView) SessionID() int32                  { return v.image.SessionID() }
func (v *imageView) CorrelationID() int64              { return v.image.CorrelationID() }
func (v *imageView) SubscriptionRegistrationID() int64 { return v.image.SubscriptionRegistrationID() }
func (v *imageView) SourceIdentity() string            { return v.image.SourceIdentity() }
func (v *imageView) InitialTermID() int32              { return v.image.InitialTermID() }
func (v *imageView) TermBufferLength() int             { return v.image.TermBufferLength() }
func (v *imageView) JoinPosition() int64               { return v.image.JoinPosition() }
func (v *imageView) Position() int64                   { return v.image.Position() }
func (v *imageView) IsEndOfStream() bool               { return v.image.IsEndOfStream() }
func (v *imageView) EndOfStreamPosition() int64        { return v.image.EndOfStreamPosition() }
func (v *imageView) IsClosed() bool                    { return v.image.IsClosed() }

func (v *imageView) poll(handler FragmentHandler, fragmentLimit int) (int, error) {
	if handler == nil {
		return 0, ErrNilHandler
	}
	cb, b := bindFragment(handler)
	defer b.release()
	n, err := v.image.Poll(cb, fragmentLimit)
	v.client.metrics.fragments(n)
	if err != nil {
		return n, &PublicationError{Code: CodeGeneric, Err: err}
	}
	return n, nil
}

// Image is a publisher session obtained by lookup on a Subscription. It must
// be released exactly once.
type Image struct {
	imageView
	sub      transport.Subscription
	released bool
}

// Poll delivers up to fragmentLimit fragments from this image only.
func (i *Image) Poll(handler FragmentHandler, fragmentLimit int) (int, error) {
	if i.released {
		return 0, ErrImageReleased
	}
	return i.poll(handler, fragmentLimit)
}

// Release hands the image back to its subscription. A second call returns
// ErrImageReleased.
func (i *Image) Release() error {
	if i.released {
		return ErrImageReleased
	}
	i.released = true
	return i.sub.ReleaseImage(i.image)
}

// BorrowedImage is an image lent to a callback. It is valid only until the
// callback returns and has no release. Afterwards its accessors report the
// values seen at expiry and IsClosed reports true.
type BorrowedImage struct {
	imageView
	expired bool
}

// Poll delivers up to fragmentLimit fragments from this image only.
func (b *BorrowedImage) Poll(handler FragmentHandler, fragmentLimit int) (int, error) {
	if b.expired {
		return 0, errBorrowExpired
	}
	return b.poll(handler, fragmentLimit)
}

func (b *BorrowedImage) expire() {
	if b.expired {
		return
	}
	b.expired = true
	b.image = freeze(b.image)
}

// frozenImage is a detached copy of an image's state. It never reads the
// engine's log, so holding it past a callback is harmless.
type frozenImage struct {
	sessionID      int32
	correlationID  int64
	subscriptionID int64
	sourceIdentity string
	initialTermID  int32
	termLength     int
	joinPosition   int64
	position       int64
	endOfStream    bool
	eosPosition    int64
}

func freeze(img transport.Image) *frozenImage {
	return &frozenImage{
		sessionID:      img.SessionID(),
		correlationID:  img.CorrelationID(),
		subscriptionID: img.SubscriptionRegistrationID(),
		sourceIdentity: img.SourceIdentity(),
		initialTermID:  img.InitialTermID(),
		termLength:     img.TermBufferLength(),
		joinPosition:   img.JoinPosition(),
		position:       img.Position(),
		endOfStream:    img.IsEndOfStream(),
		eosPosition:    img.EndOfStreamPosition(),
	}
}

func (f *frozenImage) SessionID() int32                  { return f.sessionID }
func (f *frozenImage) CorrelationID() int64              { return f.correlationID }
func (f *frozenImage) SubscriptionRegistrationID() int64 { return f.subscriptionID }
func (f *frozenImage) SourceIdentity() string            { return f.sourceIdentity }
func (f *frozenImage) InitialTermID() int32              { return f.initialTermID }
func (f *frozenImage) TermBufferLength() int             { return f.termLength }
func (f *frozenImage) JoinPosition() int64               { return f.joinPosition }
func (f *frozenImage) Position() int64                   { return f.position }
func (f *frozenImage) IsEndOfStream() bool               { return f.endOfStream }
func (f *frozenImage) EndOfStreamPosition() int64        { return f.eosPosition }
func (f *frozenImage) IsClosed() bool                    { return true }

func (f *frozenImage) Poll(transport.Callback[transport.FragmentFunc], int) (int, error) {
	return 0, errBorrowExpired
}
