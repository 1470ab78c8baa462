package client

import (
	"fmt"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

// Subscription receives fragments from every publisher session on its
// channel and stream.
type Subscription struct {
	*registration[transport.Subscription]
	client   *Client
	channel  string
	streamID int32

	// image handler bindings, released once the native subscription is closed
	bindings []binding
}

func (s *Subscription) RegistrationID() int64 { return s.id }
func (s *Subscription) Channel() string       { return s.channel }
func (s *Subscription) StreamID() int32       { return s.streamID }

// Poll delivers up to fragmentLimit fragments, visiting images round robin.
func (s *Subscription) Poll(handler FragmentHandler, fragmentLimit int) (int, error) {
	h, err := s.live()
	if err != nil {
		return 0, err
	}
	if handler == nil {
		return 0, ErrNilHandler
	}
	cb, b := bindFragment(handler)
	defer b.release()
	n, err := h.Poll(cb, fragmentLimit)
	s.client.metrics.fragments(n)
	if err != nil {
		return n, &PublicationError{Code: CodeGeneric, Err: err}
	}
	return n, nil
}

func (s *Subscription) ImageCount() int {
	h, err := s.live()
	if err != nil {
		return 0
	}
	return h.ImageCount()
}

// ImageAtIndex returns the image at index. The caller must Release it.
func (s *Subscription) ImageAtIndex(index int) (*Image, error) {
	h, err := s.live()
	if err != nil {
		return nil, err
	}
	img, err := h.ImageAtIndex(index)
	if err != nil {
		return nil, err
	}
	return s.own(h, img), nil
}

// ImageBySessionID returns the image for a publisher session. The caller must
// Release it.
func (s *Subscription) ImageBySessionID(sessionID int32) (*Image, bool) {
	h, err := s.live()
	if err != nil {
		return nil, false
	}
	img, ok := h.ImageBySessionID(sessionID)
	if !ok {
		return nil, false
	}
	return s.own(h, img), true
}

// ForEachImage calls visit with every current image. The images are only
// valid during visit.
func (s *Subscription) ForEachImage(visit func(img *BorrowedImage)) {
	h, err := s.live()
	if err != nil || visit == nil {
		return
	}
	cb, b := bindImageVisit(s, visit)
	defer b.release()
	h.ForEachImage(cb)
}

// IsConnected reports whether at least one image is open.
func (s *Subscription) IsConnected() bool {
	h, err := s.live()
	return err == nil && h.IsConnected()
}

func (s *Subscription) IsClosed() bool {
	switch s.state {
	case StatePending:
		return false
	case StateReady:
		return s.handle.IsClosed()
	}
	return true
}

func (s *Subscription) ChannelStatus() int64 {
	switch s.state {
	case StatePending:
		return transport.ChannelStatusInitializing
	case StateReady:
		return s.handle.ChannelStatus()
	}
	return transport.ChannelStatusErrored
}

// AsyncAddDestination adds a destination to a manual control mode channel.
func (s *Subscription) AsyncAddDestination(channel string) (*Destination, error) {
	h, err := s.live()
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
func (s *Subscription) AsyncRemoveDestination(channel string) (*Destination, error) {
	h, err := s.live()
	if err != nil {
		return nil, err
	}
	t, err := h.AsyncRemoveDestination(channel)
	if err != nil {
		return nil, fmt.Errorf("remove destination %s: %w", channel, err)
	}
	return newDestination(t, channel), nil
}

// Close closes the subscription and removes it from its client. No image
// handler runs after Close returns.
func (s *Subscription) Close() error {
	return closeIn(s.client, s.client.subscriptions, s.id)
}

func (s *Subscription) closeHandle() error {
	ready := s.state == StateReady
	s.state = StateClosed
	var err error
	if ready {
		err = s.handle.Close()
	}
	s.releaseBindings()
	return err
}

func (s *Subscription) releaseBindings() {
	for _, b := range s.bindings {
		b.release()
	}
	s.bindings = nil
}

func (s *Subscription) own(h transport.Subscription, img transport.Image) *Image {
	return &Image{imageView: imageView{client: s.client, image: img}, sub: h}
}

func (s *Subscription) borrow(img transport.Image) *BorrowedImage {
	return &BorrowedImage{imageView: imageView{client: s.client, image: img}}
}

func (s *Subscription) String() string {
	return fmt.Sprintf("Subscription{id=%d channel=%s stream=%d state=%s}", s.id, s.channel, s.streamID, s.state)
}
