package driver

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

var (
	errSubscriptionClosed = errors.New("subscription closed")
	errImageReleased      = errors.New("image already released")
	errForeignImage       = errors.New("image does not belong to this subscription")
)

// subscription is a live handle that reads every image linked to it.
type subscription struct {
	c              *conductor
	registrationID int64
	channel        Channel
	streamID       int32
	onAvailable    transport.Callback[transport.ImageFunc]
	onUnavailable  transport.Callback[transport.ImageFunc]
	closed         atomic.Bool

	// owner goroutine only
	images     []*image
	roundRobin int

	// guarded by Driver.mu
	linked       []*image
	destinations map[string]struct{}
}

var _ transport.Subscription = (*subscription)(nil)

func (s *subscription) RegistrationID() int64 { return s.registrationID }
func (s *subscription) Channel() string        { return s.channel.Raw }
func (s *subscription) StreamID() int32        { return s.streamID }

// Poll reads from each image in turn, starting one further along each call
// so that no single publisher starves the rest.
func (s *subscription) Poll(handler transport.Callback[transport.FragmentFunc], fragmentLimit int) (int, error) {
	if s.closed.Load() {
		return 0, errSubscriptionClosed
	}
	if handler.Fn == nil {
		return 0, errNoFragmentHandler
	}
	images := s.images
	n := len(images)
	if n == 0 {
		return 0, nil
	}

	start := s.roundRobin
	if start >= n {
		start = 0
	}
	s.roundRobin = start + 1

	fragments := 0
	for k := 0; k < n && fragments < fragmentLimit; k++ {
		read, err := images[(start+k)%n].Poll(handler, fragmentLimit-fragments)
		if err != nil {
			return fragments, err
		}
		fragments += read
	}
	return fragments, nil
}

func (s *subscription) ImageCount() int { return len(s.images) }

func (s *subscription) ImageAtIndex(index int) (transport.Image, error) {
	if index < 0 || index >= len(s.images) {
		return nil, fmt.Errorf("no image exists at index %d", index)
	}
	img := s.images[index]
	img.outstanding++
	return img, nil
}

func (s *subscription) ImageBySessionID(sessionID int32) (transport.Image, bool) {
	for _, img := range s.images {
		if img.log.sessionID == sessionID {
			img.outstanding++
			return img, true
		}
	}
	return nil, false
}

func (s *subscription) ReleaseImage(ti transport.Image) error {
	img, ok := ti.(*image)
	if !ok || img.sub != s {
		return errForeignImage
	}
	if img.outstanding == 0 {
		return errImageReleased
	}
	img.outstanding--
	return nil
}

func (s *subscription) ForEachImage(visit transport.Callback[transport.ImageVisitFunc]) {
	if visit.Fn == nil {
		return
	}
	for _, img := range s.images {
		visit.Fn(visit.Clientd, img)
	}
}

func (s *subscription) IsConnected() bool {
	for _, img := range s.images {
		if !img.closed.Load() {
			return true
		}
	}
	return false
}

func (s *subscription) IsClosed() bool { return s.closed.Load() }

func (s *subscription) ChannelStatus() int64 {
	if s.closed.Load() {
		return transport.ChannelStatusErrored
	}
	return transport.ChannelStatusActive
}

func (s *subscription) AsyncAddDestination(channel string) (transport.PendingDestination, error) {
	return s.c.asyncDestination(s, channel, cmdAddDestination)
}

func (s *subscription) AsyncRemoveDestination(channel string) (transport.PendingDestination, error) {
	return s.c.asyncDestination(s, channel, cmdRemoveDestination)
}

// Close unlinks every image. No image callbacks fire after Close returns.
func (s *subscription) Close() error {
	d := s.c.d
	d.mu.Lock()
	d.closeSubscriptionLocked(s, true)
	d.mu.Unlock()

	for _, img := range s.images {
		img.closed.Store(true)
	}
	s.images = nil
	return nil
}

func (s *subscription) removeImage(img *image) {
	for k, cur := range s.images {
		if cur == img {
			s.images = append(s.images[:k], s.images[k+1:]...)
			return
		}
	}
}

func (s *subscription) channelOf() Channel { return s.channel }
func (s *subscription) isClosed() bool     { return s.closed.Load() }

func (s *subscription) destinationSet() map[string]struct{} {
	if s.destinations == nil {
		s.destinations = make(map[string]struct{})
	}
	return s.destinations
}
