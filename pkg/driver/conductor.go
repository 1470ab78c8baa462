package driver

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gezibash/arc-conduit/pkg/logging"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

// ErrClientClosed is returned by a conductor after Close or after the engine
// dropped the client.
var ErrClientClosed = errors.New("client closed")

type commandKind int

const (
	cmdAddPublication commandKind = iota
	cmdAddExclusivePublication
	cmdAddSubscription
	cmdAddDestination
	cmdRemoveDestination
)

type command struct {
	kind     commandKind
	channel  Channel
	streamID int32

	pub  *pending[transport.Publication]
	excl *pending[transport.ExclusivePublication]
	sub  *pending[transport.Subscription]
	dest *pending[bool]

	target        destinationTarget
	onAvailable   transport.Callback[transport.ImageFunc]
	onUnavailable transport.Callback[transport.ImageFunc]
}

type eventKind int

const (
	evAvailableImage eventKind = iota
	evUnavailableImage
	evNewPublication
	evNewSubscription
	evError
)

type event struct {
	kind eventKind
	sub  *subscription
	img  *image
	err  *transport.Error

	channel       string
	streamID      int32
	sessionID     int32
	correlationID int64
}

// conductor is one client's connection to the engine. Commands queue on the
// client goroutine and take effect on its next DoWork, which is also where
// every callback for the client runs.
type conductor struct {
	d    *Driver
	id   int64
	opts transport.ConnectOptions
	log  *logging.Logger

	lastActive atomic.Int64
	closed     atomic.Bool

	// owner goroutine only
	commands []command

	// guarded by Driver.mu
	events  []event
	failure *transport.Error
	pubs    []*publication
	subs    []*subscription
}

var _ transport.Driver = (*conductor)(nil)

func (c *conductor) ClientID() int64          { return c.id }
func (c *conductor) NextCorrelationID() int64 { return c.d.nextCorrelationID() }
func (c *conductor) IsClosed() bool           { return c.closed.Load() }

func (c *conductor) AsyncAddPublication(channel string, streamID int32) (transport.PendingPublication, error) {
	ch, err := c.admit(channel)
	if err != nil {
		return nil, err
	}
	token := &pending[transport.Publication]{id: c.d.nextCorrelationID()}
	c.commands = append(c.commands, command{kind: cmdAddPublication, channel: ch, streamID: streamID, pub: token})
	return token, nil
}

func (c *conductor) AsyncAddExclusivePublication(channel string, streamID int32) (transport.PendingExclusivePublication, error) {
	ch, err := c.admit(channel)
	if err != nil {
		return nil, err
	}
	token := &pending[transport.ExclusivePublication]{id: c.d.nextCorrelationID()}
	c.commands = append(c.commands, command{kind: cmdAddExclusivePublication, channel: ch, streamID: streamID, excl: token})
	return token, nil
}

func (c *conductor) AsyncAddSubscription(channel string, streamID int32, onAvailable, onUnavailable transport.Callback[transport.ImageFunc]) (transport.PendingSubscription, error) {
	ch, err := c.admit(channel)
	if err != nil {
		return nil, err
	}
	token := &pending[transport.Subscription]{id: c.d.nextCorrelationID()}
	c.commands = append(c.commands, command{
		kind:          cmdAddSubscription,
		channel:       ch,
		streamID:      streamID,
		sub:           token,
		onAvailable:   onAvailable,
		onUnavailable: onUnavailable,
	})
	return token, nil
}

func (c *conductor) asyncDestination(target destinationTarget, channel string, kind commandKind) (transport.PendingDestination, error) {
	ch, err := c.admit(channel)
	if err != nil {
		return nil, err
	}
	token := &pending[bool]{id: c.d.nextCorrelationID()}
	c.commands = append(c.commands, command{kind: kind, channel: ch, dest: token, target: target})
	return token, nil
}

func (c *conductor) admit(channel string) (Channel, error) {
	if c.closed.Load() {
		return Channel{}, ErrClientClosed
	}
	return ParseChannel(channel)
}

// DoWork runs engine housekeeping, applies queued commands, and dispatches
// notifications for this client. A client the engine has dropped gets its
// error callback once and ErrClientClosed-wrapped failures afterwards.
func (c *conductor) DoWork() (int, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}
	now := time.Now()
	c.lastActive.Store(now.UnixNano())

	commands := c.commands
	c.commands = nil

	d := c.d
	d.mu.Lock()
	work := 0
	if c.opts.UseAgentInvoker {
		work += d.houseKeepLocked(now)
	}
	for _, cmd := range commands {
		d.processLocked(c, cmd)
		work++
	}
	events := c.events
	c.events = nil
	failure := c.failure
	d.mu.Unlock()

	for _, ev := range events {
		c.dispatch(ev)
		work++
	}

	if failure != nil {
		c.closed.Store(true)
		return work, fmt.Errorf("%w: %w", ErrClientClosed, failure)
	}
	return work, nil
}

func (c *conductor) dispatch(ev event) {
	switch ev.kind {
	case evAvailableImage:
		if ev.sub.closed.Load() {
			return
		}
		ev.sub.images = append(ev.sub.images, ev.img)
		if fn := ev.sub.onAvailable; fn.Fn != nil {
			fn.Fn(fn.Clientd, ev.sub, ev.img)
		}
	case evUnavailableImage:
		if ev.sub.closed.Load() {
			return
		}
		ev.sub.removeImage(ev.img)
		ev.img.closed.Store(true)
		if fn := ev.sub.onUnavailable; fn.Fn != nil {
			fn.Fn(fn.Clientd, ev.sub, ev.img)
		}
		c.d.mu.Lock()
		c.d.releaseImageLocked(ev.img)
		c.d.mu.Unlock()
	case evNewPublication:
		if fn := c.opts.OnNewPublication; fn.Fn != nil {
			fn.Fn(fn.Clientd, ev.channel, ev.streamID, ev.sessionID, ev.correlationID)
		}
	case evNewSubscription:
		if fn := c.opts.OnNewSubscription; fn.Fn != nil {
			fn.Fn(fn.Clientd, ev.channel, ev.streamID, ev.correlationID)
		}
	case evError:
		if fn := c.opts.OnError; fn.Fn != nil {
			fn.Fn(fn.Clientd, ev.err.Code, ev.err.Message)
		}
	}
}

// Close releases everything the client created. Pending registrations are
// abandoned.
func (c *conductor) Close() error {
	c.closed.Store(true)
	c.commands = nil

	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[c.id]; !ok {
		return nil
	}
	c.releaseLocked()
	delete(d.clients, c.id)
	c.events = nil
	c.log.Debug("client closed")
	return nil
}

func (c *conductor) releaseLocked() {
	for _, p := range slices.Clone(c.pubs) {
		c.d.closePublicationLocked(p, true)
	}
	for _, s := range slices.Clone(c.subs) {
		c.d.closeSubscriptionLocked(s, true)
		for _, img := range s.images {
			img.closed.Store(true)
		}
		s.images = nil
	}
	c.pubs = nil
	c.subs = nil
}
