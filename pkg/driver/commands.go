package driver

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

func (d *Driver) processLocked(c *conductor, cmd command) {
	if c.failure != nil {
		d.failCommand(cmd, c.failure)
		return
	}
	switch cmd.kind {
	case cmdAddPublication:
		p, err := d.addPublicationLocked(c, cmd, false)
		if err != nil {
			cmd.pub.fail(err)
			return
		}
		cmd.pub.resolve(p)
		d.broadcastLocked(newPublicationEvent(p))
	case cmdAddExclusivePublication:
		p, err := d.addPublicationLocked(c, cmd, true)
		if err != nil {
			cmd.excl.fail(err)
			return
		}
		cmd.excl.resolve(p)
		d.broadcastLocked(newPublicationEvent(p))
	case cmdAddSubscription:
		s := d.addSubscriptionLocked(c, cmd)
		cmd.sub.resolve(s)
		d.broadcastLocked(event{
			kind:          evNewSubscription,
			channel:       s.channel.Raw,
			streamID:      s.streamID,
			correlationID: s.registrationID,
		})
	case cmdAddDestination, cmdRemoveDestination:
		if err := d.destinationLocked(cmd); err != nil {
			cmd.dest.fail(err)
			c.events = append(c.events, event{kind: evError, err: err})
			return
		}
		cmd.dest.resolve(true)
	}
}

// broadcastLocked queues a notification for every connected client.
func (d *Driver) broadcastLocked(ev event) {
	for _, c := range d.clients {
		if c.failure == nil {
			c.events = append(c.events, ev)
		}
	}
}

func (d *Driver) failCommand(cmd command, err error) {
	switch {
	case cmd.pub != nil:
		cmd.pub.fail(err)
	case cmd.excl != nil:
		cmd.excl.fail(err)
	case cmd.sub != nil:
		cmd.sub.fail(err)
	case cmd.dest != nil:
		cmd.dest.fail(err)
	}
}

func newPublicationEvent(p *publication) event {
	return event{
		kind:          evNewPublication,
		channel:       p.channel.Raw,
		streamID:      p.log.streamID,
		sessionID:     p.log.sessionID,
		correlationID: p.registrationID,
	}
}

func (d *Driver) addPublicationLocked(c *conductor, cmd command, exclusive bool) (*publication, error) {
	id := cmd.registrationID()
	termLength := cmd.channel.sizeParam(ParamTermLength, d.cfg.TermBufferLength)
	mtu := cmd.channel.sizeParam(ParamMTU, d.cfg.MTU)

	key := streamKey{channel: cmd.channel.Canonical(), streamID: cmd.streamID}
	l := d.sharedLogs[key]
	if exclusive || l == nil {
		var err error
		l, err = d.newLogLocked(id, cmd.channel, cmd.streamID, termLength, mtu, exclusive)
		if err != nil {
			return nil, err
		}
		if !exclusive {
			d.sharedLogs[key] = l
		}
		d.linkLogLocked(l)
	} else if err := matchParams(cmd.channel, l); err != nil {
		return nil, err
	}

	l.publications++
	l.refs++
	p := &publication{c: c, registrationID: id, channel: cmd.channel, log: l, exclusive: exclusive}
	c.pubs = append(c.pubs, p)
	c.log.Debug("publication added", "registration_id", id, "channel", cmd.channel.Raw,
		"stream_id", cmd.streamID, "session_id", l.sessionID, "exclusive", exclusive)
	return p, nil
}

func matchParams(ch Channel, l *logBuffer) error {
	if _, ok := ch.Params[ParamTermLength]; ok && ch.sizeParam(ParamTermLength, 0) != l.termLength {
		return &transport.Error{
			Code:    transport.ErrorCodeInvalidChannel,
			Message: fmt.Sprintf("existing publication has term-length=%d", l.termLength),
		}
	}
	if _, ok := ch.Params[ParamMTU]; ok && ch.sizeParam(ParamMTU, 0) != l.mtu {
		return &transport.Error{
			Code:    transport.ErrorCodeInvalidChannel,
			Message: fmt.Sprintf("existing publication has mtu=%d", l.mtu),
		}
	}
	return nil
}

func (d *Driver) newLogLocked(id int64, ch Channel, streamID int32, termLength, mtu int, exclusive bool) (*logBuffer, error) {
	if mtu > termLength/8 {
		return nil, &transport.Error{
			Code:    transport.ErrorCodeInvalidChannel,
			Message: fmt.Sprintf("mtu=%d exceeds term-length/8=%d", mtu, termLength/8),
		}
	}
	sessionID, ok := ch.intParam(ParamSessionID)
	if !ok {
		sessionID = d.nextSessionID
		d.nextSessionID++
	}

	initialTermID := rand.Int32()
	termID := initialTermID
	var termOffset int32
	if exclusive {
		if v, ok := ch.intParam(ParamInitTermID); ok {
			initialTermID, termID = v, v
		}
		if v, ok := ch.intParam(ParamTermID); ok {
			termID = v
		}
		if v, ok := ch.intParam(ParamTermOffset); ok {
			termOffset = v
		}
	}

	size := partitionCount * termLength
	var mem *mapping
	if d.cfg.MappedLogBuffers {
		path := filepath.Join(d.cfg.Dir, "publications", fmt.Sprintf("%d-%d.logbuffer", id, sessionID))
		m, err := mapFile(path, size)
		if err != nil {
			return nil, &transport.Error{Code: transport.ErrorCodeChannelEndpoint, Message: err.Error()}
		}
		mem = m
	} else {
		mem = heapMapping(size)
	}

	l, err := newLogBuffer(logParams{
		registrationID: id,
		channel:        ch,
		streamID:       streamID,
		sessionID:      sessionID,
		initialTermID:  initialTermID,
		termID:         termID,
		termOffset:     termOffset,
		termLength:     termLength,
		mtu:            mtu,
		window:         d.cfg.PublicationWindow,
		exclusive:      exclusive,
	}, mem, &d.stats)
	if err != nil {
		_ = mem.close()
		return nil, &transport.Error{Code: transport.ErrorCodeInvalidChannel, Message: err.Error()}
	}
	d.logs[l] = struct{}{}
	return l, nil
}

func (d *Driver) addSubscriptionLocked(c *conductor, cmd command) *subscription {
	s := &subscription{
		c:              c,
		registrationID: cmd.sub.id,
		channel:        cmd.channel,
		streamID:       cmd.streamID,
		onAvailable:    cmd.onAvailable,
		onUnavailable:  cmd.onUnavailable,
	}
	d.subscriptions[s.registrationID] = s
	c.subs = append(c.subs, s)

	for l := range d.logs {
		if !l.eos.Load() && s.matches(l) {
			d.linkLocked(l, s)
		}
	}
	c.log.Debug("subscription added", "registration_id", s.registrationID,
		"channel", cmd.channel.Raw, "stream_id", cmd.streamID)
	return s
}

func (s *subscription) matches(l *logBuffer) bool {
	if s.streamID != l.streamID || s.channel.Canonical() != l.channel.Canonical() {
		return false
	}
	if sessionID, ok := s.channel.intParam(ParamSessionID); ok && sessionID != l.sessionID {
		return false
	}
	return true
}

func (d *Driver) linkLogLocked(l *logBuffer) {
	for _, s := range d.subscriptions {
		if s.matches(l) {
			d.linkLocked(l, s)
		}
	}
}

func (d *Driver) linkLocked(l *logBuffer, s *subscription) {
	join := l.tail.Load()
	img := &image{log: l, sub: s, correlationID: l.registrationID, joinPosition: join}
	img.position.Store(join)
	l.images = append(l.images, img)
	l.refs++
	l.updateLimit()
	s.linked = append(s.linked, img)
	s.c.events = append(s.c.events, event{kind: evAvailableImage, sub: s, img: img})
}

func (s *subscription) unlinkLocked(img *image) {
	for k, cur := range s.linked {
		if cur == img {
			s.linked = append(s.linked[:k], s.linked[k+1:]...)
			return
		}
	}
}

func (d *Driver) destinationLocked(cmd command) *transport.Error {
	t := cmd.target
	if t.isClosed() {
		return &transport.Error{Code: transport.ErrorCodeChannelEndpoint, Message: "destination target is closed"}
	}
	if !t.channelOf().IsManualControl() {
		return &transport.Error{
			Code:    transport.ErrorCodeNotSupported,
			Message: "destinations may only be used with control-mode=manual",
		}
	}
	set := t.destinationSet()
	if cmd.kind == cmdAddDestination {
		set[cmd.channel.Raw] = struct{}{}
		return nil
	}
	if _, ok := set[cmd.channel.Raw]; !ok {
		return &transport.Error{
			Code:    transport.ErrorCodeUnknownDestination,
			Message: fmt.Sprintf("unknown destination %s", cmd.channel.Raw),
		}
	}
	delete(set, cmd.channel.Raw)
	return nil
}

func (d *Driver) closePublicationLocked(p *publication, release bool) {
	l := p.log
	if !p.closed.Swap(true) {
		l.publications--
		if l.publications == 0 {
			l.markEndOfStream()
			key := streamKey{channel: l.channel.Canonical(), streamID: l.streamID}
			if d.sharedLogs[key] == l {
				delete(d.sharedLogs, key)
			}
		}
	}
	if release && !p.released {
		p.released = true
		p.c.pubs = slices.DeleteFunc(p.c.pubs, func(cur *publication) bool { return cur == p })
		d.unrefLocked(l)
	}
}

func (d *Driver) closeSubscriptionLocked(s *subscription, release bool) {
	if !s.closed.Swap(true) {
		delete(d.subscriptions, s.registrationID)
		for _, img := range s.linked {
			d.detachLocked(img)
		}
	}
	if release {
		for _, img := range slices.Clone(s.linked) {
			d.releaseImageLocked(img)
		}
		s.c.subs = slices.DeleteFunc(s.c.subs, func(cur *subscription) bool { return cur == s })
	}
	kept := s.c.events[:0]
	for _, ev := range s.c.events {
		if ev.sub != s {
			kept = append(kept, ev)
		}
	}
	s.c.events = kept
}

func (d *Driver) detachLocked(img *image) {
	img.closed.Store(true)
	if img.detached {
		return
	}
	img.detached = true
	l := img.log
	for k, cur := range l.images {
		if cur == img {
			l.images = append(l.images[:k], l.images[k+1:]...)
			break
		}
	}
	l.updateLimit()
}

func (d *Driver) releaseImageLocked(img *image) {
	d.detachLocked(img)
	if img.released {
		return
	}
	img.released = true
	img.sub.unlinkLocked(img)
	d.unrefLocked(img.log)
}

func (d *Driver) unrefLocked(l *logBuffer) {
	l.refs--
	if l.refs > 0 {
		return
	}
	if err := d.removeLogLocked(l); err != nil {
		d.log.Warn("release log buffer", "error", err, "session_id", l.sessionID)
	}
}

func (d *Driver) removeLogLocked(l *logBuffer) error {
	delete(d.logs, l)
	key := streamKey{channel: l.channel.Canonical(), streamID: l.streamID}
	if d.sharedLogs[key] == l {
		delete(d.sharedLogs, key)
	}
	return l.mem.close()
}

func (cmd command) registrationID() int64 {
	switch {
	case cmd.pub != nil:
		return cmd.pub.id
	case cmd.excl != nil:
		return cmd.excl.id
	case cmd.sub != nil:
		return cmd.sub.id
	case cmd.dest != nil:
		return cmd.dest.id
	}
	return 0
}
