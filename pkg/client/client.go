// Package client is the application API of conduit: registering
// publications and subscriptions, offering and claiming log space, and
// polling fragments.
//
// A Client is driven by one goroutine. Registration is asynchronous: the
// Async* calls return a registration id at once, and the resource becomes
// available through Find* after the transport has processed it during
// DoWork. Handlers run synchronously inside DoWork and Poll.
package client

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gezibash/arc-conduit/pkg/logging"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

// Client is one connection to a transport engine and the registry of the
// resources registered through it.
type Client struct {
	ctx     *Context
	snap    contextSnapshot
	driver  transport.Driver
	log     *logging.Logger
	metrics *Metrics
	tracer  trace.Tracer

	publications          map[int64]*Publication
	exclusivePublications map[int64]*ExclusivePublication
	subscriptions         map[int64]*Subscription

	closed bool
}

// NewClient connects to the engine configured in ctx. A nil ctx uses
// NewContext defaults. The context is in use until the client is closed.
func NewClient(ctx *Context) (*Client, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	snap, err := ctx.acquire()
	if err != nil {
		return nil, err
	}
	d, err := snap.connector.Connect(snap.dir, snap.opts)
	if err != nil {
		ctx.release()
		return nil, fmt.Errorf("connect to driver at %s: %w", snap.dir, err)
	}

	log := snap.logger.WithComponent("client").WithCorrelation(d.ClientID())
	log.Debug("client connected", "dir", snap.dir, "agent_invoker", snap.opts.UseAgentInvoker)
	return &Client{
		ctx:                   ctx,
		snap:                  snap,
		driver:                d,
		log:                   log,
		metrics:               snap.metrics,
		tracer:                snap.tracer,
		publications:          make(map[int64]*Publication),
		exclusivePublications: make(map[int64]*ExclusivePublication),
		subscriptions:         make(map[int64]*Subscription),
	}, nil
}

func (c *Client) Context() *Context { return c.ctx }

func (c *Client) ClientID() int64 { return c.driver.ClientID() }

// NextCorrelationID returns a fresh id from the transport's id space.
func (c *Client) NextCorrelationID() int64 { return c.driver.NextCorrelationID() }

func (c *Client) IsClosed() bool { return c.closed }

// DoWork lets the transport process requests and dispatches notifications.
// It never blocks and must be called regularly.
func (c *Client) DoWork() (int, error) {
	if c.closed {
		return 0, ErrClientClosed
	}
	n, err := c.driver.DoWork()
	if err != nil {
		return n, fmt.Errorf("do work: %w", err)
	}
	return n, nil
}

func (c *Client) startRegistration(kind Kind, channel string, streamID int32) trace.Span {
	_, span := c.tracer.Start(context.Background(), "conduit.register",
		trace.WithAttributes(
			attribute.String("conduit.kind", kind.String()),
			attribute.String("conduit.channel", channel),
			attribute.Int("conduit.stream_id", int(streamID)),
			attribute.Int64("conduit.client_id", c.driver.ClientID()),
		))
	return span
}

// AsyncAddPublication registers a shared publication and returns its
// registration id.
func (c *Client) AsyncAddPublication(channel string, streamID int32) (int64, error) {
	if c.closed {
		return 0, ErrClientClosed
	}
	t, err := c.driver.AsyncAddPublication(channel, streamID)
	if err != nil {
		return 0, fmt.Errorf("add publication %s/%d: %w", channel, streamID, err)
	}
	span := c.startRegistration(KindPublication, channel, streamID)
	p := &Publication{publisher[transport.Publication]{
		registration: newRegistration[transport.Publication](KindPublication, t, span),
		client:       c,
		channel:      channel,
		streamID:     streamID,
	}}
	c.publications[p.id] = p
	c.log.WithRegistration(p.id).Debug("publication registered", "channel", channel, "stream_id", streamID)
	return p.id, nil
}

// AsyncAddExclusivePublication registers an exclusive publication and returns
// its registration id.
func (c *Client) AsyncAddExclusivePublication(channel string, streamID int32) (int64, error) {
	if c.closed {
		return 0, ErrClientClosed
	}
	t, err := c.driver.AsyncAddExclusivePublication(channel, streamID)
	if err != nil {
		return 0, fmt.Errorf("add exclusive publication %s/%d: %w", channel, streamID, err)
	}
	span := c.startRegistration(KindExclusivePublication, channel, streamID)
	p := &ExclusivePublication{publisher[transport.ExclusivePublication]{
		registration: newRegistration[transport.ExclusivePublication](KindExclusivePublication, t, span),
		client:       c,
		channel:      channel,
		streamID:     streamID,
	}}
	c.exclusivePublications[p.id] = p
	c.log.WithRegistration(p.id).Debug("exclusive publication registered", "channel", channel, "stream_id", streamID)
	return p.id, nil
}

// AsyncAddSubscription registers a subscription and returns its registration
// id. Either image handler may be nil.
func (c *Client) AsyncAddSubscription(channel string, streamID int32, onAvailable AvailableImageHandler, onUnavailable UnavailableImageHandler) (int64, error) {
	if c.closed {
		return 0, ErrClientClosed
	}
	s := &Subscription{client: c, channel: channel, streamID: streamID}

	var available, unavailable transport.Callback[transport.ImageFunc]
	if onAvailable != nil {
		var b binding
		available, b = bindAvailableImage(s, onAvailable)
		s.bindings = append(s.bindings, b)
	}
	if onUnavailable != nil {
		var b binding
		unavailable, b = bindUnavailableImage(s, onUnavailable)
		s.bindings = append(s.bindings, b)
	}

	t, err := c.driver.AsyncAddSubscription(channel, streamID, available, unavailable)
	if err != nil {
		s.releaseBindings()
		return 0, fmt.Errorf("add subscription %s/%d: %w", channel, streamID, err)
	}
	span := c.startRegistration(KindSubscription, channel, streamID)
	s.registration = newRegistration[transport.Subscription](KindSubscription, t, span)
	c.subscriptions[s.id] = s
	c.log.WithRegistration(s.id).Debug("subscription registered", "channel", channel, "stream_id", streamID)
	return s.id, nil
}

// FindPublication advances the registration id and returns the publication
// once ready. It returns nil, nil while the registration is pending,
// ErrNotFound for ids that are unknown or closed, and the registration error
// if the transport refused it. A refused registration is forgotten.
func (c *Client) FindPublication(id int64) (*Publication, error) {
	return findIn(c, c.publications, id)
}

// FindExclusivePublication is FindPublication for exclusive publications.
func (c *Client) FindExclusivePublication(id int64) (*ExclusivePublication, error) {
	return findIn(c, c.exclusivePublications, id)
}

// FindSubscription is FindPublication for subscriptions.
func (c *Client) FindSubscription(id int64) (*Subscription, error) {
	return findIn(c, c.subscriptions, id)
}

// PollReady advances any registration by id and reports its state.
func (c *Client) PollReady(id int64) (State, error) {
	if c.closed {
		return StateClosed, ErrClientClosed
	}
	var err error
	switch {
	case c.publications[id] != nil:
		_, err = c.FindPublication(id)
	case c.exclusivePublications[id] != nil:
		_, err = c.FindExclusivePublication(id)
	case c.subscriptions[id] != nil:
		_, err = c.FindSubscription(id)
	default:
		return StateClosed, ErrNotFound
	}
	var regErr *RegistrationError
	if errors.As(err, &regErr) {
		return StateFailed, err
	}
	if err != nil {
		return StateClosed, err
	}
	switch {
	case c.publications[id] != nil:
		return c.publications[id].state, nil
	case c.exclusivePublications[id] != nil:
		return c.exclusivePublications[id].state, nil
	}
	return c.subscriptions[id].state, nil
}

func findIn[W registered](c *Client, registry map[int64]W, id int64) (W, error) {
	var zero W
	if c.closed {
		return zero, ErrClientClosed
	}
	w, ok := registry[id]
	if !ok {
		return zero, ErrNotFound
	}
	state, err := c.advance(w)
	switch state {
	case StateReady:
		return w, nil
	case StatePending:
		return zero, nil
	case StateFailed:
		delete(registry, id)
		return zero, err
	}
	return zero, ErrNotFound
}

// advance polls a registration once and records the transition out of pending.
func (c *Client) advance(w registered) (State, error) {
	r := w.base()
	if r.state != StatePending {
		return w.pollReady()
	}
	state, err := w.pollReady()
	if state == StatePending {
		return state, err
	}

	elapsed := time.Since(r.started)
	log := c.log.WithRegistration(r.id)
	if err != nil {
		log.Warn("registration failed", "kind", r.kind.String(), "error", err)
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	} else {
		log.Debug("registration ready", "kind", r.kind.String(), "elapsed", elapsed)
		r.span.SetStatus(codes.Ok, "")
	}
	r.span.SetAttributes(attribute.Int64("conduit.registration_id", r.id))
	r.span.End()
	c.metrics.registration(r.kind, state, elapsed)
	return state, err
}

func closeIn[W registered](c *Client, registry map[int64]W, id int64) error {
	w, ok := registry[id]
	if !ok {
		return nil
	}
	err := w.closeHandle()
	delete(registry, id)
	endAbandoned(w.base())
	if err != nil {
		return fmt.Errorf("close %s %d: %w", w.base().kind, id, err)
	}
	return nil
}

// endAbandoned ends the span of a registration closed before it resolved.
func endAbandoned(r *regBase) {
	if r.span != nil && r.span.IsRecording() {
		r.span.SetStatus(codes.Error, "abandoned")
		r.span.End()
	}
}

// AddPublication registers a publication and waits until it is ready, calling
// DoWork in between. Without a deadline on ctx it waits at most the driver
// timeout.
func (c *Client) AddPublication(ctx context.Context, channel string, streamID int32) (*Publication, error) {
	id, err := c.AsyncAddPublication(channel, streamID)
	if err != nil {
		return nil, err
	}
	return await(ctx, c, func() (*Publication, error) { return c.FindPublication(id) })
}

// AddExclusivePublication is AddPublication for an exclusive publication.
func (c *Client) AddExclusivePublication(ctx context.Context, channel string, streamID int32) (*ExclusivePublication, error) {
	id, err := c.AsyncAddExclusivePublication(channel, streamID)
	if err != nil {
		return nil, err
	}
	return await(ctx, c, func() (*ExclusivePublication, error) { return c.FindExclusivePublication(id) })
}

// AddSubscription is AddPublication for a subscription.
func (c *Client) AddSubscription(ctx context.Context, channel string, streamID int32, onAvailable AvailableImageHandler, onUnavailable UnavailableImageHandler) (*Subscription, error) {
	id, err := c.AsyncAddSubscription(channel, streamID, onAvailable, onUnavailable)
	if err != nil {
		return nil, err
	}
	return await(ctx, c, func() (*Subscription, error) { return c.FindSubscription(id) })
}

func await[W comparable](ctx context.Context, c *Client, find func() (W, error)) (W, error) {
	var zero W
	if _, ok := ctx.Deadline(); !ok && c.snap.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.snap.timeout)
		defer cancel()
	}
	for {
		if _, err := c.DoWork(); err != nil {
			return zero, err
		}
		w, err := find()
		if err != nil {
			return zero, err
		}
		if w != zero {
			return w, nil
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("await registration: %w", ctx.Err())
		case <-time.After(c.snap.idleSleep):
		}
	}
}

// Close closes every resource, then the transport connection, and releases
// the context. Pending registrations are abandoned. Close is idempotent.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	var abandoned []*Subscription
	for _, id := range slices.Sorted(maps.Keys(c.subscriptions)) {
		s := c.subscriptions[id]
		if s.state == StatePending {
			s.state = StateClosed
			abandoned = append(abandoned, s)
			delete(c.subscriptions, id)
			endAbandoned(s.base())
			continue
		}
		errs = append(errs, closeIn(c, c.subscriptions, id))
	}
	for _, id := range slices.Sorted(maps.Keys(c.publications)) {
		errs = append(errs, closeIn(c, c.publications, id))
	}
	for _, id := range slices.Sorted(maps.Keys(c.exclusivePublications)) {
		errs = append(errs, closeIn(c, c.exclusivePublications, id))
	}

	if err := c.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close driver connection: %w", err))
	}
	for _, s := range abandoned {
		s.releaseBindings()
	}
	c.ctx.release()
	c.log.Debug("client closed")
	return errors.Join(errs...)
}
