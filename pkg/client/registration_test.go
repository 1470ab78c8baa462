package client

import (
	"errors"
	"testing"

	"github.com/gezibash/arc-conduit/internal/handles"
	"github.com/gezibash/arc-conduit/pkg/logging"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

type fakePending[H any] struct {
	id     int64
	polls  int
	result H
	err    error
}

func (p *fakePending[H]) RegistrationID() int64 { return p.id }

func (p *fakePending[H]) Poll() (H, error) {
	p.polls++
	return p.result, p.err
}

type fakePublication struct {
	transport.Publication
	closes int
}

func (p *fakePublication) Close() error {
	p.closes++
	return nil
}

type fakeSubscription struct {
	transport.Subscription
	closes int
}

func (s *fakeSubscription) Close() error {
	s.closes++
	return nil
}

// fakeDriver hands out tokens the test resolves by hand.
type fakeDriver struct {
	transport.Driver
	nextID int64
	pubs   []*fakePending[transport.Publication]
	subs   []*fakePending[transport.Subscription]
	opts   transport.ConnectOptions
	closed bool
}

func (f *fakeDriver) ClientID() int64          { return 42 }
func (f *fakeDriver) NextCorrelationID() int64 { f.nextID++; return f.nextID }
func (f *fakeDriver) DoWork() (int, error)     { return 0, nil }
func (f *fakeDriver) IsClosed() bool           { return f.closed }

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

func (f *fakeDriver) AsyncAddPublication(channel string, streamID int32) (transport.PendingPublication, error) {
	p := &fakePending[transport.Publication]{id: f.NextCorrelationID()}
	f.pubs = append(f.pubs, p)
	return p, nil
}

func (f *fakeDriver) AsyncAddSubscription(channel string, streamID int32, onAvailable, onUnavailable transport.Callback[transport.ImageFunc]) (transport.PendingSubscription, error) {
	p := &fakePending[transport.Subscription]{id: f.NextCorrelationID()}
	f.subs = append(f.subs, p)
	return p, nil
}

func newFakeClient(t *testing.T) (*Client, *fakeDriver, *Context) {
	t.Helper()
	fd := &fakeDriver{}
	ctx := NewContext()
	if err := ctx.SetLogger(logging.Discard()); err != nil {
		t.Fatal(err)
	}
	if err := ctx.SetConnector(transport.ConnectorFunc(func(_ string, opts transport.ConnectOptions) (transport.Driver, error) {
		fd.opts = opts
		return fd, nil
	})); err != nil {
		t.Fatal(err)
	}
	c, err := NewClient(ctx)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		_ = ctx.Close()
	})
	return c, fd, ctx
}

func TestFindPollsPendingTokenOncePerCall(t *testing.T) {
	c, fd, _ := newFakeClient(t)

	id, err := c.AsyncAddPublication("aeron:ipc", 1)
	if err != nil {
		t.Fatal(err)
	}
	tok := fd.pubs[0]
	if tok.id != id {
		t.Fatalf("registration id = %d, want %d", id, tok.id)
	}

	for i := 1; i <= 3; i++ {
		pub, err := c.FindPublication(id)
		if pub != nil || err != nil {
			t.Fatalf("FindPublication while pending = %v, %v", pub, err)
		}
		if tok.polls != i {
			t.Fatalf("polls = %d, want %d", tok.polls, i)
		}
	}

	tok.result = &fakePublication{}
	pub, err := c.FindPublication(id)
	if err != nil || pub == nil {
		t.Fatalf("FindPublication after resolve = %v, %v", pub, err)
	}
	if pub.RegistrationID() != id {
		t.Errorf("RegistrationID = %d, want %d", pub.RegistrationID(), id)
	}

	for i := 0; i < 3; i++ {
		again, err := c.FindPublication(id)
		if err != nil || again != pub {
			t.Fatalf("FindPublication when ready = %v, %v", again, err)
		}
	}
	if tok.polls != 4 {
		t.Errorf("ready registration polled again: polls = %d, want 4", tok.polls)
	}
	if state, err := c.PollReady(id); state != StateReady || err != nil {
		t.Errorf("PollReady = %v, %v, want ready", state, err)
	}
}

func TestFailedRegistrationIsForgotten(t *testing.T) {
	c, fd, _ := newFakeClient(t)

	id, _ := c.AsyncAddPublication("aeron:ipc", 1)
	cause := &transport.Error{Code: transport.ErrorCodeInvalidChannel, Message: "bad channel"}
	fd.pubs[0].err = cause

	_, err := c.FindPublication(id)
	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("FindPublication error = %v, want *RegistrationError", err)
	}
	if regErr.ID != id || regErr.Kind != KindPublication {
		t.Errorf("RegistrationError = %+v", regErr)
	}
	var terr *transport.Error
	if !errors.As(err, &terr) || terr.Code != transport.ErrorCodeInvalidChannel {
		t.Errorf("cause = %v", err)
	}

	if _, err := c.FindPublication(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second FindPublication error = %v, want ErrNotFound", err)
	}
	if fd.pubs[0].polls != 1 {
		t.Errorf("polls = %d, want 1", fd.pubs[0].polls)
	}
}

func TestPollReadyStates(t *testing.T) {
	c, fd, _ := newFakeClient(t)

	if _, err := c.PollReady(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("PollReady(unknown) error = %v", err)
	}

	id, _ := c.AsyncAddSubscription("aeron:ipc", 1, nil, nil)
	if state, err := c.PollReady(id); state != StatePending || err != nil {
		t.Fatalf("PollReady = %v, %v, want pending", state, err)
	}
	fd.subs[0].err = errors.New("refused")
	if state, err := c.PollReady(id); state != StateFailed || err == nil {
		t.Fatalf("PollReady = %v, %v, want failed", state, err)
	}
	if _, err := c.PollReady(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("PollReady after failure error = %v", err)
	}
}

func TestPendingResourceRejectsDataPlane(t *testing.T) {
	c, _, _ := newFakeClient(t)
	id, _ := c.AsyncAddPublication("aeron:ipc", 1)
	pub := c.publications[id]

	if _, err := pub.Offer([]byte("x")); !errors.Is(err, ErrNotReady) {
		t.Errorf("Offer error = %v, want ErrNotReady", err)
	}
	if _, err := pub.TryClaim(1); !errors.Is(err, ErrNotReady) {
		t.Errorf("TryClaim error = %v, want ErrNotReady", err)
	}
	if pub.IsClosed() || pub.IsConnected() {
		t.Error("pending publication reported closed or connected")
	}
	if pub.ChannelStatus() != transport.ChannelStatusInitializing {
		t.Errorf("ChannelStatus = %d", pub.ChannelStatus())
	}
}

func TestCloseOrderAndAbandon(t *testing.T) {
	c, fd, ctx := newFakeClient(t)

	readyID, _ := c.AsyncAddPublication("aeron:ipc", 1)
	native := &fakePublication{}
	fd.pubs[0].result = native
	pub, err := c.FindPublication(readyID)
	if err != nil || pub == nil {
		t.Fatalf("FindPublication = %v, %v", pub, err)
	}

	before := handles.Count()
	pendingID, _ := c.AsyncAddSubscription("aeron:ipc", 1,
		AvailableImageHandlerFunc(func(*Subscription, *BorrowedImage) {}),
		UnavailableImageHandlerFunc(func(*Subscription, *BorrowedImage) {}))
	if got := handles.Count(); got != before+2 {
		t.Fatalf("handles = %d, want %d", got, before+2)
	}

	if err := ctx.SetClientName("late"); !errors.Is(err, ErrContextInUse) {
		t.Errorf("SetClientName error = %v, want ErrContextInUse", err)
	}
	if err := ctx.Close(); !errors.Is(err, ErrContextInUse) {
		t.Errorf("Context.Close error = %v, want ErrContextInUse", err)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if native.closes != 1 || !fd.closed {
		t.Errorf("native closes = %d, driver closed = %v", native.closes, fd.closed)
	}
	if !pub.IsClosed() {
		t.Error("publication not closed")
	}
	if got := handles.Count(); got != before {
		t.Errorf("handles after close = %d, want %d", got, before)
	}
	if fd.subs[0].polls != 0 {
		t.Errorf("abandoned registration polled %d times", fd.subs[0].polls)
	}
	if _, err := c.FindSubscription(pendingID); !errors.Is(err, ErrClientClosed) {
		t.Errorf("FindSubscription error = %v, want ErrClientClosed", err)
	}
	if _, err := pub.Offer([]byte("x")); !errors.Is(err, ErrPublicationClosed) {
		t.Errorf("Offer after close error = %v, want ErrPublicationClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := ctx.Close(); err != nil {
		t.Errorf("Context.Close: %v", err)
	}
	if err := ctx.SetClientName("x"); !errors.Is(err, ErrContextClosed) {
		t.Errorf("SetClientName after close error = %v", err)
	}
	if _, err := NewClient(ctx); !errors.Is(err, ErrContextClosed) {
		t.Errorf("NewClient on closed context error = %v", err)
	}
}

func TestPublicationCloseRemovesFromRegistry(t *testing.T) {
	c, fd, _ := newFakeClient(t)
	id, _ := c.AsyncAddPublication("aeron:ipc", 1)
	native := &fakePublication{}
	fd.pubs[0].result = native
	pub, _ := c.FindPublication(id)

	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}
	if native.closes != 1 {
		t.Errorf("native closes = %d, want 1", native.closes)
	}
	if _, err := c.FindPublication(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindPublication after close error = %v, want ErrNotFound", err)
	}
}

func TestNilLoggerReadsAsDiscard(t *testing.T) {
	fd := &fakeDriver{}
	ctx := NewContext()
	_ = ctx.SetLogger(nil)
	_ = ctx.SetConnector(transport.ConnectorFunc(func(_ string, opts transport.ConnectOptions) (transport.Driver, error) {
		fd.opts = opts
		return fd, nil
	}))
	if ctx.Logger() == nil {
		t.Fatal("Logger() = nil after SetLogger(nil)")
	}
	c, err := NewClient(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()
	defer c.Close()

	cb := fd.opts.OnError
	cb.Fn(cb.Clientd, 3, "boom")
}

func TestNewClientWithoutConnector(t *testing.T) {
	ctx := NewContext()
	_ = ctx.SetConnector(nil)
	if _, err := NewClient(ctx); !errors.Is(err, ErrNoConnector) {
		t.Fatalf("NewClient error = %v, want ErrNoConnector", err)
	}
	if err := ctx.Close(); err != nil {
		t.Errorf("Close after failed NewClient: %v", err)
	}
}

func TestContextHandlersPassedToTransport(t *testing.T) {
	var got []int32
	fd := &fakeDriver{}
	ctx := NewContext()
	_ = ctx.SetLogger(logging.Discard())
	_ = ctx.SetClientName("tester")
	_ = ctx.SetErrorHandler(ErrorHandlerFunc(func(code int32, _ string) { got = append(got, code) }))
	_ = ctx.SetConnector(transport.ConnectorFunc(func(_ string, opts transport.ConnectOptions) (transport.Driver, error) {
		fd.opts = opts
		return fd, nil
	}))
	c, err := NewClient(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()
	defer c.Close()

	if fd.opts.ClientName != "tester" {
		t.Errorf("ClientName = %q", fd.opts.ClientName)
	}
	cb := fd.opts.OnError
	cb.Fn(cb.Clientd, 7, "boom")
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("error codes = %v, want [7]", got)
	}

	misses := handles.Misses()
	cb.Fn(0, 7, "stale")
	if handles.Misses() != misses+1 {
		t.Error("unknown clientd not counted as a miss")
	}
	if len(got) != 1 {
		t.Error("unknown clientd reached a handler")
	}
}
