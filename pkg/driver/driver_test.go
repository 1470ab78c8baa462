package driver

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gezibash/arc-conduit/pkg/logging"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

const testTermLength = 64 * 1024

func newTestDriver(t *testing.T, cfg Config) *Driver {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(t.TempDir(), "driver")
	}
	if cfg.TermBufferLength == 0 {
		cfg.TermBufferLength = testTermLength
	}
	cfg.Logger = logging.Discard()
	d, err := Launch(cfg)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func connect(t *testing.T, d *Driver, opts transport.ConnectOptions) transport.Driver {
	t.Helper()
	opts.UseAgentInvoker = true
	c, err := d.Connect(opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func await[T comparable](t *testing.T, c transport.Driver, poll func() (T, error)) T {
	t.Helper()
	var zero T
	for i := 0; i < 10; i++ {
		if _, err := c.DoWork(); err != nil {
			t.Fatalf("DoWork: %v", err)
		}
		v, err := poll()
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if v != zero {
			return v
		}
	}
	t.Fatal("registration did not resolve")
	return zero
}

func addPublication(t *testing.T, c transport.Driver, channel string, streamID int32) transport.Publication {
	t.Helper()
	p, err := c.AsyncAddPublication(channel, streamID)
	if err != nil {
		t.Fatalf("AsyncAddPublication: %v", err)
	}
	return await(t, c, p.Poll)
}

func addSubscription(t *testing.T, c transport.Driver, channel string, streamID int32, onAvailable, onUnavailable transport.Callback[transport.ImageFunc]) transport.Subscription {
	t.Helper()
	p, err := c.AsyncAddSubscription(channel, streamID, onAvailable, onUnavailable)
	if err != nil {
		t.Fatalf("AsyncAddSubscription: %v", err)
	}
	return await(t, c, p.Poll)
}

type collected struct {
	payloads [][]byte
	headers  []transport.Header
}

func (c *collected) handler() transport.Callback[transport.FragmentFunc] {
	return transport.Bind[transport.FragmentFunc](func(_ uintptr, buf []byte, h *transport.Header) {
		c.payloads = append(c.payloads, bytes.Clone(buf))
		c.headers = append(c.headers, *h)
	}, 0)
}

func noImage() transport.Callback[transport.ImageFunc] {
	return transport.Callback[transport.ImageFunc]{}
}

func noSupplier() transport.Callback[transport.ReservedValueFunc] {
	return transport.Callback[transport.ReservedValueFunc]{}
}

func TestLaunchAndConnectRegistry(t *testing.T) {
	d := newTestDriver(t, Config{})

	if _, err := Launch(Config{Dir: d.Dir(), Logger: logging.Discard()}); !errors.Is(err, ErrDriverActive) {
		t.Fatalf("second Launch error = %v, want ErrDriverActive", err)
	}
	if _, err := Connect(filepath.Join(t.TempDir(), "nowhere"), transport.ConnectOptions{}); !errors.Is(err, ErrNoDriver) {
		t.Fatalf("Connect error = %v, want ErrNoDriver", err)
	}

	c, err := Connect(d.Dir(), transport.ConnectOptions{UseAgentInvoker: true})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	if c.ClientID() == 0 {
		t.Error("ClientID() = 0")
	}
	if a, b := c.NextCorrelationID(), c.NextCorrelationID(); b <= a {
		t.Errorf("NextCorrelationID not increasing: %d then %d", a, b)
	}
}

func TestRegistrationResolvesOnDoWork(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})

	pending, err := c.AsyncAddPublication("test-channel", 7)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		pub, err := pending.Poll()
		if err != nil || pub != nil {
			t.Fatalf("Poll before DoWork = %v, %v, want nil, nil", pub, err)
		}
	}
	if _, err := c.DoWork(); err != nil {
		t.Fatal(err)
	}
	pub, err := pending.Poll()
	if err != nil || pub == nil {
		t.Fatalf("Poll after DoWork = %v, %v", pub, err)
	}
	if pub.RegistrationID() != pending.RegistrationID() {
		t.Errorf("RegistrationID = %d, want %d", pub.RegistrationID(), pending.RegistrationID())
	}
	if pub.StreamID() != 7 || pub.Channel() != "test-channel" {
		t.Errorf("got channel %q stream %d", pub.Channel(), pub.StreamID())
	}
}

func TestInvalidChannelRejectedSynchronously(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})

	for _, ch := range []string{"", "aeron:tcp?endpoint=x", "aeron:ipc?term-length=1000", "aeron:ipc?mtu"} {
		if _, err := c.AsyncAddPublication(ch, 1); !errors.Is(err, ErrInvalidChannel) {
			t.Errorf("AsyncAddPublication(%q) error = %v, want ErrInvalidChannel", ch, err)
		}
	}
}

func TestOfferNotConnectedUntilSubscribed(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "test-channel", 7)

	if pos, err := pub.Offer([]byte{1, 2, 3}, noSupplier()); pos != transport.NotConnected || err != nil {
		t.Fatalf("Offer without subscriber = %d, %v, want NotConnected", pos, err)
	}

	sub := addSubscription(t, c, "test-channel", 7, noImage(), noImage())
	if !pub.IsConnected() {
		t.Fatal("publication not connected after subscription")
	}
	pos, err := pub.Offer([]byte{1, 2, 3}, noSupplier())
	if err != nil || pos <= 0 {
		t.Fatalf("Offer = %d, %v, want positive position", pos, err)
	}

	var got collected
	n, err := sub.Poll(got.handler(), 10)
	if err != nil || n != 1 {
		t.Fatalf("Poll = %d, %v, want 1", n, err)
	}
	if !bytes.Equal(got.payloads[0], []byte{1, 2, 3}) {
		t.Errorf("payload = %v", got.payloads[0])
	}
	h := got.headers[0]
	if h.SessionID != pub.SessionID() || h.StreamID != 7 || h.Flags != transport.FlagsUnfragmented {
		t.Errorf("header = %+v", h)
	}
	if h.Position() != pos {
		t.Errorf("header position = %d, want %d", h.Position(), pos)
	}
}

func TestClaimCommitAndAbort(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "aeron:ipc", 1)
	sub := addSubscription(t, c, "aeron:ipc", 1, noImage(), noImage())

	var aborted transport.Claim
	if pos, err := pub.TryClaim(8, &aborted); pos < 0 || err != nil {
		t.Fatalf("TryClaim = %d, %v", pos, err)
	}
	copy(aborted.Data(), "skipped!")

	var got collected
	if n, _ := sub.Poll(got.handler(), 10); n != 0 {
		t.Fatalf("unresolved claim delivered %d fragments", n)
	}

	if err := transport.AbortClaim(&aborted); err != nil {
		t.Fatal(err)
	}

	var committed transport.Claim
	if pos, err := pub.TryClaim(8, &committed); pos < 0 || err != nil {
		t.Fatalf("TryClaim = %d, %v", pos, err)
	}
	copy(committed.Data(), "12345678")
	if err := transport.CommitClaim(&committed); err != nil {
		t.Fatal(err)
	}

	n, err := sub.Poll(got.handler(), 10)
	if err != nil || n != 1 {
		t.Fatalf("Poll = %d, %v, want 1", n, err)
	}
	if string(got.payloads[0]) != "12345678" {
		t.Errorf("payload = %q", got.payloads[0])
	}
}

func TestClaimLimits(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "aeron:ipc", 1)
	addSubscription(t, c, "aeron:ipc", 1, noImage(), noImage())

	var empty transport.Claim
	if pos, err := pub.TryClaim(0, &empty); pos < 0 || err != nil {
		t.Fatalf("TryClaim(0) = %d, %v", pos, err)
	}
	if len(empty.Data()) != 0 {
		t.Errorf("TryClaim(0) data length = %d", len(empty.Data()))
	}
	_ = transport.CommitClaim(&empty)

	var big transport.Claim
	pos, err := pub.TryClaim(pub.MaxPayloadLength()+1, &big)
	if pos != transport.PublicationError || err == nil {
		t.Fatalf("oversized TryClaim = %d, %v, want PublicationError", pos, err)
	}
	if big.Frame != nil {
		t.Error("oversized TryClaim populated the claim")
	}
}

func TestBackPressureReleasedByConsumption(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "aeron:ipc", 2)
	sub := addSubscription(t, c, "aeron:ipc", 2, noImage(), noImage())

	msg := make([]byte, 1024)
	sent := 0
	for {
		pos, err := pub.Offer(msg, noSupplier())
		if err != nil {
			t.Fatal(err)
		}
		if pos == transport.BackPressured {
			break
		}
		if pos < 0 {
			t.Fatalf("unexpected result %d", pos)
		}
		sent++
	}
	if sent == 0 || sent > testTermLength/2/1024+1 {
		t.Fatalf("sent %d messages before back pressure", sent)
	}

	var got collected
	for received := 0; received < sent; {
		n, err := sub.Poll(got.handler(), 100)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			t.Fatalf("stalled after %d of %d", received, sent)
		}
		received += n
	}

	if pos, _ := pub.Offer(msg, noSupplier()); pos != transport.BackPressured {
		t.Fatalf("limit moved before DoWork: %d", pos)
	}
	if _, err := c.DoWork(); err != nil {
		t.Fatal(err)
	}
	if pos, _ := pub.Offer(msg, noSupplier()); pos < 0 {
		t.Fatalf("Offer after consumption = %d", pos)
	}
	if d.Stats().BackPressured == 0 {
		t.Error("back pressure not counted")
	}
}

// streamInOrder offers total messages of the given length on a fresh stream,
// consuming whenever the publisher is back pressured, and checks that every
// message arrives once and in order. It returns the number of admin actions.
func streamInOrder(t *testing.T, length, total int) int {
	t.Helper()
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "aeron:ipc", 3)
	sub := addSubscription(t, c, "aeron:ipc", 3, noImage(), noImage())

	var got collected
	adminActions := 0
	msg := make([]byte, length)
	for i := 0; i < total; {
		msg[0], msg[1] = byte(i), byte(i>>8)
		pos, err := pub.Offer(msg, noSupplier())
		if err != nil {
			t.Fatal(err)
		}
		switch {
		case pos >= 0:
			i++
		case pos == transport.AdminAction:
			adminActions++
		case pos == transport.BackPressured:
			if _, err := sub.Poll(got.handler(), 100); err != nil {
				t.Fatal(err)
			}
			if _, err := c.DoWork(); err != nil {
				t.Fatal(err)
			}
		default:
			t.Fatalf("unexpected result %d", pos)
		}
	}
	// a poll stops at the end of a term, so an empty read only means done once repeated
	for idle := 0; idle < 3; {
		n, err := sub.Poll(got.handler(), 100)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			idle++
		} else {
			idle = 0
		}
	}

	if len(got.payloads) != total {
		t.Fatalf("received %d, want %d", len(got.payloads), total)
	}
	for i, p := range got.payloads {
		if seq := int(p[0]) | int(p[1])<<8; seq != i {
			t.Fatalf("message %d has sequence %d", i, seq)
		}
	}
	return adminActions
}

func TestTermRotationPreservesOrder(t *testing.T) {
	// 300 bytes frame to 352, which does not divide the term, so every term
	// ends in padding.
	if adminActions := streamInOrder(t, 300, 1000); adminActions == 0 {
		t.Error("expected at least one term rotation")
	}
}

func TestExactFitTermsDeliverOnce(t *testing.T) {
	// 224 bytes frame to 256, which fills each term exactly; five terms' worth
	// wraps every partition at least once.
	total := 5 * testTermLength / 256
	if adminActions := streamInOrder(t, 224, total); adminActions != 0 {
		t.Errorf("adminActions = %d, want 0 for exact-fit frames", adminActions)
	}
}

func TestFragmentedMessage(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "aeron:ipc", 4)
	sub := addSubscription(t, c, "aeron:ipc", 4, noImage(), noImage())

	msg := make([]byte, 5000)
	for i := range msg {
		msg[i] = byte(i)
	}
	if pos, err := pub.OfferParts([][]byte{msg[:10], msg[10:4000], msg[4000:]}, noSupplier()); pos < 0 || err != nil {
		t.Fatalf("OfferParts = %d, %v", pos, err)
	}

	var got collected
	n, err := sub.Poll(got.handler(), 10)
	if err != nil {
		t.Fatal(err)
	}
	maxPayload := pub.MaxPayloadLength()
	want := (len(msg) + maxPayload - 1) / maxPayload
	if n != want {
		t.Fatalf("fragments = %d, want %d", n, want)
	}
	if got.headers[0].Flags != transport.FlagBegin {
		t.Errorf("first flags = %#x", got.headers[0].Flags)
	}
	if got.headers[n-1].Flags != transport.FlagEnd {
		t.Errorf("last flags = %#x", got.headers[n-1].Flags)
	}
	if joined := bytes.Join(got.payloads, nil); !bytes.Equal(joined, msg) {
		t.Error("reassembled payload mismatch")
	}

	huge := make([]byte, pub.MaxMessageLength()+1)
	if pos, err := pub.Offer(huge, noSupplier()); pos != transport.PublicationError || err == nil {
		t.Errorf("oversized Offer = %d, %v", pos, err)
	}
}

func TestReservedValueSupplier(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "aeron:ipc", 5)
	sub := addSubscription(t, c, "aeron:ipc", 5, noImage(), noImage())

	supplier := transport.Bind[transport.ReservedValueFunc](func(clientd uintptr, _ []byte, frameLength int) int64 {
		return int64(clientd)*1000 + int64(frameLength)
	}, 7)
	if pos, err := pub.Offer([]byte("abcd"), supplier); pos < 0 || err != nil {
		t.Fatalf("Offer = %d, %v", pos, err)
	}

	var got collected
	if _, err := sub.Poll(got.handler(), 1); err != nil {
		t.Fatal(err)
	}
	if rv := got.headers[0].ReservedValue; rv != 7000+36 {
		t.Errorf("reserved value = %d, want %d", rv, 7036)
	}
}

func TestMaxPositionExceeded(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})

	channel := "aeron:ipc?init-term-id=0|term-id=2147483647|term-offset=65472"
	pending, err := c.AsyncAddExclusivePublication(channel, 6)
	if err != nil {
		t.Fatal(err)
	}
	pub := await(t, c, pending.Poll)
	addSubscription(t, c, "aeron:ipc", 6, noImage(), noImage())

	if pos, err := pub.Offer(make([]byte, 8), noSupplier()); pos != int64(testTermLength)<<31 || err != nil {
		t.Fatalf("first Offer = %d, %v", pos, err)
	}
	if pos, _ := pub.Offer(make([]byte, 8), noSupplier()); pos != transport.MaxPositionExceeded {
		t.Fatalf("second Offer = %d, want MaxPositionExceeded", pos)
	}
}

func TestSharedAndExclusiveSessions(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})

	a := addPublication(t, c, "aeron:ipc", 8)
	b := addPublication(t, c, "aeron:ipc?term-length=64k", 8)
	if a.SessionID() != b.SessionID() {
		t.Errorf("shared publications have sessions %d and %d", a.SessionID(), b.SessionID())
	}
	if a.RegistrationID() == b.RegistrationID() {
		t.Error("shared publications share a registration id")
	}

	pending, err := c.AsyncAddExclusivePublication("aeron:ipc", 8)
	if err != nil {
		t.Fatal(err)
	}
	x := await(t, c, pending.Poll)
	if x.SessionID() == a.SessionID() {
		t.Error("exclusive publication reused a shared session")
	}

	mismatch, err := c.AsyncAddPublication("aeron:ipc?term-length=128k", 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.DoWork(); err != nil {
		t.Fatal(err)
	}
	var terr *transport.Error
	if _, err := mismatch.Poll(); !errors.As(err, &terr) || terr.Code != transport.ErrorCodeInvalidChannel {
		t.Errorf("mismatched term length error = %v", err)
	}
}

func TestImageLifecycle(t *testing.T) {
	d := newTestDriver(t, Config{})
	pubClient := connect(t, d, transport.ConnectOptions{})
	subClient := connect(t, d, transport.ConnectOptions{})

	var available, unavailable []int32
	onAvailable := transport.Bind[transport.ImageFunc](func(_ uintptr, _ transport.Subscription, img transport.Image) {
		available = append(available, img.SessionID())
	}, 0)
	onUnavailable := transport.Bind[transport.ImageFunc](func(_ uintptr, _ transport.Subscription, img transport.Image) {
		unavailable = append(unavailable, img.SessionID())
	}, 0)

	sub := addSubscription(t, subClient, "aeron:ipc", 9, onAvailable, onUnavailable)
	pub := addPublication(t, pubClient, "aeron:ipc", 9)
	if sub.ImageCount() != 0 {
		t.Fatal("image visible before subscriber DoWork")
	}
	if _, err := subClient.DoWork(); err != nil {
		t.Fatal(err)
	}
	if len(available) != 1 || available[0] != pub.SessionID() {
		t.Fatalf("available = %v", available)
	}

	img, ok := sub.ImageBySessionID(pub.SessionID())
	if !ok {
		t.Fatal("ImageBySessionID missing")
	}
	if err := sub.ReleaseImage(img); err != nil {
		t.Fatal(err)
	}
	if err := sub.ReleaseImage(img); err == nil {
		t.Error("second ReleaseImage succeeded")
	}
	if _, err := sub.ImageAtIndex(3); err == nil || err.Error() != "no image exists at index 3" {
		t.Errorf("ImageAtIndex(3) error = %v", err)
	}

	if pos, _ := pub.Offer([]byte("last"), noSupplier()); pos < 0 {
		t.Fatalf("Offer = %d", pos)
	}
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := subClient.DoWork(); err != nil {
		t.Fatal(err)
	}
	if len(unavailable) != 0 {
		t.Fatal("image retired before it was drained")
	}

	var got collected
	if n, _ := sub.Poll(got.handler(), 10); n != 1 {
		t.Fatalf("Poll = %d, want 1", n)
	}
	if _, err := subClient.DoWork(); err != nil {
		t.Fatal(err)
	}
	if len(unavailable) != 1 {
		t.Fatalf("unavailable = %v", unavailable)
	}
	if _, ok := sub.ImageBySessionID(pub.SessionID()); ok {
		t.Error("image still present after unavailable")
	}
	if d.Stats().Logs != 0 {
		t.Errorf("logs = %d after drain, want 0", d.Stats().Logs)
	}
}

func TestDestinations(t *testing.T) {
	d := newTestDriver(t, Config{})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "aeron:udp?control-mode=manual", 10)

	add, err := pub.AsyncAddDestination("aeron:udp?endpoint=localhost:40123")
	if err != nil {
		t.Fatal(err)
	}
	if ready, err := add.Poll(); ready || err != nil {
		t.Fatalf("destination ready before DoWork: %v, %v", ready, err)
	}
	await(t, c, add.Poll)

	remove, err := pub.AsyncRemoveDestination("aeron:udp?endpoint=localhost:40999")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.DoWork(); err != nil {
		t.Fatal(err)
	}
	var terr *transport.Error
	if _, err := remove.Poll(); !errors.As(err, &terr) || terr.Code != transport.ErrorCodeUnknownDestination {
		t.Errorf("remove unknown destination error = %v", err)
	}

	dynamic := addPublication(t, c, "aeron:ipc", 10)
	bad, err := dynamic.AsyncAddDestination("aeron:ipc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.DoWork(); err != nil {
		t.Fatal(err)
	}
	if _, err := bad.Poll(); !errors.As(err, &terr) || terr.Code != transport.ErrorCodeNotSupported {
		t.Errorf("destination on dynamic channel error = %v", err)
	}
}

func TestClientTimeout(t *testing.T) {
	d := newTestDriver(t, Config{ClientLivenessTimeout: 20 * time.Millisecond})

	var codes []int32
	onError := transport.Bind[transport.ErrorFunc](func(_ uintptr, code int32, _ string) {
		codes = append(codes, code)
	}, 0)
	slow := connect(t, d, transport.ConnectOptions{OnError: onError})
	pub := addPublication(t, slow, "aeron:ipc", 11)
	busy := connect(t, d, transport.ConnectOptions{})

	time.Sleep(50 * time.Millisecond)
	if _, err := busy.DoWork(); err != nil {
		t.Fatal(err)
	}
	if !pub.IsClosed() {
		t.Error("publication of timed out client still open")
	}

	_, err := slow.DoWork()
	if !errors.Is(err, ErrClientClosed) {
		t.Fatalf("DoWork error = %v, want ErrClientClosed", err)
	}
	if len(codes) != 1 || codes[0] != transport.ErrorCodeClientTimeout {
		t.Errorf("error callback codes = %v", codes)
	}
	if d.Stats().ClientTimeouts != 1 {
		t.Errorf("ClientTimeouts = %d", d.Stats().ClientTimeouts)
	}
}

func TestMappedLogBuffers(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" || runtime.GOOS == "js" {
		t.Skip("shared mappings unavailable")
	}
	d := newTestDriver(t, Config{MappedLogBuffers: true})
	c := connect(t, d, transport.ConnectOptions{})
	pub := addPublication(t, c, "aeron:ipc", 12)
	sub := addSubscription(t, c, "aeron:ipc", 12, noImage(), noImage())

	files, err := filepath.Glob(filepath.Join(d.Dir(), "publications", "*.logbuffer"))
	if err != nil || len(files) != 1 {
		t.Fatalf("log files = %v, %v", files, err)
	}
	if pos, _ := pub.Offer([]byte("mapped"), noSupplier()); pos < 0 {
		t.Fatalf("Offer = %d", pos)
	}
	var got collected
	if n, _ := sub.Poll(got.handler(), 1); n != 1 || string(got.payloads[0]) != "mapped" {
		t.Fatalf("Poll = %d %q", n, got.payloads)
	}

	_ = sub.Close()
	_ = pub.Close()
	if _, err := os.Stat(files[0]); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("log file still present: %v", err)
	}
}

func TestNotificationCallbacks(t *testing.T) {
	d := newTestDriver(t, Config{})

	var pubs, subs []int64
	c := connect(t, d, transport.ConnectOptions{
		OnNewPublication: transport.Bind[transport.NewPublicationFunc](func(_ uintptr, _ string, _, _ int32, id int64) {
			pubs = append(pubs, id)
		}, 0),
		OnNewSubscription: transport.Bind[transport.NewSubscriptionFunc](func(_ uintptr, _ string, _ int32, id int64) {
			subs = append(subs, id)
		}, 0),
	})
	pub := addPublication(t, c, "aeron:ipc", 13)
	sub := addSubscription(t, c, "aeron:ipc", 13, noImage(), noImage())

	if len(pubs) != 1 || pubs[0] != pub.RegistrationID() {
		t.Errorf("new publication ids = %v", pubs)
	}
	if len(subs) != 1 || subs[0] != sub.RegistrationID() {
		t.Errorf("new subscription ids = %v", subs)
	}
}

func TestAgentRunsHousekeeping(t *testing.T) {
	d := newTestDriver(t, Config{IdleSleep: time.Millisecond})
	c, err := d.Connect(transport.ConnectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	pending, err := c.AsyncAddPublication("aeron:ipc", 14)
	if err != nil {
		t.Fatal(err)
	}
	pub := await(t, c, pending.Poll)
	sp, err := c.AsyncAddSubscription("aeron:ipc", 14, noImage(), noImage())
	if err != nil {
		t.Fatal(err)
	}
	sub := await(t, c, sp.Poll)

	msg := make([]byte, 1024)
	for {
		pos, _ := pub.Offer(msg, noSupplier())
		if pos == transport.BackPressured {
			break
		}
	}
	var got collected
	for {
		n, _ := sub.Poll(got.handler(), 100)
		if n == 0 {
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pos, _ := pub.Offer(msg, noSupplier()); pos >= 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("agent never released back pressure")
}
