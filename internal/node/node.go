package node

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/gezibash/arc-conduit/internal/config"
	"github.com/gezibash/arc-conduit/internal/filter"
	"github.com/gezibash/arc-conduit/internal/observability"
	"github.com/gezibash/arc-conduit/internal/recording"
	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/pkg/client"
	"github.com/gezibash/arc-conduit/pkg/driver"
	"github.com/gezibash/arc-conduit/pkg/logging"
)

const (
	// MinMessageLength fits the sequence number and send timestamp.
	MinMessageLength = 16

	fragmentLimit = 64
)

// offerer is the part of a shared or exclusive publication the node uses.
type offerer interface {
	Offer(buffer []byte) (int64, error)
	SessionID() int32
	Close() error
}

// Node runs an embedded driver and one client carrying a stream from N
// publishers to a single subscriber. All client calls happen on the
// goroutine running Run; Snapshot and Probe may be called from anywhere.
type Node struct {
	cfg config.StreamConfig
	log *logging.Logger

	engine

	pubs     []offerer
	sub      *client.Subscription
	assembly *client.FragmentAssembler
	filter   *filter.Handler

	recorder *recording.Recorder
	backend  physical.Backend

	payload []byte
	seq     int64
	started atomic.Int64

	images        atomic.Int64
	sent          atomic.Int64
	received      atomic.Int64
	bytesSent     atomic.Int64
	backPressured atomic.Int64
	notConnected  atomic.Int64
	adminActions  atomic.Int64
	latencySum    atomic.Int64
	latencyCount  atomic.Int64
	latencyMax    atomic.Int64
	lastLatency   atomic.Int64
	running       atomic.Bool
}

// Deps are the process-wide services a node records into.
type Deps struct {
	Logger         *logging.Logger
	Metrics        *observability.Metrics
	TracerProvider trace.TracerProvider
}

// New launches the driver, connects a client and registers the stream's
// publications and subscription. It fails if the stream filter does not
// compile or the recording backend cannot be opened.
func New(ctx context.Context, cfg config.Config, deps Deps) (_ *Node, err error) {
	stream := cfg.Stream
	if stream.Publishers < 1 {
		return nil, fmt.Errorf("stream.publishers: must be at least 1, got %d", stream.Publishers)
	}
	if stream.MessageLength < MinMessageLength {
		stream.MessageLength = MinMessageLength
	}
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithComponent("node").WithStream(stream.Channel, stream.StreamID)

	f, err := compileFilter(stream.Filter)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     stream,
		log:     log,
		payload: make([]byte, stream.MessageLength),
	}
	defer func() {
		if err != nil {
			_ = n.Close()
		}
	}()

	if err := n.start(cfg, deps, log); err != nil {
		return nil, err
	}

	var next client.FragmentHandler = client.FragmentHandlerFunc(n.onMessage)
	if cfg.Recording.Enabled {
		if n.backend, err = NewRecordingBackend(ctx, cfg.Recording, deps.Metrics, log); err != nil {
			return nil, err
		}
		if n.recorder, err = recording.NewRecorder(ctx, n.backend, stream.Channel, log); err != nil {
			return nil, err
		}
		next = tee{next, n.recorder}
	}
	n.filter = filter.NewHandler(f, next)
	n.assembly = client.NewFragmentAssembler(n.filter, stream.MessageLength)

	n.sub, err = n.client.AddSubscription(ctx, stream.Channel, stream.StreamID,
		client.AvailableImageHandlerFunc(n.onAvailable),
		client.UnavailableImageHandlerFunc(n.onUnavailable))
	if err != nil {
		return nil, fmt.Errorf("add subscription: %w", err)
	}

	for range stream.Publishers {
		var pub offerer
		if stream.Exclusive {
			pub, err = n.client.AddExclusivePublication(ctx, stream.Channel, stream.StreamID)
		} else {
			pub, err = n.client.AddPublication(ctx, stream.Channel, stream.StreamID)
		}
		if err != nil {
			return nil, fmt.Errorf("add publication: %w", err)
		}
		n.pubs = append(n.pubs, pub)
	}

	log.Info("node started",
		"driver_id", n.driver.ID().String(),
		"publishers", len(n.pubs),
		"exclusive", stream.Exclusive,
		"filter", stream.Filter,
		"recording", cfg.Recording.Enabled,
	)
	return n, nil
}

// engine is an embedded driver and the one client connected to it.
type engine struct {
	driver *driver.Driver
	cctx   *client.Context
	client *client.Client
}

// start launches the driver and connects the client. On failure the caller
// must still call close to release what was started.
func (e *engine) start(cfg config.Config, deps Deps, log *logging.Logger) error {
	dcfg, err := cfg.ToDriverConfig(log)
	if err != nil {
		return err
	}
	if e.driver, err = driver.Launch(dcfg); err != nil {
		return fmt.Errorf("launch driver: %w", err)
	}

	if e.cctx, err = cfg.ToContext(log); err != nil {
		return err
	}
	if deps.Metrics != nil {
		if err := errors.Join(
			e.cctx.SetMetrics(deps.Metrics.Client),
			e.cctx.SetErrorHandler(deps.Metrics.ErrorHandler(log)),
		); err != nil {
			return fmt.Errorf("configure client context: %w", err)
		}
	}
	if deps.TracerProvider != nil {
		if err := e.cctx.SetTracerProvider(deps.TracerProvider); err != nil {
			return fmt.Errorf("configure client context: %w", err)
		}
	}
	if e.client, err = client.NewClient(e.cctx); err != nil {
		return fmt.Errorf("connect client: %w", err)
	}
	return nil
}

func (e *engine) close() error {
	var errs []error
	if e.client != nil {
		errs = append(errs, e.client.Close())
		e.client = nil
	}
	if e.cctx != nil {
		errs = append(errs, e.cctx.Close())
		e.cctx = nil
	}
	if e.driver != nil {
		errs = append(errs, e.driver.Close())
	}
	return errors.Join(errs...)
}

func compileFilter(expr string) (*filter.Filter, error) {
	if expr == "" {
		return nil, nil
	}
	f, err := filter.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("stream.filter: %w", err)
	}
	return f, nil
}

// tee delivers every fragment to each handler in turn.
type tee []client.FragmentHandler

func (t tee) OnFragment(buffer []byte, header *client.Header) {
	for _, h := range t {
		h.OnFragment(buffer, header)
	}
}

func (n *Node) onAvailable(_ *client.Subscription, img *client.BorrowedImage) {
	n.images.Add(1)
	n.log.WithSession(img.SessionID()).Debug("image available", "join_position", img.JoinPosition())
}

func (n *Node) onUnavailable(sub *client.Subscription, img *client.BorrowedImage) {
	n.images.Add(-1)
	n.assembly.OnUnavailableImage(sub, img)
	n.log.WithSession(img.SessionID()).Debug("image unavailable", "position", img.Position())
}

func (n *Node) onMessage(buffer []byte, _ *client.Header) {
	n.received.Add(1)
	if len(buffer) < MinMessageLength {
		return
	}
	sentAt := int64(binary.BigEndian.Uint64(buffer[8:16]))
	lat := time.Now().UnixNano() - sentAt
	if lat < 0 {
		return
	}
	n.lastLatency.Store(lat)
	n.latencySum.Add(lat)
	n.latencyCount.Add(1)
	if lat > n.latencyMax.Load() {
		n.latencyMax.Store(lat)
	}
}

// Run drives the client duty cycle until ctx is done: it offers one message
// per publisher at the configured rate, polls the subscription and sleeps
// when idle. It returns nil when ctx ends.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return errors.New("node already running")
	}
	defer n.running.Store(false)

	idle := n.cctx.IdleSleep()
	if idle <= 0 {
		idle = client.DefaultIdleSleep
	}
	var interval time.Duration
	if n.cfg.Rate > 0 {
		interval = time.Second / time.Duration(n.cfg.Rate)
	}

	next := time.Now()
	n.started.CompareAndSwap(0, next.UnixNano())
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		work, err := n.client.DoWork()
		if err != nil {
			return fmt.Errorf("client duty cycle: %w", err)
		}

		if now := time.Now(); interval == 0 || !now.Before(next) {
			sent, err := n.offerAll(now)
			if err != nil {
				return err
			}
			work += sent
			if interval > 0 {
				next = next.Add(interval)
				// Do not burst to catch up after a stall.
				if now.Sub(next) > time.Second {
					next = now
				}
			}
		}

		polled, err := n.sub.Poll(n.assembly, fragmentLimit)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		work += polled

		if work == 0 {
			timer.Reset(idle)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
		}
	}
}

// offerAll offers one message from every publisher. Transient rejections are
// counted, not returned.
func (n *Node) offerAll(now time.Time) (int, error) {
	sent := 0
	for _, pub := range n.pubs {
		binary.BigEndian.PutUint64(n.payload[0:8], uint64(n.seq+1))
		binary.BigEndian.PutUint64(n.payload[8:16], uint64(now.UnixNano()))
		_, err := pub.Offer(n.payload)
		switch {
		case err == nil:
			n.seq++
			sent++
			n.sent.Add(1)
			n.bytesSent.Add(int64(len(n.payload)))
		case errors.Is(err, client.ErrBackPressured):
			n.backPressured.Add(1)
		case errors.Is(err, client.ErrNotConnected):
			n.notConnected.Add(1)
		case errors.Is(err, client.ErrAdminAction):
			n.adminActions.Add(1)
		default:
			return sent, fmt.Errorf("offer on session %d: %w", pub.SessionID(), err)
		}
	}
	return sent, nil
}

// Snapshot is a point-in-time view of a node's traffic. Received counts
// messages that passed the filter; Filtered counts the rest.
type Snapshot struct {
	Channel       string
	StreamID      int32
	Publishers    int
	Images        int64
	Sent          int64
	Received      int64
	BytesSent     int64
	BackPressured int64
	NotConnected  int64
	AdminActions  int64
	Filtered      int64
	Recorded      int64
	RunID         string
	LastLatency   time.Duration
	MeanLatency   time.Duration
	MaxLatency    time.Duration
	Elapsed       time.Duration
	Driver        driver.Stats
}

// Rate returns messages received per second since Run first started.
func (s Snapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Received) / s.Elapsed.Seconds()
}

// Snapshot returns the current counters.
func (n *Node) Snapshot() Snapshot {
	s := Snapshot{
		Channel:       n.cfg.Channel,
		StreamID:      n.cfg.StreamID,
		Publishers:    n.cfg.Publishers,
		Images:        n.images.Load(),
		Sent:          n.sent.Load(),
		Received:      n.received.Load(),
		BytesSent:     n.bytesSent.Load(),
		BackPressured: n.backPressured.Load(),
		NotConnected:  n.notConnected.Load(),
		AdminActions:  n.adminActions.Load(),
		LastLatency:   time.Duration(n.lastLatency.Load()),
		MaxLatency:    time.Duration(n.latencyMax.Load()),
	}
	if n.filter != nil {
		s.Filtered = n.filter.Dropped()
	}
	if n.recorder != nil {
		s.Recorded = n.recorder.Recorded()
		s.RunID = n.recorder.RunID()
	}
	if count := n.latencyCount.Load(); count > 0 {
		s.MeanLatency = time.Duration(n.latencySum.Load() / count)
	}
	if started := n.started.Load(); started != 0 {
		s.Elapsed = time.Duration(time.Now().UnixNano() - started)
	}
	if n.driver != nil {
		s.Driver = n.driver.Stats()
	}
	return s
}

// Driver returns the embedded driver, for metrics export.
func (n *Node) Driver() *driver.Driver { return n.driver }

// Recorder returns the active recorder, or nil when recording is off.
func (n *Node) Recorder() *recording.Recorder { return n.recorder }

// Probe reports whether the driver is up and recording has not failed.
func (n *Node) Probe() error {
	if n.driver == nil || n.driver.IsClosed() {
		return errors.New("driver closed")
	}
	if n.recorder != nil {
		if err := n.recorder.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases publications, the subscription, the client, the driver and
// the recording backend, in that order. It must not race with Run.
func (n *Node) Close() error {
	var errs []error
	for _, pub := range n.pubs {
		errs = append(errs, pub.Close())
	}
	n.pubs = nil
	if n.sub != nil {
		errs = append(errs, n.sub.Close())
		n.sub = nil
	}
	errs = append(errs, n.engine.close())
	if n.backend != nil {
		errs = append(errs, n.backend.Close())
		n.backend = nil
	}
	n.log.Info("node stopped", slog.Int64("sent", n.sent.Load()), slog.Int64("received", n.received.Load()))
	return errors.Join(errs...)
}

// Live reports whether the subscriber has at least one image.
func (s Snapshot) Live() bool {
	return s.Images > 0
}
