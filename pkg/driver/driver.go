// Package driver is an embedded, in-process transport engine. It serves the
// transport ABI to any number of clients in the same process, each of which
// drives it through its own DoWork calls.
package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gezibash/arc-conduit/pkg/logging"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

var (
	// ErrDriverActive is returned by Launch when dir already has a driver.
	ErrDriverActive = errors.New("driver already active")

	// ErrNoDriver is returned by Connect when dir has no driver.
	ErrNoDriver = errors.New("no active driver")
)

// Defaults for Config fields left at their zero value.
const (
	DefaultTermBufferLength      = 1024 * 1024
	DefaultMTU                   = 1408
	DefaultClientLivenessTimeout = 10 * time.Second
	DefaultIdleSleep             = time.Millisecond
)

// DefaultDir returns the directory drivers register under when none is configured.
func DefaultDir() string { return transport.DefaultDir() }

// Config configures an embedded driver.
type Config struct {
	Dir                   string
	TermBufferLength      int
	PublicationWindow     int
	MTU                   int
	ClientLivenessTimeout time.Duration
	MappedLogBuffers      bool
	IdleSleep             time.Duration
	Logger                *logging.Logger
}

func (c *Config) setDefaults() {
	if c.Dir == "" {
		c.Dir = DefaultDir()
	}
	if c.TermBufferLength == 0 {
		c.TermBufferLength = DefaultTermBufferLength
	}
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.ClientLivenessTimeout == 0 {
		c.ClientLivenessTimeout = DefaultClientLivenessTimeout
	}
	if c.IdleSleep == 0 {
		c.IdleSleep = DefaultIdleSleep
	}
	if c.Logger == nil {
		c.Logger = logging.New(nil)
	}
}

type streamKey struct {
	channel  string
	streamID int32
}

type counters struct {
	bytesPublished     atomic.Int64
	fragmentsDelivered atomic.Int64
	backPressured      atomic.Int64
	notConnected       atomic.Int64
	adminActions       atomic.Int64
	clientTimeouts     atomic.Int64
}

// Stats is a point-in-time view of driver activity.
type Stats struct {
	Clients            int
	Publications       int
	Subscriptions      int
	Images             int
	Logs               int
	BytesPublished     int64
	FragmentsDelivered int64
	BackPressured      int64
	NotConnected       int64
	AdminActions       int64
	ClientTimeouts     int64
}

// Driver owns every log and routes publications to subscriptions.
type Driver struct {
	cfg   Config
	id    uuid.UUID
	log   *logging.Logger
	stats counters

	correlationID atomic.Int64

	mu            sync.Mutex
	clients       map[int64]*conductor
	sharedLogs    map[streamKey]*logBuffer
	logs          map[*logBuffer]struct{}
	subscriptions map[int64]*subscription
	nextSessionID int32
	closed        bool
	agentCancel   context.CancelFunc
	agentDone     chan struct{}
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Driver)
)

// Launch starts a driver and registers it under cfg.Dir.
func Launch(cfg Config) (*Driver, error) {
	cfg.setDefaults()
	if err := ValidateTermLength(cfg.TermBufferLength); err != nil {
		return nil, err
	}
	if err := ValidateMTU(cfg.MTU); err != nil {
		return nil, err
	}

	key := filepath.Clean(cfg.Dir)
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverActive, key)
	}

	if cfg.MappedLogBuffers {
		if err := os.MkdirAll(filepath.Join(key, "publications"), 0o755); err != nil {
			return nil, fmt.Errorf("create driver dir: %w", err)
		}
	}

	id := uuid.New()
	d := &Driver{
		cfg:           cfg,
		id:            id,
		log:           cfg.Logger.WithComponent("driver"),
		clients:       make(map[int64]*conductor),
		sharedLogs:    make(map[streamKey]*logBuffer),
		logs:          make(map[*logBuffer]struct{}),
		subscriptions: make(map[int64]*subscription),
		nextSessionID: rand.Int32(),
	}
	d.correlationID.Store(rand.Int64N(1 << 32))
	registry[key] = d

	d.log.Info("driver launched", "dir", key, "driver_id", id.String(),
		"term_length", cfg.TermBufferLength, "mtu", cfg.MTU, "mapped", cfg.MappedLogBuffers)
	return d, nil
}

// Connect returns a new client connection to the driver registered under dir.
func Connect(dir string, opts transport.ConnectOptions) (transport.Driver, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	registryMu.Lock()
	d, ok := registry[filepath.Clean(dir)]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDriver, dir)
	}
	return d.Connect(opts)
}

// Connector connects through the process-wide driver registry.
var Connector transport.Connector = transport.ConnectorFunc(Connect)

func init() { transport.RegisterDefaultConnector(Connector) }

// Connect returns a new client connection to d.
func (d *Driver) Connect(opts transport.ConnectOptions) (transport.Driver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: %s", ErrNoDriver, d.cfg.Dir)
	}
	c := &conductor{
		d:    d,
		id:   d.nextCorrelationID(),
		opts: opts,
	}
	c.log = d.log.WithCorrelation(c.id)
	if opts.ClientName != "" {
		c.log = c.log.WithComponent(opts.ClientName)
	}
	c.lastActive.Store(time.Now().UnixNano())
	d.clients[c.id] = c
	if !opts.UseAgentInvoker {
		d.startAgentLocked()
	}
	c.log.Debug("client connected", "agent_invoker", opts.UseAgentInvoker)
	return c, nil
}

// ID returns the driver's instance id.
func (d *Driver) ID() uuid.UUID { return d.id }

// Dir returns the directory the driver is registered under.
func (d *Driver) Dir() string { return d.cfg.Dir }

// IsClosed reports whether Close has run.
func (d *Driver) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) nextCorrelationID() int64 {
	return d.correlationID.Add(1)
}

// DoWork runs housekeeping without serving any particular client.
func (d *Driver) DoWork() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	return d.houseKeepLocked(time.Now())
}

// Run calls DoWork until ctx is done, sleeping when there is nothing to do.
func (d *Driver) Run(ctx context.Context) error {
	t := time.NewTimer(d.cfg.IdleSleep)
	defer t.Stop()
	for {
		if d.DoWork() == 0 {
			t.Reset(d.cfg.IdleSleep)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// startAgentLocked runs housekeeping on a goroutine of its own for clients that
// do not invoke it from DoWork.
func (d *Driver) startAgentLocked() {
	if d.agentCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.agentCancel, d.agentDone = cancel, done
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	d.log.Debug("driver agent started")
}

// Stats returns current counters and gauges.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	s := Stats{
		Clients:       len(d.clients),
		Subscriptions: len(d.subscriptions),
		Logs:          len(d.logs),
	}
	for l := range d.logs {
		s.Publications += l.publications
		s.Images += len(l.images)
	}
	d.mu.Unlock()

	s.BytesPublished = d.stats.bytesPublished.Load()
	s.FragmentsDelivered = d.stats.fragmentsDelivered.Load()
	s.BackPressured = d.stats.backPressured.Load()
	s.NotConnected = d.stats.notConnected.Load()
	s.AdminActions = d.stats.adminActions.Load()
	s.ClientTimeouts = d.stats.clientTimeouts.Load()
	return s
}

// Close unregisters the driver and drops every connected client. Logs still
// referenced by a client are unmapped when that client closes.
func (d *Driver) Close() error {
	registryMu.Lock()
	if registry[filepath.Clean(d.cfg.Dir)] == d {
		delete(registry, filepath.Clean(d.cfg.Dir))
	}
	registryMu.Unlock()

	d.mu.Lock()
	cancel, done := d.agentCancel, d.agentDone
	d.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	for _, c := range d.clients {
		d.failClientLocked(c, &transport.Error{Code: transport.ErrorCodeDriverClosed, Message: "driver has been closed"})
	}

	var errs []error
	for l := range d.logs {
		if l.refs == 0 {
			errs = append(errs, d.removeLogLocked(l))
		}
	}
	d.log.Info("driver closed", "driver_id", d.id.String())
	return errors.Join(errs...)
}

func (d *Driver) houseKeepLocked(now time.Time) int {
	work := 0
	deadline := now.Add(-d.cfg.ClientLivenessTimeout).UnixNano()
	for _, c := range d.clients {
		if c.failure == nil && c.lastActive.Load() < deadline {
			d.stats.clientTimeouts.Add(1)
			c.log.Warn("client timed out", "timeout", d.cfg.ClientLivenessTimeout)
			d.failClientLocked(c, &transport.Error{
				Code:    transport.ErrorCodeClientTimeout,
				Message: fmt.Sprintf("client timeout from driver after %s", d.cfg.ClientLivenessTimeout),
			})
			work++
		}
	}

	for l := range d.logs {
		if l.eos.Load() {
			work += d.drainLocked(l)
		}
		l.updateLimit()
	}
	return work
}

// drainLocked retires images that have consumed a closed log to its end.
func (d *Driver) drainLocked(l *logBuffer) int {
	work := 0
	eos := l.eosPosition.Load()
	kept := l.images[:0]
	for _, img := range l.images {
		if img.position.Load() < eos {
			kept = append(kept, img)
			continue
		}
		img.detached = true
		img.sub.c.events = append(img.sub.c.events, event{kind: evUnavailableImage, sub: img.sub, img: img})
		work++
	}
	clear(l.images[len(kept):])
	l.images = kept
	return work
}

// failClientLocked drops a client. Its handles stop working at once, but the
// memory they reference stays mapped until the client closes them.
func (d *Driver) failClientLocked(c *conductor, err *transport.Error) {
	if c.failure != nil {
		return
	}
	c.failure = err
	c.events = append(c.events, event{kind: evError, err: err})
	for _, p := range c.pubs {
		d.closePublicationLocked(p, false)
	}
	for _, s := range c.subs {
		d.closeSubscriptionLocked(s, false)
	}
}
