package client

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gezibash/arc-conduit/pkg/logging"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

const (
	DefaultDriverTimeout = 10 * time.Second
	DefaultIdleSleep     = time.Millisecond
)

// Context carries client configuration and the notification handlers shared
// by every Client created from it. Setters fail with ErrContextInUse while a
// client uses the context.
type Context struct {
	mu sync.Mutex

	dir             string
	clientName      string
	driverTimeout   time.Duration
	idleSleep       time.Duration
	useAgentInvoker bool
	connector       transport.Connector
	logger          *logging.Logger
	metrics         *Metrics
	tracerProvider  trace.TracerProvider

	onError           transport.Callback[transport.ErrorFunc]
	onNewPublication  transport.Callback[transport.NewPublicationFunc]
	onNewSubscription transport.Callback[transport.NewSubscriptionFunc]
	errorBinding      binding
	newPubBinding     binding
	newSubBinding     binding

	users  int
	closed bool
}

// NewContext returns a Context with defaults: the platform driver directory,
// the connector registered by the linked engine, and an error handler that
// logs.
func NewContext() *Context {
	c := &Context{
		dir:           transport.DefaultDir(),
		driverTimeout: DefaultDriverTimeout,
		idleSleep:     DefaultIdleSleep,
		connector:     transport.DefaultConnector(),
		logger:        logging.New(nil),
	}
	c.onError, c.errorBinding = bindError[ErrorHandler](logErrors{c})
	return c
}

// logErrors is the default error handler.
type logErrors struct{ ctx *Context }

func (l logErrors) OnError(code int32, message string) {
	l.ctx.Logger().Error("transport error", "code", code, "message", message)
}

func (c *Context) set(apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	if c.users > 0 {
		return ErrContextInUse
	}
	apply()
	return nil
}

// SetDir sets the directory the connector looks the engine up by.
func (c *Context) SetDir(dir string) error {
	return c.set(func() { c.dir = dir })
}

func (c *Context) SetClientName(name string) error {
	return c.set(func() { c.clientName = name })
}

// SetDriverTimeout bounds the blocking Add* helpers when their context has no deadline.
func (c *Context) SetDriverTimeout(d time.Duration) error {
	return c.set(func() { c.driverTimeout = d })
}

// SetIdleSleep sets the pause between DoWork calls in blocking helpers.
func (c *Context) SetIdleSleep(d time.Duration) error {
	return c.set(func() { c.idleSleep = d })
}

// SetUseAgentInvoker makes DoWork also run the engine duty cycle instead of
// a background goroutine.
func (c *Context) SetUseAgentInvoker(v bool) error {
	return c.set(func() { c.useAgentInvoker = v })
}

func (c *Context) SetConnector(conn transport.Connector) error {
	return c.set(func() { c.connector = conn })
}

func (c *Context) SetLogger(l *logging.Logger) error {
	return c.set(func() { c.logger = l })
}

func (c *Context) SetMetrics(m *Metrics) error {
	return c.set(func() { c.metrics = m })
}

func (c *Context) SetTracerProvider(tp trace.TracerProvider) error {
	return c.set(func() { c.tracerProvider = tp })
}

// SetErrorHandler replaces the error handler. The handler stays bound until
// the next replacement or Close.
func (c *Context) SetErrorHandler(h ErrorHandler) error {
	return c.set(func() {
		c.errorBinding.release()
		c.onError, c.errorBinding = transport.Callback[transport.ErrorFunc]{}, 0
		if h != nil {
			c.onError, c.errorBinding = bindError(h)
		}
	})
}

func (c *Context) SetNewPublicationHandler(h NewPublicationHandler) error {
	return c.set(func() {
		c.newPubBinding.release()
		c.onNewPublication, c.newPubBinding = transport.Callback[transport.NewPublicationFunc]{}, 0
		if h != nil {
			c.onNewPublication, c.newPubBinding = bindNewPublication(h)
		}
	})
}

func (c *Context) SetNewSubscriptionHandler(h NewSubscriptionHandler) error {
	return c.set(func() {
		c.newSubBinding.release()
		c.onNewSubscription, c.newSubBinding = transport.Callback[transport.NewSubscriptionFunc]{}, 0
		if h != nil {
			c.onNewSubscription, c.newSubBinding = bindNewSubscription(h)
		}
	})
}

func (c *Context) Dir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

func (c *Context) ClientName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientName
}

func (c *Context) DriverTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driverTimeout
}

func (c *Context) IdleSleep() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleSleep
}

func (c *Context) UseAgentInvoker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useAgentInvoker
}

// Logger returns the configured logger. A nil logger reads as one that
// discards.
func (c *Context) Logger() *logging.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggerLocked()
}

func (c *Context) loggerLocked() *logging.Logger {
	if c.logger == nil {
		return logging.Discard()
	}
	return c.logger
}

// acquire marks the context in use and snapshots what a client needs.
func (c *Context) acquire() (contextSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return contextSnapshot{}, ErrContextClosed
	}
	if c.connector == nil {
		return contextSnapshot{}, ErrNoConnector
	}
	c.users++
	tp := c.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return contextSnapshot{
		dir:       c.dir,
		connector: c.connector,
		logger:    c.loggerLocked(),
		metrics:   c.metrics,
		tracer:    tp.Tracer("github.com/gezibash/arc-conduit/pkg/client"),
		idleSleep: c.idleSleep,
		timeout:   c.driverTimeout,
		opts: transport.ConnectOptions{
			ClientName:        c.clientName,
			DriverTimeout:     c.driverTimeout,
			UseAgentInvoker:   c.useAgentInvoker,
			OnError:           c.onError,
			OnNewPublication:  c.onNewPublication,
			OnNewSubscription: c.onNewSubscription,
		},
	}, nil
}

func (c *Context) release() {
	c.mu.Lock()
	c.users--
	c.mu.Unlock()
}

// Close releases the handler bindings. It fails with ErrContextInUse while a
// client still uses the context and is a no-op when already closed.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.users > 0 {
		return ErrContextInUse
	}
	c.closed = true
	c.errorBinding.release()
	c.newPubBinding.release()
	c.newSubBinding.release()
	c.errorBinding, c.newPubBinding, c.newSubBinding = 0, 0, 0
	return nil
}

type contextSnapshot struct {
	dir       string
	connector transport.Connector
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	idleSleep time.Duration
	timeout   time.Duration
	opts      transport.ConnectOptions
}
