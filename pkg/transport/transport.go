// Package transport defines the narrow ABI between the conduit client and a
// transport engine.
//
// Every entity is an opaque handle. Registration is two-phase: an Async* call
// returns a pending token whose Poll reports a live handle once the engine has
// processed the request, or nil while it is still in flight. Callbacks are plain
// function values paired with an opaque clientd that the engine hands back
// unchanged.
package transport

import "time"

// Publication results returned in place of a position.
const (
	NotConnected        int64 = -1
	BackPressured       int64 = -2
	AdminAction         int64 = -3
	PublicationClosed   int64 = -4
	MaxPositionExceeded int64 = -5
	PublicationError    int64 = -6
)

// Channel status indicator values.
const (
	ChannelStatusErrored      int64 = -1
	ChannelStatusInitializing int64 = 0
	ChannelStatusActive       int64 = 1
	ChannelStatusClosing      int64 = 2
)

// Error codes delivered to error callbacks and carried by *Error.
const (
	ErrorCodeGeneric             int32 = 0
	ErrorCodeInvalidChannel      int32 = 1
	ErrorCodeUnknownSubscription int32 = 2
	ErrorCodeUnknownPublication  int32 = 3
	ErrorCodeChannelEndpoint     int32 = 4
	ErrorCodeUnknownDestination  int32 = 5
	ErrorCodeNotSupported        int32 = 8
	ErrorCodeClientTimeout       int32 = 1000
	ErrorCodeDriverClosed        int32 = 1001
)

// Error is a failure reported by the engine for a request or a client.
type Error struct {
	Code    int32
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Callback signatures. clientd is whatever the registrant supplied.
type (
	ErrorFunc           func(clientd uintptr, code int32, message string)
	NewPublicationFunc  func(clientd uintptr, channel string, streamID, sessionID int32, correlationID int64)
	NewSubscriptionFunc func(clientd uintptr, channel string, streamID int32, correlationID int64)
	ImageFunc           func(clientd uintptr, subscription Subscription, image Image)
	ImageVisitFunc      func(clientd uintptr, image Image)
	FragmentFunc        func(clientd uintptr, buffer []byte, header *Header)
	ReservedValueFunc   func(clientd uintptr, buffer []byte, frameLength int) int64
)

// Callback pairs a callback function with its opaque context.
type Callback[F any] struct {
	Fn      F
	Clientd uintptr
}

// Bind returns a Callback for fn and clientd.
func Bind[F any](fn F, clientd uintptr) Callback[F] {
	return Callback[F]{Fn: fn, Clientd: clientd}
}

// ConnectOptions configures a client connection to an engine.
type ConnectOptions struct {
	ClientName      string
	DriverTimeout   time.Duration
	UseAgentInvoker bool

	OnError           Callback[ErrorFunc]
	OnNewPublication  Callback[NewPublicationFunc]
	OnNewSubscription Callback[NewSubscriptionFunc]
}

// Connector opens client connections to the engine serving dir.
type Connector interface {
	Connect(dir string, opts ConnectOptions) (Driver, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(dir string, opts ConnectOptions) (Driver, error)

// Connect calls f.
func (f ConnectorFunc) Connect(dir string, opts ConnectOptions) (Driver, error) {
	return f(dir, opts)
}

// Driver is one client's connection to an engine.
type Driver interface {
	ClientID() int64
	NextCorrelationID() int64

	// DoWork processes responses and dispatches callbacks. It never blocks.
	DoWork() (int, error)

	AsyncAddPublication(channel string, streamID int32) (PendingPublication, error)
	AsyncAddExclusivePublication(channel string, streamID int32) (PendingExclusivePublication, error)
	AsyncAddSubscription(channel string, streamID int32, onAvailable, onUnavailable Callback[ImageFunc]) (PendingSubscription, error)

	IsClosed() bool
	Close() error
}

// PendingPublication is an in-flight add publication.
type PendingPublication interface {
	RegistrationID() int64
	Poll() (Publication, error)
}

// PendingExclusivePublication is an in-flight add exclusive publication.
type PendingExclusivePublication interface {
	RegistrationID() int64
	Poll() (ExclusivePublication, error)
}

// PendingSubscription is an in-flight add subscription.
type PendingSubscription interface {
	RegistrationID() int64
	Poll() (Subscription, error)
}

// PendingDestination is an in-flight add or remove destination.
type PendingDestination interface {
	RegistrationID() int64
	Poll() (bool, error)
}

// Publication is a live publication handle.
//
// Offer and TryClaim return the new stream position or one of the negative
// result codes above. A non-nil error accompanies PublicationError only.
type Publication interface {
	RegistrationID() int64
	Channel() string
	StreamID() int32
	SessionID() int32
	InitialTermID() int32

	Offer(buffer []byte, supplier Callback[ReservedValueFunc]) (int64, error)
	OfferParts(parts [][]byte, supplier Callback[ReservedValueFunc]) (int64, error)
	TryClaim(length int, claim *Claim) (int64, error)

	IsConnected() bool
	IsClosed() bool
	ChannelStatus() int64
	Position() int64
	PositionLimit() int64
	MaxPayloadLength() int
	MaxMessageLength() int
	TermBufferLength() int

	AsyncAddDestination(channel string) (PendingDestination, error)
	AsyncRemoveDestination(channel string) (PendingDestination, error)

	Close() error
}

// ExclusivePublication is a single-writer publication with its own session.
type ExclusivePublication interface {
	Publication
	TermID() int32
	TermOffset() int32
}

// Subscription is a live subscription handle.
type Subscription interface {
	RegistrationID() int64
	Channel() string
	StreamID() int32

	Poll(handler Callback[FragmentFunc], fragmentLimit int) (int, error)

	ImageCount() int
	// ImageAtIndex and ImageBySessionID return images that must be handed back
	// through ReleaseImage exactly once.
	ImageAtIndex(index int) (Image, error)
	ImageBySessionID(sessionID int32) (Image, bool)
	ReleaseImage(image Image) error
	ForEachImage(visit Callback[ImageVisitFunc])

	IsConnected() bool
	IsClosed() bool
	ChannelStatus() int64

	AsyncAddDestination(channel string) (PendingDestination, error)
	AsyncRemoveDestination(channel string) (PendingDestination, error)

	Close() error
}

// Image is one publisher session as seen by a subscription.
type Image interface {
	SessionID() int32
	CorrelationID() int64
	SubscriptionRegistrationID() int64
	SourceIdentity() string
	InitialTermID() int32
	TermBufferLength() int

	JoinPosition() int64
	Position() int64
	IsEndOfStream() bool
	EndOfStreamPosition() int64
	IsClosed() bool

	Poll(handler Callback[FragmentFunc], fragmentLimit int) (int, error)
}
