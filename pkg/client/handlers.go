package client

import "github.com/gezibash/arc-conduit/pkg/transport"

// Header describes the frame a fragment arrived in.
type Header = transport.Header

// ErrorHandler receives errors reported by the transport. Calls are
// informational and arrive during DoWork.
type ErrorHandler interface {
	OnError(code int32, message string)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(code int32, message string)

func (f ErrorHandlerFunc) OnError(code int32, message string) { f(code, message) }

// NewPublicationHandler is told about every publication added through the
// transport, by any client.
type NewPublicationHandler interface {
	OnNewPublication(channel string, streamID, sessionID int32, registrationID int64)
}

// NewPublicationHandlerFunc adapts a function to NewPublicationHandler.
type NewPublicationHandlerFunc func(channel string, streamID, sessionID int32, registrationID int64)

func (f NewPublicationHandlerFunc) OnNewPublication(channel string, streamID, sessionID int32, registrationID int64) {
	f(channel, streamID, sessionID, registrationID)
}

// NewSubscriptionHandler is told about every subscription added through the
// transport, by any client.
type NewSubscriptionHandler interface {
	OnNewSubscription(channel string, streamID int32, registrationID int64)
}

// NewSubscriptionHandlerFunc adapts a function to NewSubscriptionHandler.
type NewSubscriptionHandlerFunc func(channel string, streamID int32, registrationID int64)

func (f NewSubscriptionHandlerFunc) OnNewSubscription(channel string, streamID int32, registrationID int64) {
	f(channel, streamID, registrationID)
}

// AvailableImageHandler is called when a publisher session joins a subscription.
type AvailableImageHandler interface {
	OnAvailableImage(sub *Subscription, img *BorrowedImage)
}

// AvailableImageHandlerFunc adapts a function to AvailableImageHandler.
type AvailableImageHandlerFunc func(sub *Subscription, img *BorrowedImage)

func (f AvailableImageHandlerFunc) OnAvailableImage(sub *Subscription, img *BorrowedImage) { f(sub, img) }

// UnavailableImageHandler is called when a publisher session leaves a subscription.
type UnavailableImageHandler interface {
	OnUnavailableImage(sub *Subscription, img *BorrowedImage)
}

// UnavailableImageHandlerFunc adapts a function to UnavailableImageHandler.
type UnavailableImageHandlerFunc func(sub *Subscription, img *BorrowedImage)

func (f UnavailableImageHandlerFunc) OnUnavailableImage(sub *Subscription, img *BorrowedImage) { f(sub, img) }

// FragmentHandler consumes fragments during Poll. buffer and header are only
// valid for the duration of the call.
type FragmentHandler interface {
	OnFragment(buffer []byte, header *Header)
}

// FragmentHandlerFunc adapts a function to FragmentHandler.
type FragmentHandlerFunc func(buffer []byte, header *Header)

func (f FragmentHandlerFunc) OnFragment(buffer []byte, header *Header) { f(buffer, header) }

// ReservedValueSupplier computes the reserved header value of each frame
// written by an offer. buffer spans the frame, header included.
type ReservedValueSupplier interface {
	ReservedValue(buffer []byte, frameLength int) int64
}

// ReservedValueSupplierFunc adapts a function to ReservedValueSupplier.
type ReservedValueSupplierFunc func(buffer []byte, frameLength int) int64

func (f ReservedValueSupplierFunc) ReservedValue(buffer []byte, frameLength int) int64 {
	return f(buffer, frameLength)
}
