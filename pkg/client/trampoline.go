package client

import (
	"github.com/gezibash/arc-conduit/internal/handles"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

// Trampolines have exactly the transport callback signatures. Each recovers
// its handler from the handle table through clientd and forwards the call.
// Lookups that miss are dropped; handles.Misses counts them.

func errorTrampoline[T ErrorHandler](clientd uintptr, code int32, message string) {
	if h, ok := handles.Lookup[T](clientd); ok {
		h.OnError(code, message)
	}
}

func newPublicationTrampoline[T NewPublicationHandler](clientd uintptr, channel string, streamID, sessionID int32, registrationID int64) {
	if h, ok := handles.Lookup[T](clientd); ok {
		h.OnNewPublication(channel, streamID, sessionID, registrationID)
	}
}

func newSubscriptionTrampoline[T NewSubscriptionHandler](clientd uintptr, channel string, streamID int32, registrationID int64) {
	if h, ok := handles.Lookup[T](clientd); ok {
		h.OnNewSubscription(channel, streamID, registrationID)
	}
}

// imageBinding carries the subscription wrapper alongside an image handler,
// since the transport only knows its own subscription handle.
type imageBinding[T any] struct {
	sub     *Subscription
	handler T
}

func availableImageTrampoline[T AvailableImageHandler](clientd uintptr, _ transport.Subscription, img transport.Image) {
	if b, ok := handles.Lookup[*imageBinding[T]](clientd); ok {
		borrowed := b.sub.borrow(img)
		defer borrowed.expire()
		b.handler.OnAvailableImage(b.sub, borrowed)
	}
}

func unavailableImageTrampoline[T UnavailableImageHandler](clientd uintptr, _ transport.Subscription, img transport.Image) {
	if b, ok := handles.Lookup[*imageBinding[T]](clientd); ok {
		borrowed := b.sub.borrow(img)
		defer borrowed.expire()
		b.handler.OnUnavailableImage(b.sub, borrowed)
	}
}

type imageVisit struct {
	sub   *Subscription
	visit func(*BorrowedImage)
}

func imageVisitTrampoline(clientd uintptr, img transport.Image) {
	if v, ok := handles.Lookup[*imageVisit](clientd); ok {
		borrowed := v.sub.borrow(img)
		defer borrowed.expire()
		v.visit(borrowed)
	}
}

func fragmentTrampoline[T FragmentHandler](clientd uintptr, buffer []byte, header *transport.Header) {
	if h, ok := handles.Lookup[T](clientd); ok {
		h.OnFragment(buffer, header)
	}
}

func reservedValueTrampoline[T ReservedValueSupplier](clientd uintptr, buffer []byte, frameLength int) int64 {
	if s, ok := handles.Lookup[T](clientd); ok {
		return s.ReservedValue(buffer, frameLength)
	}
	return 0
}

// binding is a registered handle that must be released exactly once.
type binding uintptr

func (b binding) release() {
	if b != 0 {
		handles.Release(uintptr(b))
	}
}

func bindError[T ErrorHandler](h T) (transport.Callback[transport.ErrorFunc], binding) {
	id := handles.Register(h)
	return transport.Bind[transport.ErrorFunc](errorTrampoline[T], id), binding(id)
}

func bindNewPublication[T NewPublicationHandler](h T) (transport.Callback[transport.NewPublicationFunc], binding) {
	id := handles.Register(h)
	return transport.Bind[transport.NewPublicationFunc](newPublicationTrampoline[T], id), binding(id)
}

func bindNewSubscription[T NewSubscriptionHandler](h T) (transport.Callback[transport.NewSubscriptionFunc], binding) {
	id := handles.Register(h)
	return transport.Bind[transport.NewSubscriptionFunc](newSubscriptionTrampoline[T], id), binding(id)
}

func bindAvailableImage[T AvailableImageHandler](sub *Subscription, h T) (transport.Callback[transport.ImageFunc], binding) {
	id := handles.Register(&imageBinding[T]{sub: sub, handler: h})
	return transport.Bind[transport.ImageFunc](availableImageTrampoline[T], id), binding(id)
}

func bindUnavailableImage[T UnavailableImageHandler](sub *Subscription, h T) (transport.Callback[transport.ImageFunc], binding) {
	id := handles.Register(&imageBinding[T]{sub: sub, handler: h})
	return transport.Bind[transport.ImageFunc](unavailableImageTrampoline[T], id), binding(id)
}

func bindImageVisit(sub *Subscription, visit func(*BorrowedImage)) (transport.Callback[transport.ImageVisitFunc], binding) {
	id := handles.Register(&imageVisit{sub: sub, visit: visit})
	return transport.Bind[transport.ImageVisitFunc](imageVisitTrampoline, id), binding(id)
}

func bindFragment[T FragmentHandler](h T) (transport.Callback[transport.FragmentFunc], binding) {
	id := handles.Register(h)
	return transport.Bind[transport.FragmentFunc](fragmentTrampoline[T], id), binding(id)
}

func bindReservedValue[T ReservedValueSupplier](s T) (transport.Callback[transport.ReservedValueFunc], binding) {
	id := handles.Register(s)
	return transport.Bind[transport.ReservedValueFunc](reservedValueTrampoline[T], id), binding(id)
}
