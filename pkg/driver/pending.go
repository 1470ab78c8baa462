package driver

// pending is the engine's registration token. Its fields are written by the
// owning conductor's DoWork and read by Poll on the same goroutine.
type pending[T any] struct {
	id     int64
	handle T
	ready  bool
	err    error
}

func (p *pending[T]) RegistrationID() int64 {
	return p.id
}

// Poll returns the resolved handle, the zero value while in flight, or the
// error the engine reported for the request.
func (p *pending[T]) Poll() (T, error) {
	var zero T
	if p.err != nil {
		return zero, p.err
	}
	if !p.ready {
		return zero, nil
	}
	return p.handle, nil
}

func (p *pending[T]) resolve(h T) {
	p.handle = h
	p.ready = true
}

func (p *pending[T]) fail(err error) {
	p.err = err
}
