package driver

import (
	"errors"
	"os"
)

// mapping is the memory behind one log buffer.
type mapping struct {
	data  []byte
	path  string
	unmap func([]byte) error
}

func heapMapping(size int) *mapping {
	return &mapping{data: make([]byte, size)}
}

func (m *mapping) close() error {
	if m.data == nil {
		return nil
	}
	var errs []error
	if m.unmap != nil {
		errs = append(errs, m.unmap(m.data))
	}
	if m.path != "" {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	m.data = nil
	return errors.Join(errs...)
}
