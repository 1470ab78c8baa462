package transport

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

var (
	defaultMu        sync.RWMutex
	defaultConnector Connector
)

// RegisterDefaultConnector sets the connector new client contexts start with.
// An engine package registers itself from init, so importing it is enough.
func RegisterDefaultConnector(c Connector) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultConnector = c
}

// DefaultConnector returns the registered connector, or nil when no engine
// package is linked in.
func DefaultConnector() Connector {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultConnector
}

// DefaultDir returns the directory engines register under when none is
// configured.
func DefaultDir() string {
	switch runtime.GOOS {
	case "linux":
		return "/dev/shm/conduit"
	case "darwin":
		return "/Volumes/DevShm/conduit"
	default:
		return filepath.Join(os.TempDir(), "conduit")
	}
}
