// Package handles maps opaque uintptr values to Go objects so that callbacks
// invoked by the transport can recover the handler they were registered with.
//
// The transport only ever sees the uintptr. A value stays reachable until it is
// released; a callback arriving with a released or unknown handle is dropped
// and counted as a miss.
package handles

import (
	"sync"
	"sync/atomic"
)

var (
	mu      sync.RWMutex
	entries = make(map[uintptr]any)
	nextID  uintptr = 1
	misses  atomic.Int64
)

// Register stores v and returns the handle the transport should carry.
func Register(v any) uintptr {
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	entries[id] = v
	return id
}

// Lookup returns the object stored under id as a T.
func Lookup[T any](id uintptr) (T, bool) {
	mu.RLock()
	v, ok := entries[id]
	mu.RUnlock()

	var zero T
	if !ok {
		misses.Add(1)
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		misses.Add(1)
		return zero, false
	}
	return t, true
}

// Release removes id. It reports whether the handle was registered.
func Release(id uintptr) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := entries[id]; !ok {
		return false
	}
	delete(entries, id)
	return true
}

// Count returns the number of live handles.
func Count() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(entries)
}

// Misses returns how many lookups hit a released, unknown or mistyped handle.
func Misses() int64 {
	return misses.Load()
}
