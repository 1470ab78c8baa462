// Package storage reads the flat string configuration recording backends
// are created from.
package storage

import "fmt"

// ConfigError reports an invalid backend configuration value.
type ConfigError struct {
	Backend string
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	switch {
	case e.Field == "":
		return fmt.Sprintf("%s: %s", e.Backend, msg)
	case e.Value == "":
		return fmt.Sprintf("%s: %s: %s", e.Backend, e.Field, msg)
	default:
		return fmt.Sprintf("%s: %s=%q: %s", e.Backend, e.Field, e.Value, msg)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}
