package storage

import (
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gezibash/arc-conduit/pkg/driver"
)

// Options is one backend's configuration. Accessors treat a missing or
// empty value as unset and report parse failures as *ConfigError.
type Options struct {
	backend string
	values  map[string]string
}

// NewOptions wraps values for the named backend.
func NewOptions(backend string, values map[string]string) Options {
	return Options{backend: backend, values: values}
}

// Err builds a ConfigError for key. The offending value is included when set.
func (o Options) Err(key, message string, cause error) *ConfigError {
	return &ConfigError{Backend: o.backend, Field: key, Value: o.values[key], Message: message, Cause: cause}
}

// String returns the value of key or def.
func (o Options) String(key, def string) string {
	if v := o.values[key]; v != "" {
		return v
	}
	return def
}

// Require returns the value of key, failing when it is unset.
func (o Options) Require(key string) (string, error) {
	v := o.values[key]
	if v == "" {
		return "", o.Err(key, "cannot be empty", nil)
	}
	return v, nil
}

// Path returns the value of key with a leading ~ expanded.
func (o Options) Path(key string) (string, error) {
	v, err := o.Require(key)
	if err != nil {
		return "", err
	}
	return ExpandPath(v), nil
}

// Bool accepts true/false, 1/0 and yes/no in any case.
func (o Options) Bool(key string, def bool) (bool, error) {
	v := o.values[key]
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, o.Err(key, "must be a boolean (true/false, 1/0, yes/no)", nil)
}

// Int returns the value of key as a decimal integer.
func (o Options) Int(key string, def int) (int, error) {
	v := o.values[key]
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, o.Err(key, "must be an integer", nil)
	}
	return n, nil
}

// Size returns a byte count. Values take the same k, m and g suffixes as
// term lengths.
func (o Options) Size(key string, def int64) (int64, error) {
	v := o.values[key]
	if v == "" {
		return def, nil
	}
	n, err := driver.ParseSize(v)
	if err != nil {
		return 0, o.Err(key, "must be a size such as 64m", nil)
	}
	return int64(n), nil
}

// Duration accepts Go duration strings or integer seconds.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v := o.values[key]
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, o.Err(key, "must be a duration (e.g. 5s, 1m30s) or integer seconds", nil)
}

// ExpandPath expands a leading ~ to the user's home directory and cleans
// the result.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(path)
}

// MergeConfig returns dst overlaid with src. Neither input is modified.
func MergeConfig(dst, src map[string]string) map[string]string {
	result := make(map[string]string, len(dst)+len(src))
	maps.Copy(result, dst)
	maps.Copy(result, src)
	return result
}
