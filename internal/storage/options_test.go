package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOptionsString(t *testing.T) {
	o := NewOptions("test", map[string]string{"key": "value", "empty": ""})

	if got := o.String("key", "default"); got != "value" {
		t.Errorf("String = %q, want %q", got, "value")
	}
	if got := o.String("missing", "default"); got != "default" {
		t.Errorf("String missing = %q, want %q", got, "default")
	}
	if got := o.String("empty", "default"); got != "default" {
		t.Errorf("String empty = %q, want %q", got, "default")
	}
}

func TestOptionsRequire(t *testing.T) {
	o := NewOptions("sqlite", map[string]string{"path": "/tmp/x.db"})

	if v, err := o.Require("path"); err != nil || v != "/tmp/x.db" {
		t.Errorf("Require = %q, %v", v, err)
	}
	_, err := o.Require("bucket")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Require missing err = %v, want *ConfigError", err)
	}
	if got, want := ce.Error(), "sqlite: bucket: cannot be empty"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestOptionsBool(t *testing.T) {
	o := NewOptions("test", map[string]string{"yes": "YES", "no": "0", "bad": "maybe"})

	if v, err := o.Bool("yes", false); err != nil || !v {
		t.Errorf("Bool yes = %v, %v", v, err)
	}
	if v, err := o.Bool("no", true); err != nil || v {
		t.Errorf("Bool no = %v, %v", v, err)
	}
	if v, err := o.Bool("missing", true); err != nil || !v {
		t.Errorf("Bool missing = %v, %v", v, err)
	}
	if _, err := o.Bool("bad", false); err == nil {
		t.Error("Bool bad: expected error")
	}
}

func TestOptionsNumbers(t *testing.T) {
	o := NewOptions("test", map[string]string{
		"num":  "42",
		"size": "64m",
		"raw":  "4096",
		"dur":  "5s",
		"secs": "10",
		"bad":  "abc",
	})

	if v, err := o.Int("num", 0); err != nil || v != 42 {
		t.Errorf("Int = %d, %v", v, err)
	}
	if v, err := o.Int("missing", 99); err != nil || v != 99 {
		t.Errorf("Int missing = %d, %v", v, err)
	}
	if v, err := o.Size("size", 0); err != nil || v != 64<<20 {
		t.Errorf("Size = %d, %v", v, err)
	}
	if v, err := o.Size("raw", 0); err != nil || v != 4096 {
		t.Errorf("Size raw = %d, %v", v, err)
	}
	if v, err := o.Duration("dur", 0); err != nil || v != 5*time.Second {
		t.Errorf("Duration = %v, %v", v, err)
	}
	if v, err := o.Duration("secs", 0); err != nil || v != 10*time.Second {
		t.Errorf("Duration secs = %v, %v", v, err)
	}

	for _, name := range []string{"Int", "Size", "Duration"} {
		var err error
		switch name {
		case "Int":
			_, err = o.Int("bad", 0)
		case "Size":
			_, err = o.Size("bad", 0)
		case "Duration":
			_, err = o.Duration("bad", 0)
		}
		var ce *ConfigError
		if !errors.As(err, &ce) || ce.Value != "abc" {
			t.Errorf("%s bad: err = %v, want ConfigError with value", name, err)
		}
	}
}

func TestExpandPath(t *testing.T) {
	if got := ExpandPath("/absolute/path"); got != "/absolute/path" {
		t.Errorf("ExpandPath absolute = %q", got)
	}
	if got := ExpandPath("relative//path/"); got != "relative/path" {
		t.Errorf("ExpandPath relative = %q", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	if got, want := ExpandPath("~/.conduit/recordings"), filepath.Join(home, ".conduit/recordings"); got != want {
		t.Errorf("ExpandPath home = %q, want %q", got, want)
	}
}

func TestMergeConfig(t *testing.T) {
	dst := map[string]string{"a": "1", "b": "2"}
	src := map[string]string{"b": "3", "c": "4"}
	result := MergeConfig(dst, src)

	if result["a"] != "1" || result["b"] != "3" || result["c"] != "4" {
		t.Errorf("MergeConfig = %v", result)
	}
	if dst["b"] != "2" {
		t.Error("MergeConfig modified dst")
	}
}

func TestConfigError(t *testing.T) {
	cause := errors.New("permission denied")
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{"backend only", ConfigError{Backend: "badger", Message: "failed"}, "badger: failed"},
		{"field", ConfigError{Backend: "badger", Field: "path", Message: "required"}, "badger: path: required"},
		{"value", ConfigError{Backend: "badger", Field: "path", Value: "/tmp", Message: "invalid"}, `badger: path="/tmp": invalid`},
		{"cause", ConfigError{Backend: "s3", Field: "bucket", Message: "bucket not accessible", Cause: cause}, "s3: bucket: bucket not accessible: permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}

	ce := &ConfigError{Backend: "s3", Cause: cause}
	if !errors.Is(ce, cause) {
		t.Error("cause not unwrappable")
	}
}
