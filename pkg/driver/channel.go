package driver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

// ErrInvalidChannel is returned for channel strings the engine cannot serve.
var ErrInvalidChannel = errors.New("invalid channel")

const channelPrefix = "aeron:"

// Channel parameter keys understood by the engine.
const (
	ParamTermLength  = "term-length"
	ParamMTU         = "mtu"
	ParamSessionID   = "session-id"
	ParamControlMode = "control-mode"
	ParamEndpoint    = "endpoint"
	ParamInitTermID  = "init-term-id"
	ParamTermID      = "term-id"
	ParamTermOffset  = "term-offset"

	ControlModeManual  = "manual"
	ControlModeDynamic = "dynamic"
)

const (
	minTermLength = 64 * 1024
	maxTermLength = 1024 * 1024 * 1024
	maxMTU        = 65504
	maxMessage    = 16 * 1024 * 1024
)

// Channel is a parsed channel string. Strings without the aeron: prefix are
// opaque names matched verbatim.
type Channel struct {
	Raw    string
	Media  string
	Params map[string]string
}

// ParseChannel validates s and extracts its media and parameters.
func ParseChannel(s string) (Channel, error) {
	if strings.TrimSpace(s) == "" {
		return Channel{}, fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	if !strings.HasPrefix(s, channelPrefix) {
		if strings.ContainsAny(s, " \t\r\n") {
			return Channel{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidChannel, s)
		}
		return Channel{Raw: s, Params: map[string]string{}}, nil
	}

	rest := s[len(channelPrefix):]
	media, query, _ := strings.Cut(rest, "?")
	switch media {
	case "ipc", "udp":
	default:
		return Channel{}, fmt.Errorf("%w: unknown media %q", ErrInvalidChannel, media)
	}

	ch := Channel{Raw: s, Media: media, Params: map[string]string{}}
	if query != "" {
		for _, kv := range strings.Split(query, "|") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" || v == "" {
				return Channel{}, fmt.Errorf("%w: malformed parameter %q", ErrInvalidChannel, kv)
			}
			ch.Params[k] = v
		}
	}
	if media == "udp" && ch.Params[ParamEndpoint] == "" && ch.Params[ParamControlMode] != ControlModeManual {
		return Channel{}, fmt.Errorf("%w: udp channel requires endpoint or control-mode=manual", ErrInvalidChannel)
	}
	if err := ch.validate(); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

func (c Channel) validate() error {
	if v, ok := c.Params[ParamTermLength]; ok {
		n, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidChannel, ParamTermLength, err)
		}
		if err := ValidateTermLength(n); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidChannel, err)
		}
	}
	if v, ok := c.Params[ParamMTU]; ok {
		n, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidChannel, ParamMTU, err)
		}
		if err := ValidateMTU(n); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidChannel, err)
		}
	}
	for _, key := range []string{ParamSessionID, ParamInitTermID, ParamTermID, ParamTermOffset} {
		if v, ok := c.Params[key]; ok {
			if _, err := strconv.ParseInt(v, 10, 32); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidChannel, key, err)
			}
		}
	}
	if v, ok := c.Params[ParamControlMode]; ok && v != ControlModeManual && v != ControlModeDynamic {
		return fmt.Errorf("%w: unknown control-mode %q", ErrInvalidChannel, v)
	}
	return nil
}

// Canonical is the key used to match publications with subscriptions. Tuning
// parameters do not take part.
func (c Channel) Canonical() string {
	if c.Media == "" {
		return c.Raw
	}
	if ep := c.Params[ParamEndpoint]; ep != "" {
		return channelPrefix + c.Media + "?" + ParamEndpoint + "=" + ep
	}
	return channelPrefix + c.Media
}

// IsManualControl reports whether destinations may be added to the channel.
func (c Channel) IsManualControl() bool {
	return c.Params[ParamControlMode] == ControlModeManual
}

func (c Channel) intParam(key string) (int32, bool) {
	v, ok := c.Params[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

func (c Channel) sizeParam(key string, def int) int {
	v, ok := c.Params[key]
	if !ok {
		return def
	}
	n, err := ParseSize(v)
	if err != nil {
		return def
	}
	return n
}

// ParseSize parses a byte size with an optional k, m or g suffix.
func ParseSize(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1024, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1024*1024, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "g"):
		mult, s = 1024*1024*1024, strings.TrimSuffix(s, "g")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	return n * mult, nil
}

// ValidateTermLength checks that n is a power of two within the supported range.
func ValidateTermLength(n int) error {
	if n < minTermLength || n > maxTermLength || n&(n-1) != 0 {
		return fmt.Errorf("term length %d must be a power of two in [%d, %d]", n, minTermLength, maxTermLength)
	}
	return nil
}

// ValidateMTU checks that n is frame aligned and can carry at least one aligned payload.
func ValidateMTU(n int) error {
	if n < transport.HeaderLength+transport.FrameAlignment || n > maxMTU || n%transport.FrameAlignment != 0 {
		return fmt.Errorf("mtu %d must be a multiple of %d in [%d, %d]",
			n, transport.FrameAlignment, transport.HeaderLength+transport.FrameAlignment, maxMTU)
	}
	return nil
}
