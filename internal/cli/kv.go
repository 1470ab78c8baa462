package cli

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// KV renders ordered key-value pairs. Created via Output.KV.
type KV struct {
	out   *Output
	meta  Meta
	pairs []kvPair
}

type kvPair struct {
	key   string
	value any
}

// Set adds a key-value pair. Keys keep insertion order in text output.
func (k *KV) Set(key string, value any) *KV {
	k.pairs = append(k.pairs, kvPair{key: key, value: value})
	return k
}

// Render outputs the pairs in the configured format.
func (k *KV) Render() error {
	return k.out.Render(k)
}

func (k *KV) Meta() Meta {
	return k.meta
}

// RenderText writes aligned "key: value" lines.
func (k *KV) RenderText(w io.Writer) error {
	if len(k.pairs) == 0 {
		return nil
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateHeader = false

	for _, p := range k.pairs {
		tw.AppendRow(table.Row{p.key + ":", formatValue(p.value)})
	}

	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// Data returns the pairs as an object. Durations become strings so that
// structured output stays readable.
func (k *KV) Data() any {
	result := make(map[string]any, len(k.pairs))
	for _, p := range k.pairs {
		v := p.value
		if d, ok := v.(time.Duration); ok {
			v = d.String()
		}
		result[toKey(p.key)] = v
	}
	return result
}

// RenderMarkdown writes the pairs as a definition-style list.
func (k *KV) RenderMarkdown(w io.Writer) error {
	for _, p := range k.pairs {
		if _, err := fmt.Fprintf(w, "**%s:** %s\n\n", p.key, markdownValue(p.value)); err != nil {
			return err
		}
	}
	return nil
}

// formatValue renders counters with thousands separators and rounds
// durations to microseconds, the resolution latencies are reported at.
func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		// CommafWithDigits truncates.
		return humanize.CommafWithDigits(math.Round(x*100)/100, 2)
	case int:
		return humanize.Comma(int64(x))
	case int64:
		return humanize.Comma(x)
	case time.Duration:
		if x >= time.Microsecond {
			x = x.Round(time.Microsecond)
		}
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// markdownValue code-quotes identifiers and escapes table pipes.
func markdownValue(v any) string {
	s := formatValue(v)
	if looksLikeID(s) {
		return "`" + s + "`"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

// looksLikeID reports whether s is a hex string or UUID of at least 16 characters.
func looksLikeID(s string) bool {
	if len(s) < 16 {
		return false
	}
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex && c != '-' {
			return false
		}
	}
	return true
}
