package cli

import (
	"fmt"
	"io"
)

// Value renders a structured value such as a config section. Text output is
// plain YAML.
type Value struct {
	out   *Output
	meta  Meta
	value any
}

// Render outputs the value in the configured format.
func (v *Value) Render() error {
	return v.out.Render(v)
}

func (v *Value) Meta() Meta {
	return v.meta
}

func (v *Value) Data() any {
	return v.value
}

func (v *Value) RenderText(w io.Writer) error {
	return encodeYAML(w, v.value)
}

// RenderMarkdown writes the value as a fenced YAML block.
func (v *Value) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "```yaml"); err != nil {
		return err
	}
	if err := encodeYAML(w, v.value); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "```")
	return err
}
