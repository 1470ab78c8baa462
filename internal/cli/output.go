package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.yaml.in/yaml/v3"
)

// Format represents an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses a format name. Empty selects text.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json, yaml or markdown)", s)
}

// Meta describes a rendered result. Cursor, when set, resumes a listing
// that stopped at its limit.
type Meta struct {
	Kind      string    `json:"kind" yaml:"kind"`
	Version   string    `json:"version,omitempty" yaml:"version,omitempty"`
	Generated time.Time `json:"generated" yaml:"generated"`
	Cursor    string    `json:"cursor,omitempty" yaml:"cursor,omitempty"`
	HasMore   bool      `json:"has_more,omitempty" yaml:"has_more,omitempty"`
}

// NewMeta creates metadata of the given kind stamped with the current time.
func NewMeta(kind string) Meta {
	return Meta{
		Kind:      kind,
		Version:   "v1",
		Generated: time.Now().UTC(),
	}
}

// WithPagination adds pagination info to metadata.
func (m Meta) WithPagination(cursor string, hasMore bool) Meta {
	m.Cursor = cursor
	m.HasMore = hasMore
	return m
}

// Renderable can render itself in every format.
type Renderable interface {
	Meta() Meta
	RenderText(w io.Writer) error
	Data() any
	RenderMarkdown(w io.Writer) error
}

// Output renders results in one format, wrapping structured formats in an
// envelope and markdown in YAML frontmatter.
type Output struct {
	format Format
	w      io.Writer
}

// NewOutput creates an output renderer for the given format.
func NewOutput(format Format, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Format returns the configured output format.
func (o *Output) Format() Format {
	return o.format
}

// Writer returns the destination of rendered output.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Table creates a table renderer attached to this output.
func (o *Output) Table(kind string, headers ...string) *Table {
	return &Table{out: o, meta: NewMeta(kind), headers: headers}
}

// KV creates a key-value renderer attached to this output.
func (o *Output) KV(kind string) *KV {
	return &KV{out: o, meta: NewMeta(kind)}
}

// Value creates a renderer for an arbitrary structured value.
func (o *Output) Value(kind string, v any) *Value {
	return &Value{out: o, meta: NewMeta(kind), value: v}
}

// Render outputs r in the configured format.
func (o *Output) Render(r Renderable) error {
	switch o.format {
	case FormatJSON:
		return o.renderJSON(r)
	case FormatYAML:
		return o.renderYAML(r)
	case FormatMarkdown:
		return o.renderMarkdown(r)
	default:
		return o.renderText(r)
	}
}

func (o *Output) renderText(r Renderable) error {
	if err := r.RenderText(o.w); err != nil {
		return err
	}
	if meta := r.Meta(); meta.HasMore && meta.Cursor != "" {
		if _, err := fmt.Fprintf(o.w, "\nMore results: --after=%s\n", meta.Cursor); err != nil {
			return err
		}
	}
	return nil
}

type envelope struct {
	Meta Meta `json:"meta" yaml:"meta"`
	Data any  `json:"data" yaml:"data"`
}

func (o *Output) renderJSON(r Renderable) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope{Meta: r.Meta(), Data: r.Data()})
}

func (o *Output) renderYAML(r Renderable) error {
	return encodeYAML(o.w, envelope{Meta: r.Meta(), Data: r.Data()})
}

func (o *Output) renderMarkdown(r Renderable) error {
	if _, err := fmt.Fprintln(o.w, "---"); err != nil {
		return err
	}
	if err := encodeYAML(o.w, r.Meta()); err != nil {
		return err
	}
	if _, err := fmt.Fprint(o.w, "---\n\n"); err != nil {
		return err
	}
	return r.RenderMarkdown(o.w)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
