package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table renders rows under fixed headers. Created via Output.Table.
type Table struct {
	out     *Output
	meta    Meta
	headers []string
	rows    [][]string
	numeric map[int]bool
	caption string
}

// AddRow adds a row. Values are formatted with %v; missing trailing cells
// render empty.
func (t *Table) AddRow(values ...any) *Table {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprint(v)
	}
	t.rows = append(t.rows, row)
	return t
}

// AlignRight right-aligns the named columns in text output.
func (t *Table) AlignRight(headers ...string) *Table {
	if t.numeric == nil {
		t.numeric = make(map[int]bool)
	}
	for _, h := range headers {
		for i, name := range t.headers {
			if name == h {
				t.numeric[i] = true
			}
		}
	}
	return t
}

// Caption sets a line printed under the table in text output.
func (t *Table) Caption(format string, args ...any) *Table {
	t.caption = fmt.Sprintf(format, args...)
	return t
}

// WithPagination sets pagination cursor and hasMore flag.
func (t *Table) WithPagination(cursor string, hasMore bool) *Table {
	t.meta = t.meta.WithPagination(cursor, hasMore)
	return t
}

// Len returns the number of rows added.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render outputs the table in the configured format.
func (t *Table) Render() error {
	return t.out.Render(t)
}

func (t *Table) Meta() Meta {
	return t.meta
}

// RenderText writes a box-drawn table.
func (t *Table) RenderText(w io.Writer) error {
	tw := t.newTableWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Header = text.FormatDefault
	if t.caption != "" {
		tw.SetCaption(t.caption)
	}
	var configs []table.ColumnConfig
	for i := range t.numeric {
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight})
	}
	tw.SetColumnConfigs(configs)
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// Data returns the rows as objects keyed by header.
func (t *Table) Data() any {
	result := make([]map[string]string, 0, len(t.rows))
	for _, row := range t.rows {
		obj := make(map[string]string, len(t.headers))
		for i, h := range t.headers {
			if i < len(row) {
				obj[toKey(h)] = row[i]
			}
		}
		result = append(result, obj)
	}
	return result
}

func (t *Table) RenderMarkdown(w io.Writer) error {
	_, err := io.WriteString(w, t.newTableWriter().RenderMarkdown()+"\n")
	return err
}

func (t *Table) newTableWriter() table.Writer {
	tw := table.NewWriter()

	header := make(table.Row, len(t.headers))
	for i, h := range t.headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range t.rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		tw.AppendRow(r)
	}
	return tw
}

// toKey converts a header to a structured-output key (lowercase, underscores).
func toKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}
