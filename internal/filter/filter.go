// Package filter provides CEL expression filtering of delivered fragments.
//
// Expressions see the fragment's header as integer variables:
//
//	session_id stream_id term_id term_offset position
//	length frame_length flags frame_type reserved_value
//
// where length is the payload length. For example:
//
//	stream_id == 1001 && length > 64 && session_id in [7, 9]
package filter

import (
	"fmt"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/interpreter"

	"github.com/gezibash/arc-conduit/pkg/client"
)

// Variables lists the names an expression may reference.
var Variables = []string{
	"session_id",
	"stream_id",
	"term_id",
	"term_offset",
	"position",
	"length",
	"frame_length",
	"flags",
	"frame_type",
	"reserved_value",
}

// Filter is a compiled fragment predicate. It is safe for concurrent use.
type Filter struct {
	expr    string
	program cel.Program
}

// Compile parses and type-checks expr. The expression must evaluate to a bool.
func Compile(expr string) (*Filter, error) {
	opts := make([]cel.EnvOption, 0, len(Variables))
	for _, name := range Variables {
		opts = append(opts, cel.Variable(name, cel.IntType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(types.BoolType) {
		return nil, fmt.Errorf("cel compile: filter %q has type %s, want bool", expr, ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return &Filter{expr: expr, program: prog}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter for a fragment with the given payload length.
// Evaluation errors, such as integer overflow, count as no match.
func (f *Filter) Match(length int, header *client.Header) bool {
	out, _, err := f.program.Eval(activation{length: length, h: header})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// activation resolves variables straight from the header, avoiding a map
// per fragment.
type activation struct {
	length int
	h      *client.Header
}

func (a activation) ResolveName(name string) (any, bool) {
	h := a.h
	switch name {
	case "session_id":
		return int64(h.SessionID), true
	case "stream_id":
		return int64(h.StreamID), true
	case "term_id":
		return int64(h.TermID), true
	case "term_offset":
		return int64(h.TermOffset), true
	case "position":
		return h.Position(), true
	case "length":
		return int64(a.length), true
	case "frame_length":
		return int64(h.FrameLength), true
	case "flags":
		return int64(h.Flags), true
	case "frame_type":
		return int64(h.Type), true
	case "reserved_value":
		return h.ReservedValue, true
	}
	return nil, false
}

func (a activation) Parent() interpreter.Activation { return nil }

// Handler delivers to next only the fragments f matches. A nil filter
// passes everything through.
type Handler struct {
	filter  *Filter
	next    client.FragmentHandler
	dropped atomic.Int64
}

// NewHandler chains f in front of next.
func NewHandler(f *Filter, next client.FragmentHandler) *Handler {
	return &Handler{filter: f, next: next}
}

// OnFragment implements client.FragmentHandler.
func (h *Handler) OnFragment(buffer []byte, header *client.Header) {
	if h.filter != nil && !h.filter.Match(len(buffer), header) {
		h.dropped.Add(1)
		return
	}
	h.next.OnFragment(buffer, header)
}

// Dropped returns the number of fragments the filter rejected.
func (h *Handler) Dropped() int64 { return h.dropped.Load() }
