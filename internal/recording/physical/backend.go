// Package physical provides the storage backend interface for fragment recordings.
package physical

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

var (
	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrCorrupt indicates a stored record could not be decoded.
	ErrCorrupt = errors.New("corrupt record")
)

// Record is one received fragment together with the header it arrived in.
// Records of a run are ordered by Seq.
type Record struct {
	RunID     string
	Seq       int64
	Timestamp int64
	Channel   string

	FrameLength         int32
	Flags               uint8
	Type                uint16
	TermOffset          int32
	SessionID           int32
	StreamID            int32
	TermID              int32
	ReservedValue       int64
	InitialTermID       int32
	PositionBitsToShift int

	// Position is the stream position just past the fragment.
	Position int64
	Payload  []byte
}

// NewRecord copies a delivered fragment into a Record.
func NewRecord(runID string, seq, timestamp int64, channel string, payload []byte, h *transport.Header) *Record {
	return &Record{
		RunID:               runID,
		Seq:                 seq,
		Timestamp:           timestamp,
		Channel:             channel,
		FrameLength:         h.FrameLength,
		Flags:               h.Flags,
		Type:                h.Type,
		TermOffset:          h.TermOffset,
		SessionID:           h.SessionID,
		StreamID:            h.StreamID,
		TermID:              h.TermID,
		ReservedValue:       h.ReservedValue,
		InitialTermID:       h.InitialTermID,
		PositionBitsToShift: h.PositionBitsToShift,
		Position:            h.Position(),
		Payload:             slices.Clone(payload),
	}
}

// Header rebuilds the frame header the record was received with.
func (r *Record) Header() transport.Header {
	return transport.Header{
		FrameLength:         r.FrameLength,
		Version:             transport.CurrentVersion,
		Flags:               r.Flags,
		Type:                r.Type,
		TermOffset:          r.TermOffset,
		SessionID:           r.SessionID,
		StreamID:            r.StreamID,
		TermID:              r.TermID,
		ReservedValue:       r.ReservedValue,
		InitialTermID:       r.InitialTermID,
		PositionBitsToShift: r.PositionBitsToShift,
	}
}

// Cursor is a point in (RunID, Seq) order.
type Cursor struct {
	RunID string
	Seq   int64
}

// Less reports whether c sorts before o.
func (c Cursor) Less(o Cursor) bool {
	if c.RunID != o.RunID {
		return c.RunID < o.RunID
	}
	return c.Seq < o.Seq
}

// Query selects records. Zero fields match everything.
type Query struct {
	RunID       string
	StreamID    int32
	SessionIDs  []int32
	MinPosition int64
	// MaxPosition is inclusive; zero means unbounded.
	MaxPosition int64
	// After excludes every record at or before the cursor.
	After Cursor
	Limit int
}

// Match reports whether r satisfies every condition of q except Limit.
func (q *Query) Match(r *Record) bool {
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if (q.After != Cursor{}) && !q.After.Less(Cursor{RunID: r.RunID, Seq: r.Seq}) {
		return false
	}
	return q.matchFields(r.StreamID, r.SessionID, r.Position)
}

func (q *Query) matchFields(streamID, sessionID int32, position int64) bool {
	if q.StreamID != 0 && streamID != q.StreamID {
		return false
	}
	if len(q.SessionIDs) > 0 && !slices.Contains(q.SessionIDs, sessionID) {
		return false
	}
	if position < q.MinPosition {
		return false
	}
	if q.MaxPosition > 0 && position > q.MaxPosition {
		return false
	}
	return true
}

// MatchKey is Match for backends that index stream, session and position
// without decoding the record.
func (q *Query) MatchKey(runID string, seq int64, streamID, sessionID int32, position int64) bool {
	return q.Match(&Record{RunID: runID, Seq: seq, StreamID: streamID, SessionID: sessionID, Position: position})
}

// Full reports whether n results already satisfy the limit.
func (q *Query) Full(n int) bool {
	return q.Limit > 0 && n >= q.Limit
}

// Stats contains storage statistics.
type Stats struct {
	Records     int64
	SizeBytes   int64
	BackendType string
}

// Backend is the physical storage interface for recordings.
// All implementations must be thread-safe.
type Backend interface {
	Append(ctx context.Context, r *Record) error
	// Scan returns matching records in (RunID, Seq) order.
	Scan(ctx context.Context, q Query) ([]*Record, error)
	Count(ctx context.Context, q Query) (int64, error)
	Runs(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

const codecVersion = 1

// wireRecord is the stored form of a Record: a msgpack array led by the codec
// version.
type wireRecord struct {
	_msgpack struct{} `msgpack:",as_array"`

	Version             uint8
	RunID               string
	Seq                 int64
	Timestamp           int64
	Channel             string
	FrameLength         int32
	Flags               uint8
	Type                uint16
	TermOffset          int32
	SessionID           int32
	StreamID            int32
	TermID              int32
	ReservedValue       int64
	InitialTermID       int32
	PositionBitsToShift int
	Position            int64
	Payload             []byte
}

// Encode serializes a record for storage.
func Encode(r *Record) ([]byte, error) {
	data, err := msgpack.Marshal(&wireRecord{
		Version:             codecVersion,
		RunID:               r.RunID,
		Seq:                 r.Seq,
		Timestamp:           r.Timestamp,
		Channel:             r.Channel,
		FrameLength:         r.FrameLength,
		Flags:               r.Flags,
		Type:                r.Type,
		TermOffset:          r.TermOffset,
		SessionID:           r.SessionID,
		StreamID:            r.StreamID,
		TermID:              r.TermID,
		ReservedValue:       r.ReservedValue,
		InitialTermID:       r.InitialTermID,
		PositionBitsToShift: r.PositionBitsToShift,
		Position:            r.Position,
		Payload:             r.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record %s/%d: %w", r.RunID, r.Seq, err)
	}
	return data, nil
}

// Decode parses the output of Encode. Anything else, including trailing
// bytes, is ErrCorrupt.
func Decode(data []byte) (*Record, error) {
	rd := bytes.NewReader(data)
	var w wireRecord
	if err := msgpack.NewDecoder(rd).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if w.Version != codecVersion {
		return nil, fmt.Errorf("%w: codec version %d", ErrCorrupt, w.Version)
	}
	if rd.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, rd.Len())
	}
	return &Record{
		RunID:               w.RunID,
		Seq:                 w.Seq,
		Timestamp:           w.Timestamp,
		Channel:             w.Channel,
		FrameLength:         w.FrameLength,
		Flags:               w.Flags,
		Type:                w.Type,
		TermOffset:          w.TermOffset,
		SessionID:           w.SessionID,
		StreamID:            w.StreamID,
		TermID:              w.TermID,
		ReservedValue:       w.ReservedValue,
		InitialTermID:       w.InitialTermID,
		PositionBitsToShift: w.PositionBitsToShift,
		Position:            w.Position,
		Payload:             w.Payload,
	}, nil
}
