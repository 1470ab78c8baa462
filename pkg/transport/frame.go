package transport

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// Data frame header layout. All fields are little endian except the frame
// length, which is only ever accessed through FrameLength and SetFrameLength.
const (
	HeaderLength   = 32
	FrameAlignment = 32

	FrameLengthOffset   = 0
	VersionOffset       = 4
	FlagsOffset         = 5
	TypeOffset          = 6
	TermOffsetOffset    = 8
	SessionIDOffset     = 12
	StreamIDOffset      = 16
	TermIDOffset        = 20
	ReservedValueOffset = 24

	CurrentVersion uint8 = 0

	FlagBegin         uint8 = 0x80
	FlagEnd           uint8 = 0x40
	FlagsUnfragmented       = FlagBegin | FlagEnd

	TypePad  uint16 = 0x00
	TypeData uint16 = 0x01
)

// Header is a copy of the header fields of one delivered frame.
type Header struct {
	FrameLength         int32
	Version             uint8
	Flags               uint8
	Type                uint16
	TermOffset          int32
	SessionID           int32
	StreamID            int32
	TermID              int32
	ReservedValue       int64
	InitialTermID       int32
	PositionBitsToShift int
}

// Position is the stream position just past the frame.
func (h *Header) Position() int64 {
	next := Align(int(h.TermOffset)+int(h.FrameLength), FrameAlignment)
	return ComputePosition(h.TermID, int32(next), h.PositionBitsToShift, h.InitialTermID)
}

// ReadHeader copies the header of the frame at offset.
func ReadHeader(buf []byte, offset int, initialTermID int32, positionBitsToShift int) Header {
	b := buf[offset : offset+HeaderLength]
	return Header{
		FrameLength:         FrameLength(buf, offset),
		Version:             b[VersionOffset],
		Flags:               b[FlagsOffset],
		Type:                binary.LittleEndian.Uint16(b[TypeOffset:]),
		TermOffset:          int32(binary.LittleEndian.Uint32(b[TermOffsetOffset:])),
		SessionID:           int32(binary.LittleEndian.Uint32(b[SessionIDOffset:])),
		StreamID:            int32(binary.LittleEndian.Uint32(b[StreamIDOffset:])),
		TermID:              int32(binary.LittleEndian.Uint32(b[TermIDOffset:])),
		ReservedValue:       int64(binary.LittleEndian.Uint64(b[ReservedValueOffset:])),
		InitialTermID:       initialTermID,
		PositionBitsToShift: positionBitsToShift,
	}
}

// WriteHeader writes every header field except the frame length.
func WriteHeader(buf []byte, offset int, h Header) {
	b := buf[offset : offset+HeaderLength]
	b[VersionOffset] = h.Version
	b[FlagsOffset] = h.Flags
	binary.LittleEndian.PutUint16(b[TypeOffset:], h.Type)
	binary.LittleEndian.PutUint32(b[TermOffsetOffset:], uint32(h.TermOffset))
	binary.LittleEndian.PutUint32(b[SessionIDOffset:], uint32(h.SessionID))
	binary.LittleEndian.PutUint32(b[StreamIDOffset:], uint32(h.StreamID))
	binary.LittleEndian.PutUint32(b[TermIDOffset:], uint32(h.TermID))
	binary.LittleEndian.PutUint64(b[ReservedValueOffset:], uint64(h.ReservedValue))
}

// SetReservedValue overwrites the reserved value of the frame at offset.
func SetReservedValue(buf []byte, offset int, v int64) {
	binary.LittleEndian.PutUint64(buf[offset+ReservedValueOffset:], uint64(v))
}

// FrameLength loads the frame length at offset with acquire semantics. Zero
// means nothing has been published there yet; a negative value marks a frame
// that has been claimed but not committed.
func FrameLength(buf []byte, offset int) int32 {
	return atomic.LoadInt32(framePtr(buf, offset))
}

// SetFrameLength stores the frame length at offset with release semantics,
// publishing every header and payload byte written before it.
func SetFrameLength(buf []byte, offset int, length int32) {
	atomic.StoreInt32(framePtr(buf, offset), length)
}

func framePtr(buf []byte, offset int) *int32 {
	_ = buf[offset+3]
	return (*int32)(unsafe.Pointer(&buf[offset]))
}

// Align rounds v up to a multiple of alignment, which must be a power of two.
func Align(v, alignment int) int {
	return (v + alignment - 1) &^ (alignment - 1)
}

// PositionBitsToShift returns log2(termLength).
func PositionBitsToShift(termLength int) int {
	return bits.TrailingZeros(uint(termLength))
}

// ComputePosition converts a term id and offset into an absolute stream position.
func ComputePosition(termID, termOffset int32, positionBitsToShift int, initialTermID int32) int64 {
	termCount := int64(termID - initialTermID)
	return termCount<<positionBitsToShift + int64(termOffset)
}

// ComputeTermID returns the term id that contains position.
func ComputeTermID(position int64, positionBitsToShift int, initialTermID int32) int32 {
	return int32(position>>positionBitsToShift) + initialTermID
}

// ComputeTermOffset returns the offset of position within its term.
func ComputeTermOffset(position int64, termLength int) int32 {
	return int32(position & int64(termLength-1))
}
