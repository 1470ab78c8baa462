package driver

import (
	"bytes"
	"testing"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

func newTestLog(t *testing.T, p logParams) *logBuffer {
	t.Helper()
	if p.termLength == 0 {
		p.termLength = testTermLength
	}
	if p.mtu == 0 {
		p.mtu = 1408
	}
	l, err := newLogBuffer(p, heapMapping(partitionCount*p.termLength), &counters{})
	if err != nil {
		t.Fatalf("newLogBuffer: %v", err)
	}
	return l
}

func TestRequiredLength(t *testing.T) {
	l := newTestLog(t, logParams{})
	tests := []struct {
		length int
		want   int
	}{
		{0, 32},
		{1, 64},
		{32, 64},
		{33, 96},
		{1376, 1408},
		{1377, 1408 + 64},
		{2 * 1376, 2 * 1408},
	}
	for _, tt := range tests {
		if got := l.requiredLength(tt.length); got != tt.want {
			t.Errorf("requiredLength(%d) = %d, want %d", tt.length, got, tt.want)
		}
	}
}

func TestGather(t *testing.T) {
	parts := [][]byte{[]byte("abc"), nil, []byte("defg"), []byte("h")}
	dst := make([]byte, 4)
	gather(dst, parts, 2)
	if string(dst) != "cdef" {
		t.Errorf("gather = %q, want %q", dst, "cdef")
	}
	tail := make([]byte, 2)
	gather(tail, parts, 6)
	if string(tail) != "gh" {
		t.Errorf("gather = %q, want %q", tail, "gh")
	}
}

func TestLogLimitOrder(t *testing.T) {
	l := newTestLog(t, logParams{})
	if got := l.checkLimits(64); got != transport.NotConnected {
		t.Errorf("disconnected checkLimits = %d, want NotConnected", got)
	}
	l.connected.Store(true)
	if got := l.checkLimits(64); got != transport.BackPressured {
		t.Errorf("zero window checkLimits = %d, want BackPressured", got)
	}
	l.limit.Store(l.tail.Load() + 1024)
	if got := l.checkLimits(64); got != l.tail.Load() {
		t.Errorf("checkLimits = %d, want tail %d", got, l.tail.Load())
	}
	l.markEndOfStream()
	if got := l.checkLimits(64); got != transport.PublicationClosed {
		t.Errorf("closed checkLimits = %d, want PublicationClosed", got)
	}
}

func TestRotateCleansOldestPartition(t *testing.T) {
	l := newTestLog(t, logParams{initialTermID: 5, termID: 5})
	l.connected.Store(true)
	l.limit.Store(1 << 40)

	for i := range l.terms[2] {
		l.terms[2][i] = 0xff
	}
	position := int64(testTermLength - 64)
	l.tail.Store(position)

	if got, _ := l.offer([][]byte{make([]byte, 100)}, transport.Callback[transport.ReservedValueFunc]{}); got != transport.AdminAction {
		t.Fatalf("offer across term end = %d, want AdminAction", got)
	}
	if l.tail.Load() != testTermLength {
		t.Errorf("tail = %d, want %d", l.tail.Load(), testTermLength)
	}
	if !bytes.Equal(l.terms[2], make([]byte, testTermLength)) {
		t.Error("partition two terms ahead not cleaned")
	}
	h := transport.ReadHeader(l.terms[0], testTermLength-64, l.initialTermID, l.bitsToShift)
	if h.Type != transport.TypePad || transport.FrameLength(l.terms[0], testTermLength-64) != 64 {
		t.Errorf("pad frame = %+v", h)
	}

	pos, err := l.offer([][]byte{make([]byte, 100)}, transport.Callback[transport.ReservedValueFunc]{})
	if err != nil || pos != testTermLength+160 {
		t.Fatalf("offer after rotation = %d, %v", pos, err)
	}
	h = transport.ReadHeader(l.terms[1], 0, l.initialTermID, l.bitsToShift)
	if h.TermID != 6 {
		t.Errorf("term id = %d, want 6", h.TermID)
	}
}

func TestExactFitCleansPartitionAhead(t *testing.T) {
	noSupplier := transport.Callback[transport.ReservedValueFunc]{}
	tests := []struct {
		name  string
		write func(l *logBuffer) (int64, error)
	}{
		{"offer", func(l *logBuffer) (int64, error) {
			return l.offer([][]byte{make([]byte, 224)}, noSupplier)
		}},
		{"claim", func(l *logBuffer) (int64, error) {
			var c transport.Claim
			return l.claim(224, &c)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLog(t, logParams{})
			l.connected.Store(true)
			l.limit.Store(1 << 40)
			for i := range l.terms[2] {
				l.terms[2][i] = 0xff
			}
			l.tail.Store(testTermLength - 256)

			pos, err := tt.write(l)
			if err != nil || pos != testTermLength {
				t.Fatalf("write ending on term boundary = %d, %v, want %d", pos, err, testTermLength)
			}
			if !bytes.Equal(l.terms[2], make([]byte, testTermLength)) {
				t.Error("partition two terms ahead not cleaned")
			}
			if got := l.stats.adminActions.Load(); got != 0 {
				t.Errorf("adminActions = %d, want 0", got)
			}
		})
	}
}

func TestUpdateLimitTracksSlowestImage(t *testing.T) {
	l := newTestLog(t, logParams{window: 4096})
	a := &image{log: l}
	b := &image{log: l}
	a.position.Store(1024)
	b.position.Store(512)
	l.images = []*image{a, b}

	l.updateLimit()
	if got := l.limit.Load(); got != 512+4096 {
		t.Errorf("limit = %d, want %d", got, 512+4096)
	}
	if !l.connected.Load() {
		t.Error("log not connected with images")
	}

	l.images = nil
	l.updateLimit()
	if l.connected.Load() {
		t.Error("log connected without images")
	}
}
