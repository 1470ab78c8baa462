package client_test

import (
	"testing"

	"github.com/gezibash/arc-conduit/pkg/client"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

func fragment(sessionID int32, flags uint8) *client.Header {
	return &client.Header{SessionID: sessionID, Flags: flags, Type: transport.TypeData}
}

func TestAssemblerPassesUnfragmented(t *testing.T) {
	var got received
	a := client.NewFragmentAssembler(&got, 16)

	buf := []byte("whole")
	a.OnFragment(buf, fragment(1, transport.FlagsUnfragmented))
	if len(got.messages) != 1 || string(got.messages[0]) != "whole" {
		t.Fatalf("messages = %q", got.messages)
	}
}

func TestAssemblerInterleavedSessions(t *testing.T) {
	var got received
	a := client.NewFragmentAssembler(&got, 4)

	a.OnFragment([]byte("he"), fragment(1, transport.FlagBegin))
	a.OnFragment([]byte("wo"), fragment(2, transport.FlagBegin))
	a.OnFragment([]byte("ll"), fragment(1, 0))
	a.OnFragment([]byte("rld"), fragment(2, transport.FlagEnd))
	a.OnFragment([]byte("o"), fragment(1, transport.FlagEnd))

	if len(got.messages) != 2 {
		t.Fatalf("messages = %q, want 2", got.messages)
	}
	if string(got.messages[0]) != "world" || got.headers[0].SessionID != 2 {
		t.Errorf("first = %q from session %d", got.messages[0], got.headers[0].SessionID)
	}
	if string(got.messages[1]) != "hello" || got.headers[1].SessionID != 1 {
		t.Errorf("second = %q from session %d", got.messages[1], got.headers[1].SessionID)
	}
	for _, h := range got.headers {
		if h.Flags != transport.FlagsUnfragmented {
			t.Errorf("flags = %#x, want unfragmented", h.Flags)
		}
	}
}

func TestAssemblerDropsOrphans(t *testing.T) {
	var got received
	a := client.NewFragmentAssembler(&got, 0)

	a.OnFragment([]byte("middle"), fragment(1, 0))
	a.OnFragment([]byte("end"), fragment(1, transport.FlagEnd))
	if len(got.messages) != 0 {
		t.Fatalf("orphan fragments delivered: %q", got.messages)
	}

	a.OnFragment([]byte("part"), fragment(1, transport.FlagBegin))
	a.Reset(1)
	a.OnFragment([]byte("ial"), fragment(1, transport.FlagEnd))
	if len(got.messages) != 0 {
		t.Fatalf("reset session delivered: %q", got.messages)
	}

	a.OnFragment([]byte("new"), fragment(1, transport.FlagBegin))
	a.OnFragment([]byte("er"), fragment(1, transport.FlagEnd))
	if len(got.messages) != 1 || string(got.messages[0]) != "newer" {
		t.Errorf("messages = %q", got.messages)
	}
}
