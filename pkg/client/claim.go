package client

import (
	"fmt"
	"runtime"

	"github.com/gezibash/arc-conduit/pkg/logging"
	"github.com/gezibash/arc-conduit/pkg/transport"
)

// ClaimState tracks the resolution of a BufferClaim.
type ClaimState int

const (
	ClaimUnresolved ClaimState = iota
	ClaimCommitted
	ClaimAborted
)

func (s ClaimState) String() string {
	switch s {
	case ClaimCommitted:
		return "committed"
	case ClaimAborted:
		return "aborted"
	default:
		return "unresolved"
	}
}

// BufferClaim is space reserved in a publication's log. The holder writes
// into Bytes and then calls exactly one of Commit or Abort. Until then,
// subscribers on the stream stall at the claimed frame.
//
// A claim that becomes unreachable while unresolved is aborted when the
// garbage collector reclaims it. That is a backstop, not a substitute for
// Discard: the stream stays stalled until the collector runs.
type BufferClaim struct {
	*claimSlot
	position int64
	metrics  *Metrics
}

// claimSlot is the part of a BufferClaim its cleanup can reach. It must not
// point back at the BufferClaim.
type claimSlot struct {
	claim transport.Claim
	state ClaimState
	log   *logging.Logger
}

func newBufferClaim(log *logging.Logger, metrics *Metrics) *BufferClaim {
	return &BufferClaim{claimSlot: &claimSlot{log: log}, metrics: metrics}
}

// track registers the cleanup backstop once the engine has granted the claim.
func (b *BufferClaim) track() {
	runtime.AddCleanup(b, abandonClaim, b.claimSlot)
}

func abandonClaim(s *claimSlot) {
	if s.state != ClaimUnresolved || s.claim.Abandon == nil {
		return
	}
	s.state = ClaimAborted
	s.claim.Abandon(&s.claim)
	s.log.Warn("dropped claim aborted by cleanup")
}

// Bytes returns the claimed payload region, or nil once the claim is resolved.
func (b *BufferClaim) Bytes() []byte {
	if b.state != ClaimUnresolved {
		return nil
	}
	return b.claim.Data()
}

// Len returns the claimed payload length.
func (b *BufferClaim) Len() int { return len(b.claim.Data()) }

// Position is the stream position just past the claimed frame.
func (b *BufferClaim) Position() int64 { return b.position }

func (b *BufferClaim) State() ClaimState { return b.state }

// Commit makes the claimed frame visible to subscribers.
func (b *BufferClaim) Commit() error {
	if err := b.unresolved(); err != nil {
		return err
	}
	if err := transport.CommitClaim(&b.claim); err != nil {
		return &PublicationError{Code: CodeGeneric, Err: err}
	}
	b.state = ClaimCommitted
	b.metrics.claim(ClaimCommitted)
	return nil
}

// Abort turns the claimed frame into padding that subscribers skip.
func (b *BufferClaim) Abort() error {
	if err := b.unresolved(); err != nil {
		return err
	}
	if err := transport.AbortClaim(&b.claim); err != nil {
		return &PublicationError{Code: CodeGeneric, Err: err}
	}
	b.state = ClaimAborted
	b.metrics.claim(ClaimAborted)
	return nil
}

// Discard aborts the claim if it is still unresolved. It is meant to be
// deferred right after a successful TryClaim. Failures are logged.
func (b *BufferClaim) Discard() {
	if b == nil || b.claimSlot == nil || b.state != ClaimUnresolved {
		return
	}
	if err := b.Abort(); err != nil {
		b.log.Warn("implicit claim abort failed", "error", err, "position", b.position)
		return
	}
	b.log.Debug("unresolved claim aborted", "position", b.position)
}

func (b *BufferClaim) unresolved() error {
	switch b.state {
	case ClaimCommitted:
		return fmt.Errorf("%w: claim space committed", ErrClaimReleased)
	case ClaimAborted:
		return fmt.Errorf("%w: claim space aborted", ErrClaimReleased)
	}
	return nil
}
