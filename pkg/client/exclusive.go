package client

import (
	"fmt"

	"github.com/gezibash/arc-conduit/pkg/transport"
)

// ExclusivePublication owns its session. Offers are not synchronized, so it
// must only be used from one goroutine.
type ExclusivePublication struct {
	publisher[transport.ExclusivePublication]
}

// TermID is the term currently being appended to.
func (p *ExclusivePublication) TermID() int32 {
	h, err := p.live()
	if err != nil {
		return 0
	}
	return h.TermID()
}

// TermOffset is the offset of the next frame within the current term.
func (p *ExclusivePublication) TermOffset() int32 {
	h, err := p.live()
	if err != nil {
		return 0
	}
	return h.TermOffset()
}

// Close closes the publication and removes it from its client. It is idempotent.
func (p *ExclusivePublication) Close() error {
	return closeIn(p.client, p.client.exclusivePublications, p.id)
}

func (p *ExclusivePublication) String() string {
	return fmt.Sprintf("ExclusivePublication{id=%d channel=%s stream=%d state=%s}", p.id, p.channel, p.streamID, p.state)
}
