package download

import (
	"sync"

	"github.com/lakefront/blobkit/transport"
)

// consistencyGuard pins every chunk request to the object version observed
// on the first response. It attaches the captured ETag as an If-Match
// precondition and refreshes it from each chunk response, so a mutation
// between any two requests surfaces as a precondition-failed error from the
// transport.
//
// When the caller supplied their own match conditions for the whole download
// the guard stays disengaged and forwards those conditions unchanged: the
// caller has taken responsibility for consistency.
//
// This is best-effort optimistic concurrency, not a lock — divergence is
// detected after the fact, never prevented.
type consistencyGuard struct {
	mu      sync.Mutex
	engaged bool
	caller  transport.Conditions
	etag    transport.ETag
}

func newConsistencyGuard(caller transport.Conditions) *consistencyGuard {
	return &consistencyGuard{
		engaged: caller.IsZero(),
		caller:  caller,
	}
}

// conditions returns the preconditions to attach to the next request.
func (g *consistencyGuard) conditions() transport.Conditions {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.engaged {
		return g.caller
	}
	if g.etag == "" {
		return transport.Conditions{}
	}
	return transport.Conditions{IfMatch: g.etag}
}

// refresh records the ETag observed on the most recent response. Guards
// against the narrow case where the object changes between chunk requests
// even though all prior chunks matched.
func (g *consistencyGuard) refresh(etag transport.ETag) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.engaged && etag != "" {
		g.etag = etag
	}
}

// current returns the pinned ETag, or empty when not engaged or not yet
// captured.
func (g *consistencyGuard) current() transport.ETag {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.engaged {
		return ""
	}
	return g.etag
}
