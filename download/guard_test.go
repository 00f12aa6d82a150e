package download

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lakefront/blobkit/transport"
)

func TestGuardEngagedLifecycle(t *testing.T) {
	g := newConsistencyGuard(transport.Conditions{})

	assert.True(t, g.conditions().IsZero(), "unconditional before the first response")
	assert.Equal(t, transport.ETag(""), g.current())

	g.refresh("v1")
	assert.Equal(t, transport.Conditions{IfMatch: "v1"}, g.conditions())
	assert.Equal(t, transport.ETag("v1"), g.current())

	// The pin follows the most recently observed version.
	g.refresh("v2")
	assert.Equal(t, transport.Conditions{IfMatch: "v2"}, g.conditions())

	// Transports without version info never regress the pin.
	g.refresh("")
	assert.Equal(t, transport.Conditions{IfMatch: "v2"}, g.conditions())
}

func TestGuardDisengagedByCallerConditions(t *testing.T) {
	caller := transport.Conditions{IfMatch: "caller-tag"}
	g := newConsistencyGuard(caller)

	assert.Equal(t, caller, g.conditions())

	// Observed ETags are ignored; the caller owns consistency.
	g.refresh("v9")
	assert.Equal(t, caller, g.conditions())
	assert.Equal(t, transport.ETag(""), g.current())
}
