package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAppLifecycle(t *testing.T) {
	r := NewRegistry()
	app := newAppConnection("exp-1", nil)

	assert.False(t, r.AppConnected("exp-1"))

	r.addApp(app)
	assert.True(t, r.AppConnected("exp-1"))

	got, ok := r.App("exp-1")
	require.True(t, ok)
	assert.Same(t, app, got)

	r.removeApp(app)
	assert.False(t, r.AppConnected("exp-1"))
}

// TestRegistryRemoveAppIgnoresStaleConnection verifies a slow-to-teardown
// connection can't clobber a fresher reconnect for the same experience.
func TestRegistryRemoveAppIgnoresStaleConnection(t *testing.T) {
	r := NewRegistry()
	stale := newAppConnection("exp-1", nil)
	fresh := newAppConnection("exp-1", nil)

	r.addApp(stale)
	r.addApp(fresh)
	r.removeApp(stale)

	got, ok := r.App("exp-1")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistryClientLifecycle(t *testing.T) {
	r := NewRegistry()
	c1 := newClientConnection("exp-1", "client-1", nil)
	c2 := newClientConnection("exp-1", "client-2", nil)

	r.addClient(c1)
	r.addClient(c2)

	ids := r.ClientIDs("exp-1")
	assert.ElementsMatch(t, []string{"client-1", "client-2"}, ids)

	got, ok := r.Client("exp-1", "client-1")
	require.True(t, ok)
	assert.Same(t, c1, got)

	r.removeClient(c1)
	_, ok = r.Client("exp-1", "client-1")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"client-2"}, r.ClientIDs("exp-1"))

	r.removeClient(c2)
	assert.Empty(t, r.ClientIDs("exp-1"))
}

func TestRegistryClientsSnapshotSpansExperiences(t *testing.T) {
	r := NewRegistry()
	r.addClient(newClientConnection("exp-1", "a", nil))
	r.addClient(newClientConnection("exp-2", "b", nil))

	assert.Len(t, r.Clients(), 2)
}
