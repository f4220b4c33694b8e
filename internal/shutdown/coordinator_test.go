package shutdown

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/exchange-ingest/internal/logging"
)

func TestFileExistsAndRendezvousLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shutdown.flag")

	assert.False(t, FileExists(path))

	require.NoError(t, CreateRendezvousFile(path))
	assert.True(t, FileExists(path))

	// idempotent: creating again must not error
	require.NoError(t, CreateRendezvousFile(path))

	require.NoError(t, RemoveRendezvousFile(path))
	assert.False(t, FileExists(path))

	// idempotent: removing an already-absent file must not error
	require.NoError(t, RemoveRendezvousFile(path))
}

func TestCoordinatorFiresOnceFromRendezvousFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shutdown.flag")
	log := logging.New("test", true)

	c := New(path, log)
	c.pollInterval = 10 * time.Millisecond
	c.Start()
	defer c.Stop()

	assert.False(t, c.Cancelled())

	require.NoError(t, CreateRendezvousFile(path))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not cancel after rendezvous file appeared")
	}

	assert.True(t, c.Cancelled())

	// firing again must not panic or block (sync.Once guard)
	c.fire("duplicate")
}
