package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/models"
)

// testEnv is one coordinator over in-memory fakes, torn down with the
// test.
type testEnv struct {
	coord *Coordinator
	store *fakeStore
	locks *fakeLocker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		HTTPPort:                   "0",
		DefaultConversationTimeout: 30 * time.Second,
		DefaultTurnDuration:        0,
		HandlerDeadline:            time.Second,
		FastPathDeadline:           50 * time.Millisecond,
		LockAcquireTimeout:         time.Second,
	}
	env := &testEnv{
		store: newFakeStore(),
		locks: newFakeLocker(),
	}
	env.coord = New(cfg, env.store, env.locks)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.coord.Shutdown(ctx)
	})
	return env
}

// seedAgents registers an organization plus one agent per external id.
func (e *testEnv) seedAgents(t *testing.T, exts ...string) {
	t.Helper()
	ctx := context.Background()
	org, err := e.store.CreateOrganization(ctx, "acme", "Acme")
	require.NoError(t, err)
	for _, ext := range exts {
		_, err := e.store.CreateAgent(ctx, org.ID, ext, ext)
		require.NoError(t, err)
	}
}

func (e *testEnv) agent(t *testing.T, ext string) *models.Agent {
	t.Helper()
	agent, err := e.store.GetAgentByExternalID(context.Background(), ext)
	require.NoError(t, err)
	return agent
}
