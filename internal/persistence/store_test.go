package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_FullLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dbSandboxID, err := s.CreateSandbox(ctx, "user-1", "sbx-abc", "docker", "octocat/Hello-World")
	require.NoError(t, err)
	assert.NotEmpty(t, dbSandboxID)

	require.NoError(t, s.AttachURL(ctx, dbSandboxID, "http://127.0.0.1:4096"))

	dbRalphID, err := s.CreateRalph(ctx, "user-1", dbSandboxID, "echo hi")
	require.NoError(t, err)
	assert.NotEmpty(t, dbRalphID)

	require.NoError(t, s.AddAgentEvent(ctx, dbRalphID, "iteration_start", map[string]int{"index": 1}))
	require.NoError(t, s.AddAgentEvent(ctx, dbRalphID, "agent_message", map[string]string{"text": "hello"}))

	iterations := 3
	require.NoError(t, s.UpdateRalphStatus(ctx, dbRalphID, "completed", &iterations))

	var status string
	var gotIterations int
	row := s.db.QueryRowContext(ctx, `SELECT status, iterations FROM ralphs WHERE id = ?`, dbRalphID)
	require.NoError(t, row.Scan(&status, &gotIterations))
	assert.Equal(t, "completed", status)
	assert.Equal(t, 3, gotIterations)

	var eventCount int
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_events WHERE ralph_id = ?`, dbRalphID)
	require.NoError(t, row.Scan(&eventCount))
	assert.Equal(t, 2, eventCount)
}

func TestStore_UpdateRalphStatus_IdempotentRepeat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dbSandboxID, err := s.CreateSandbox(ctx, "user-1", "sbx-abc", "docker", "octocat/Hello-World")
	require.NoError(t, err)
	dbRalphID, err := s.CreateRalph(ctx, "user-1", dbSandboxID, "echo hi")
	require.NoError(t, err)

	iterations := 5
	require.NoError(t, s.UpdateRalphStatus(ctx, dbRalphID, "running", &iterations))

	var firstUpdatedAt string
	row := s.db.QueryRowContext(ctx, `SELECT updated_at FROM ralphs WHERE id = ?`, dbRalphID)
	require.NoError(t, row.Scan(&firstUpdatedAt))

	// A repeat call with the same status and iteration count is a no-op:
	// updated_at must not move.
	require.NoError(t, s.UpdateRalphStatus(ctx, dbRalphID, "running", &iterations))

	var secondUpdatedAt string
	row = s.db.QueryRowContext(ctx, `SELECT updated_at FROM ralphs WHERE id = ?`, dbRalphID)
	require.NoError(t, row.Scan(&secondUpdatedAt))
	assert.Equal(t, firstUpdatedAt, secondUpdatedAt)
}

func TestStore_InvalidDBIDReturnsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRalph(ctx, "user-1", "not-a-number", "echo hi")
	assert.Error(t, err)

	err = s.AttachURL(ctx, "not-a-number", "http://x")
	assert.Error(t, err)
}

func TestNoopStore_DiscardsEverything(t *testing.T) {
	var p NoopStore
	ctx := context.Background()

	id, err := p.CreateSandbox(ctx, "u", "sbx", "docker", "repo")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, p.AttachURL(ctx, "1", "http://x"))

	ralphID, err := p.CreateRalph(ctx, "u", "1", "task")
	require.NoError(t, err)
	assert.Empty(t, ralphID)

	require.NoError(t, p.AddAgentEvent(ctx, "1", "kind", nil))
	require.NoError(t, p.UpdateRalphStatus(ctx, "1", "completed", nil))
}
