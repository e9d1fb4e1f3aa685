package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDriver_CreateWriteReadFile(t *testing.T) {
	m := NewMockDriver()
	sb, err := m.Create(context.Background(), CreateSpec{RunID: "run-1"})
	require.NoError(t, err)

	require.NoError(t, m.WriteFile(context.Background(), sb.ID, "/app/opencode.json", []byte(`{"ok":true}`)))
	data, err := m.ReadFile(context.Background(), sb.ID, "/app/opencode.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestMockDriver_DestroyThenOperateReturnsNotFound(t *testing.T) {
	m := NewMockDriver()
	sb, _ := m.Create(context.Background(), CreateSpec{})
	require.NoError(t, m.Destroy(context.Background(), sb.ID))

	_, err := m.Status(context.Background(), sb.ID)
	assert.ErrorIs(t, err, ErrSandboxNotFound)
}

func TestMockDriver_RunUsesCannedResponseByPrefix(t *testing.T) {
	m := NewMockDriver()
	sb, _ := m.Create(context.Background(), CreateSpec{})
	m.Responses["npm install"] = RunResult{ExitCode: 0, Stdout: "added 42 packages"}

	res, err := m.Run(context.Background(), sb.ID, []string{"npm", "install"})
	require.NoError(t, err)
	assert.Equal(t, "added 42 packages", res.Stdout)
}

func TestMockDriver_SupportsOptionalCapabilities(t *testing.T) {
	m := NewMockDriver()
	sb, _ := m.Create(context.Background(), CreateSpec{})

	urls, err := m.GetProcessURLs(context.Background(), sb.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, urls)

	_, err = m.RunCode(context.Background(), sb.ID, "python", "print(1)")
	assert.NoError(t, err)
}
