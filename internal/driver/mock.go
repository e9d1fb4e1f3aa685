package driver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockDriver is an in-memory fake Driver used for provider tags whose real
// protocol is out of scope here (modal, e2b, fly, daytona) and for tests
// that want to exercise the Preparation Pipeline and Iteration Engine
// without Docker. Files live in a per-sandbox map; Run/Stream return a
// caller-supplied canned response keyed by a prefix match on the command,
// so tests can script "npm install" vs "git clone" outcomes. RunCode
// always returns an empty, successful result.
type MockDriver struct {
	mu        sync.Mutex
	sandboxes map[string]*mockSandbox

	// Responses maps a command-line prefix (joined by spaces) to a canned
	// RunResult. Unmatched commands succeed with empty output.
	Responses map[string]RunResult
	caps      []Capability
}

type mockSandbox struct {
	status string
	files  map[string][]byte
}

// NewMockDriver returns a MockDriver supporting every optional capability
// by default so tests don't need to special-case unsupported operations.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		sandboxes: make(map[string]*mockSandbox),
		Responses: make(map[string]RunResult),
		caps:      []Capability{CapGetProcessURLs, CapRunCode},
	}
}

func (m *MockDriver) Capabilities() []Capability { return m.caps }

func (m *MockDriver) Create(ctx context.Context, spec CreateSpec) (Sandbox, error) {
	id := "mock-" + uuid.NewString()
	m.mu.Lock()
	m.sandboxes[id] = &mockSandbox{status: "running", files: make(map[string][]byte)}
	m.mu.Unlock()
	return Sandbox{ID: id, Status: "running"}, nil
}

func (m *MockDriver) Destroy(ctx context.Context, sandboxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sandboxes, sandboxID)
	return nil
}

func (m *MockDriver) get(sandboxID string) (*mockSandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return nil, ErrSandboxNotFound
	}
	return sb, nil
}

func (m *MockDriver) Status(ctx context.Context, sandboxID string) (Sandbox, error) {
	sb, err := m.get(sandboxID)
	if err != nil {
		return Sandbox{}, err
	}
	return Sandbox{ID: sandboxID, Status: sb.status}, nil
}

func (m *MockDriver) Run(ctx context.Context, sandboxID string, cmd []string) (RunResult, error) {
	if _, err := m.get(sandboxID); err != nil {
		return RunResult{}, err
	}
	key := strings.Join(cmd, " ")
	for prefix, result := range m.Responses {
		if strings.HasPrefix(key, prefix) {
			return result, nil
		}
	}
	return RunResult{ExitCode: 0}, nil
}

func (m *MockDriver) Stream(ctx context.Context, sandboxID string, cmd []string) (io.ReadCloser, error) {
	res, err := m.Run(ctx, sandboxID, cmd)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(res.Stdout + res.Stderr)), nil
}

func (m *MockDriver) ReadFile(ctx context.Context, sandboxID, path string) ([]byte, error) {
	sb, err := m.get(sandboxID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := sb.files[path]
	if !ok {
		return nil, fmt.Errorf("file %s not found in sandbox %s", path, sandboxID)
	}
	return data, nil
}

func (m *MockDriver) WriteFile(ctx context.Context, sandboxID, path string, data []byte) error {
	sb, err := m.get(sandboxID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sb.files[path] = append([]byte(nil), data...)
	return nil
}

func (m *MockDriver) ListDir(ctx context.Context, sandboxID, path string) ([]FileInfo, error) {
	sb, err := m.get(sandboxID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/") + "/"
	var out []FileInfo
	for p, data := range sb.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, FileInfo{Name: strings.TrimPrefix(p, prefix), Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *MockDriver) Mkdir(ctx context.Context, sandboxID, path string) error {
	_, err := m.get(sandboxID)
	return err
}

func (m *MockDriver) Rm(ctx context.Context, sandboxID, path string) error {
	sb, err := m.get(sandboxID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(sb.files, path)
	return nil
}

func (m *MockDriver) GetProcessURLs(ctx context.Context, sandboxID string) ([]ProcessURL, error) {
	if _, err := m.get(sandboxID); err != nil {
		return nil, err
	}
	return []ProcessURL{{Port: 4096, URL: "http://127.0.0.1:4096"}}, nil
}

func (m *MockDriver) RunCode(ctx context.Context, sandboxID, language, code string) (RunResult, error) {
	if _, err := m.get(sandboxID); err != nil {
		return RunResult{}, err
	}
	return RunResult{ExitCode: 0, Stdout: ""}, nil
}
