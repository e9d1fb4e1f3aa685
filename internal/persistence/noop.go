package persistence

import "context"

// NoopStore implements coordinator.Persistence by discarding everything.
// It exists for callers that want an explicit, discoverable
// "persistence disabled" value rather than relying on every
// caller correctly handling a nil Persistence.
type NoopStore struct{}

func (NoopStore) CreateSandbox(context.Context, string, string, string, string) (string, error) {
	return "", nil
}

func (NoopStore) AttachURL(context.Context, string, string) error { return nil }

func (NoopStore) CreateRalph(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (NoopStore) AddAgentEvent(context.Context, string, string, any) error { return nil }

func (NoopStore) UpdateRalphStatus(context.Context, string, string, *int) error { return nil }
