package coordinator

import "context"

// Persistence is the optional Persistence Store contract: durable records
// of sandboxes, runs, and events. Every call is best-effort from the
// Coordinator's point of view — a Persistence implementation's errors are
// logged and never propagate into the run's control flow or its event
// stream. A nil Persistence is valid; Coordinator treats it as a no-op.
type Persistence interface {
	CreateSandbox(ctx context.Context, userID, sandboxID, provider, repoURL string) (dbID string, err error)
	AttachURL(ctx context.Context, dbID, url string) error
	CreateRalph(ctx context.Context, userID, dbSandboxID, task string) (dbRalphID string, err error)
	AddAgentEvent(ctx context.Context, dbRalphID, kind string, data any) error
	// UpdateRalphStatus records status (and, once known, the iteration
	// count) for dbRalphID. It is called exactly once per provider by the
	// Coordinator after that provider's Iteration Engine returns,
	// regardless of which variant ran — see DESIGN.md's resolution of the
	// "who calls updateRalphStatus" open question. Implementations should
	// still treat repeat calls with an unchanged status as idempotent, as
	// a defense-in-depth measure against any future second call site.
	UpdateRalphStatus(ctx context.Context, dbRalphID, status string, iterations *int) error
}
