package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Store implements coordinator.Persistence using SQLite via database/sql.
// It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the
// schema. An empty path opens an in-memory database, useful for tests and
// for a coordinator run with persistence enabled but nothing durable
// desired across process restarts.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// SQLite serialises writes; one connection avoids SQLITE_BUSY under
	// the concurrent per-provider writes a run produces.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies the schema. New versions should only ADD statements here
// so existing databases keep working without a migration tool.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sandboxes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT    NOT NULL DEFAULT '',
			sandbox_id TEXT    NOT NULL,
			provider   TEXT    NOT NULL,
			repo_url   TEXT    NOT NULL,
			url        TEXT    NOT NULL DEFAULT '',
			created_at TEXT    NOT NULL,
			updated_at TEXT    NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ralphs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			sandbox_id  INTEGER NOT NULL REFERENCES sandboxes(id),
			user_id     TEXT    NOT NULL DEFAULT '',
			task        TEXT    NOT NULL,
			status      TEXT    NOT NULL DEFAULT 'pending',
			iterations  INTEGER,
			created_at  TEXT    NOT NULL,
			updated_at  TEXT    NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS agent_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ralph_id   INTEGER NOT NULL REFERENCES ralphs(id),
			kind       TEXT    NOT NULL,
			data       TEXT    NOT NULL DEFAULT '{}',
			created_at TEXT    NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_ralphs_sandbox ON ralphs(sandbox_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ralph ON agent_events(ralph_id, id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection for callers that need direct
// queries - diagnostics, admin tooling, tests.
func (s *Store) DB() *sql.DB { return s.db }

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// CreateSandbox records a newly created sandbox and returns its row ID as
// a string, suitable for passing back into AttachURL and CreateRalph.
func (s *Store) CreateSandbox(ctx context.Context, userID, sandboxID, provider, repoURL string) (string, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sandboxes (user_id, sandbox_id, provider, repo_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, sandboxID, provider, repoURL, ts, ts)
	if err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// AttachURL records the resolved agent server URL for a sandbox row.
func (s *Store) AttachURL(ctx context.Context, dbID, url string) error {
	id, err := strconv.ParseInt(dbID, 10, 64)
	if err != nil {
		return fmt.Errorf("attach url: invalid dbId %q: %w", dbID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sandboxes SET url = ?, updated_at = ? WHERE id = ?`, url, now(), id)
	if err != nil {
		return fmt.Errorf("attach url: %w", err)
	}
	return nil
}

// CreateRalph records a new run-against-sandbox record and returns its row
// ID as a string.
func (s *Store) CreateRalph(ctx context.Context, userID, dbSandboxID, task string) (string, error) {
	sandboxID, err := strconv.ParseInt(dbSandboxID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("create ralph: invalid dbSandboxId %q: %w", dbSandboxID, err)
	}
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ralphs (sandbox_id, user_id, task, status, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?)
	`, sandboxID, userID, task, ts, ts)
	if err != nil {
		return "", fmt.Errorf("create ralph: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("create ralph: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// AddAgentEvent durably records one event for dbRalphID. data is marshaled
// to JSON as stored; a value that fails to marshal is stored as a string
// describing the failure rather than aborting the write.
func (s *Store) AddAgentEvent(ctx context.Context, dbRalphID, kind string, data any) error {
	ralphID, err := strconv.ParseInt(dbRalphID, 10, 64)
	if err != nil {
		return fmt.Errorf("add agent event: invalid dbRalphId %q: %w", dbRalphID, err)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		payload, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_events (ralph_id, kind, data, created_at) VALUES (?, ?, ?, ?)
	`, ralphID, kind, string(payload), now())
	if err != nil {
		return fmt.Errorf("add agent event: %w", err)
	}
	return nil
}

// UpdateRalphStatus records status and, when non-nil, iterations for
// dbRalphID. A call that would write the same status and iteration count
// already on record is a no-op update (idempotent). Coordinator.runIteration
// is the only caller; the guard covers repeat calls should a second call
// site appear - see coordinator.Persistence's doc comment.
func (s *Store) UpdateRalphStatus(ctx context.Context, dbRalphID, status string, iterations *int) error {
	ralphID, err := strconv.ParseInt(dbRalphID, 10, 64)
	if err != nil {
		return fmt.Errorf("update ralph status: invalid dbRalphId %q: %w", dbRalphID, err)
	}

	var curStatus string
	var curIterations sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT status, iterations FROM ralphs WHERE id = ?`, ralphID)
	if err := row.Scan(&curStatus, &curIterations); err != nil {
		return fmt.Errorf("update ralph status: %w", err)
	}
	if curStatus == status && sameIterations(curIterations, iterations) {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE ralphs SET status = ?, iterations = COALESCE(?, iterations), updated_at = ? WHERE id = ?
	`, status, iterations, now(), ralphID)
	if err != nil {
		return fmt.Errorf("update ralph status: %w", err)
	}
	return nil
}

func sameIterations(cur sql.NullInt64, next *int) bool {
	if next == nil {
		return true
	}
	return cur.Valid && cur.Int64 == int64(*next)
}
