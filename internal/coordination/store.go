package coordination

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	focus TEXT NOT NULL DEFAULT '',
	last_heartbeat INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (agent_id, project_id)
);
CREATE INDEX IF NOT EXISTS idx_agents_project_status ON agents(project_id, status);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	from_project TEXT NOT NULL DEFAULT '',
	from_agent TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	claimed_by TEXT NOT NULL DEFAULT '',
	claimed_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);

CREATE TABLE IF NOT EXISTS locks (
	resource TEXT NOT NULL,
	project_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	acquired_at INTEGER NOT NULL,
	PRIMARY KEY (resource, project_id)
);

CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	event_data TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_project ON session_events(project_id, timestamp);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_project TEXT NOT NULL,
	to_project TEXT NOT NULL,
	from_agent TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_to_project ON messages(to_project, created_at);
`

// Store is the coordination substrate: one database, shared by every
// indexer/agent instance on the host, across all projects.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path, applies the schema,
// and records the schema version. The caller is expected to pass
// ~/.memorybank/agentboard.db; this package does not resolve that path
// itself, the caller's config layer does.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, codeerr.Storage("open coordination database", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, codeerr.Storage(fmt.Sprintf("apply pragma %q", pragma), err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, codeerr.Storage("apply coordination schema", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		db.Close()
		return nil, codeerr.Storage("read schema_version", err)
	}
	if count == 0 {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			db.Close()
			return nil, codeerr.Storage("seed schema_version", err)
		}
	}

	s := &Store{db: db}
	if err := s.checkpoint(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// checkpoint truncates the WAL back into the main database file after every
// write so independent read-only readers never need to cooperate with the
// writer (spec.md's external-reader guarantee — ordinary WAL mode alone
// does not provide this, since a reader that doesn't also see the -wal file
// observes stale state).
func (s *Store) checkpoint() error {
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return codeerr.Storage("checkpoint coordination database", err)
	}
	return nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

// Register implements spec.md §4.5's register: inside one transaction,
// demote every currently ACTIVE agent for projectId, then insert the new
// agent with a generated suffix appended to baseAgentID. Returns the full
// agentId and sessionId.
func (s *Store) Register(ctx context.Context, projectID, baseAgentID, sessionID string) (agentID string, resolvedSessionID string, err error) {
	if projectID == "" || baseAgentID == "" {
		return "", "", codeerr.Validation("register requires projectId and baseAgentId", nil)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	agentID = fmt.Sprintf("%s-%s", baseAgentID, uuid.NewString()[:8])

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", codeerr.Storage("begin register transaction", err)
	}
	defer tx.Rollback()

	now := nowMillis()
	if _, err := tx.ExecContext(ctx,
		`UPDATE agents SET status = ? WHERE project_id = ? AND status = ?`,
		AgentInactive, projectID, AgentActive,
	); err != nil {
		return "", "", codeerr.Storage("demote active agents", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO agents (agent_id, project_id, session_id, status, focus, last_heartbeat, created_at)
		 VALUES (?, ?, ?, ?, '', ?, ?)`,
		agentID, projectID, sessionID, AgentActive, now, now,
	); err != nil {
		return "", "", codeerr.Storage("insert registered agent", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", codeerr.Storage("commit register transaction", err)
	}
	if err := s.checkpoint(); err != nil {
		return "", "", err
	}
	return agentID, sessionID, nil
}

// ClaimTask implements spec.md §4.5's claimTask: a conditional update that
// succeeds iff the task is currently PENDING. Returns true iff one row
// changed; never returns an error for the "already claimed" case, per
// spec.md §7's ConcurrencyConflict policy (returned as a boolean, not
// raised).
func (s *Store) ClaimTask(ctx context.Context, projectID, taskID, agentID string) (bool, error) {
	if projectID == "" || taskID == "" || agentID == "" {
		return false, codeerr.Validation("claimTask requires projectId, taskId, agentId", nil)
	}
	now := nowMillis()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, claimed_by = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ? AND project_id = ? AND status = ?`,
		TaskInProgress, agentID, now, now, taskID, projectID, TaskPending,
	)
	if err != nil {
		return false, codeerr.Storage("claim task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, codeerr.Storage("read claimTask result", err)
	}
	if err := s.checkpoint(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteTask succeeds unless the task is already COMPLETED, per spec.md
// §3's Task state machine.
func (s *Store) CompleteTask(ctx context.Context, projectID, taskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND project_id = ? AND status != ?`,
		TaskCompleted, nowMillis(), taskID, projectID, TaskCompleted,
	)
	if err != nil {
		return false, codeerr.Storage("complete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, codeerr.Storage("read completeTask result", err)
	}
	if err := s.checkpoint(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateTask inserts a new task, applying spec.md §4.5's task-deduplication
// rule when fromProject/fromAgent indicate a delegated (external) task: if
// an existing task in projectID is a near-duplicate by title/description
// similarity, no row is inserted and the existing task is returned instead.
func (s *Store) CreateTask(ctx context.Context, t Task) (resolved Task, duplicate bool, err error) {
	if t.ProjectID == "" || t.Title == "" {
		return Task{}, false, codeerr.Validation("createTask requires projectId and title", nil)
	}

	if t.FromProject != "" {
		existing, err := s.tasksForProject(ctx, t.ProjectID)
		if err != nil {
			return Task{}, false, err
		}
		for _, e := range existing {
			if isDuplicateTask(e.Title, e.Description, t.Title, t.Description) {
				return e, true, nil
			}
		}
	}

	if t.ID == "" {
		prefix := "TASK-"
		if t.FromProject != "" {
			prefix = "EXT-"
		}
		t.ID = prefix + uuid.NewString()[:12]
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	now := nowMillis()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, project_id, title, description, from_project, from_agent, status, claimed_by, claimed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '', 0, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.FromProject, t.FromAgent, t.Status, now, now,
	)
	if err != nil {
		return Task{}, false, codeerr.Storage("insert task", err)
	}
	if err := s.checkpoint(); err != nil {
		return Task{}, false, err
	}
	t.CreatedAt, t.UpdatedAt = fromMillis(now), fromMillis(now)
	return t, false, nil
}

func (s *Store) tasksForProject(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, title, description, from_project, from_agent, status, claimed_by, claimed_at, created_at, updated_at
		 FROM tasks WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, codeerr.Storage("query tasks for project", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var claimedAt, createdAt, updatedAt int64
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.FromProject, &t.FromAgent,
			&t.Status, &t.ClaimedBy, &claimedAt, &createdAt, &updatedAt); err != nil {
			return nil, codeerr.Storage("scan task row", err)
		}
		t.ClaimedAt, t.CreatedAt, t.UpdatedAt = fromMillis(claimedAt), fromMillis(createdAt), fromMillis(updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimResource implements spec.md §4.5's claimResource: inside a
// transaction, select the existing lock; if absent or already owned by
// agentID, upsert the lock row. Returns true iff the caller now owns it.
func (s *Store) ClaimResource(ctx context.Context, projectID, resource, agentID string) (bool, error) {
	if projectID == "" || resource == "" || agentID == "" {
		return false, codeerr.Validation("claimResource requires projectId, resource, agentId", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, codeerr.Storage("begin claimResource transaction", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT agent_id FROM locks WHERE resource = ? AND project_id = ?`, resource, projectID,
	).Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
		// no existing lock, proceed to claim
	case err != nil:
		return false, codeerr.Storage("read existing lock", err)
	case owner != agentID:
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO locks (resource, project_id, agent_id, acquired_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(resource, project_id) DO UPDATE SET agent_id = excluded.agent_id, acquired_at = excluded.acquired_at`,
		resource, projectID, agentID, nowMillis(),
	); err != nil {
		return false, codeerr.Storage("upsert lock", err)
	}

	if err := tx.Commit(); err != nil {
		return false, codeerr.Storage("commit claimResource transaction", err)
	}
	if err := s.checkpoint(); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseResource deletes the lock iff owned by agentID.
func (s *Store) ReleaseResource(ctx context.Context, projectID, resource, agentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE resource = ? AND project_id = ? AND agent_id = ?`,
		resource, projectID, agentID,
	)
	if err != nil {
		return false, codeerr.Storage("release lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, codeerr.Storage("read releaseResource result", err)
	}
	if err := s.checkpoint(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetLocks returns every lock currently held for projectID.
func (s *Store) GetLocks(ctx context.Context, projectID string) ([]Lock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource, project_id, agent_id, acquired_at FROM locks WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, codeerr.Storage("query locks", err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var l Lock
		var acquiredAt int64
		if err := rows.Scan(&l.Resource, &l.ProjectID, &l.AgentID, &acquiredAt); err != nil {
			return nil, codeerr.Storage("scan lock row", err)
		}
		l.AcquiredAt = fromMillis(acquiredAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetActiveAgent returns the ACTIVE agent for projectID, if any.
func (s *Store) GetActiveAgent(ctx context.Context, projectID string) (Agent, bool, error) {
	var a Agent
	var lastHeartbeat, createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, project_id, session_id, status, focus, last_heartbeat, created_at
		 FROM agents WHERE project_id = ? AND status = ?`, projectID, AgentActive,
	).Scan(&a.AgentID, &a.ProjectID, &a.SessionID, &a.Status, &a.Focus, &lastHeartbeat, &createdAt)
	if err == sql.ErrNoRows {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, codeerr.Storage("query active agent", err)
	}
	a.LastHeartbeat, a.CreatedAt = fromMillis(lastHeartbeat), fromMillis(createdAt)
	return a, true, nil
}

// LogSessionEvent implements spec.md §4.5's logSessionEvent: unconditional
// append.
func (s *Store) LogSessionEvent(ctx context.Context, e SessionEvent) error {
	if e.ProjectID == "" || e.SessionID == "" || e.EventType == "" {
		return codeerr.Validation("logSessionEvent requires projectId, sessionId, eventType", nil)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (project_id, session_id, agent_id, event_type, event_data, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ProjectID, e.SessionID, e.AgentID, e.EventType, e.EventData, nowMillis(),
	)
	if err != nil {
		return codeerr.Storage("log session event", err)
	}
	return s.checkpoint()
}

// GetSessionEvents returns every event for projectId, oldest first, per
// spec.md §5's "session events for one session are strictly time-ordered"
// guarantee.
func (s *Store) GetSessionEvents(ctx context.Context, projectID string) ([]SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, session_id, agent_id, event_type, event_data, timestamp
		 FROM session_events WHERE project_id = ? ORDER BY timestamp ASC, id ASC`, projectID)
	if err != nil {
		return nil, codeerr.Storage("query session events", err)
	}
	defer rows.Close()

	var out []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var ts int64
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.AgentID, &e.EventType, &e.EventData, &ts); err != nil {
			return nil, codeerr.Storage("scan session event row", err)
		}
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SendMessage appends a cross-project message (the messages table spec.md's
// external-interfaces section names without further detail).
func (s *Store) SendMessage(ctx context.Context, m Message) error {
	if m.FromProject == "" || m.ToProject == "" || m.Body == "" {
		return codeerr.Validation("sendMessage requires fromProject, toProject, body", nil)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (from_project, to_project, from_agent, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.FromProject, m.ToProject, m.FromAgent, m.Body, nowMillis(),
	)
	if err != nil {
		return codeerr.Storage("send message", err)
	}
	return s.checkpoint()
}

// GetMessages returns messages addressed to toProject, oldest first.
func (s *Store) GetMessages(ctx context.Context, toProject string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_project, to_project, from_agent, body, created_at
		 FROM messages WHERE to_project = ? ORDER BY created_at ASC, id ASC`, toProject)
	if err != nil {
		return nil, codeerr.Storage("query messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.FromProject, &m.ToProject, &m.FromAgent, &m.Body, &createdAt); err != nil {
			return nil, codeerr.Storage("scan message row", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CleanupStaleAgents implements spec.md §4.5's cleanupStaleAgents: demotes
// every ACTIVE agent whose lastHeartbeat is older than thresholdMinutes.
// Returns the number of agents demoted.
func (s *Store) CleanupStaleAgents(ctx context.Context, thresholdMinutes int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(thresholdMinutes) * time.Minute).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ? WHERE status = ? AND last_heartbeat < ?`,
		AgentInactive, AgentActive, cutoff,
	)
	if err != nil {
		return 0, codeerr.Storage("cleanup stale agents", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, codeerr.Storage("read cleanupStaleAgents result", err)
	}
	if err := s.checkpoint(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// CleanupOrphanedLocks implements spec.md §4.5's cleanupOrphanedLocks:
// deletes locks whose agentId is not currently ACTIVE for the same project.
// Returns the number of locks removed.
func (s *Store) CleanupOrphanedLocks(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM locks
		WHERE NOT EXISTS (
			SELECT 1 FROM agents
			WHERE agents.agent_id = locks.agent_id
			  AND agents.project_id = locks.project_id
			  AND agents.status = ?
		)`, AgentActive,
	)
	if err != nil {
		return 0, codeerr.Storage("cleanup orphaned locks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, codeerr.Storage("read cleanupOrphanedLocks result", err)
	}
	if err := s.checkpoint(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Heartbeat refreshes an agent's lastHeartbeat, keeping it eligible against
// CleanupStaleAgents' threshold.
func (s *Store) Heartbeat(ctx context.Context, projectID, agentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_heartbeat = ? WHERE project_id = ? AND agent_id = ?`,
		nowMillis(), projectID, agentID,
	)
	if err != nil {
		return codeerr.Storage("heartbeat", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return codeerr.Storage("read heartbeat result", err)
	}
	if n == 0 {
		return codeerr.Validation("heartbeat: unknown agent", nil).WithDetail("agentId", agentID)
	}
	return s.checkpoint()
}

// DefaultPath returns the host-global coordination database path,
// ~/.memorybank/agentboard.db, per spec.md §6.
func DefaultPath(homeDir string) string {
	return filepath.Join(homeDir, ".memorybank", "agentboard.db")
}
