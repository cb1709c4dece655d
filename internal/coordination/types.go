// Package coordination implements the host-global agent/task/lock substrate
// shared by every indexer and agent instance on the machine, backed by a
// single modernc.org/sqlite database at ~/.memorybank/agentboard.db.
package coordination

import "time"

// AgentStatus is the lifecycle state of a registered Agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "ACTIVE"
	AgentInactive AgentStatus = "INACTIVE"
)

// Agent is a coordination entity scoped to one project. At most one Agent
// per projectId may have Status == AgentActive at any time.
type Agent struct {
	AgentID       string
	ProjectID     string
	SessionID     string
	Status        AgentStatus
	Focus         string
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Task is a project-centric work item, optionally delegated from another
// project (FromProject/FromAgent set).
type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	FromProject string
	FromAgent   string
	Status      TaskStatus
	ClaimedBy   string
	ClaimedAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Lock is a resource lease held by exactly one agent at a time, keyed by
// (resource, projectId).
type Lock struct {
	Resource   string
	ProjectID  string
	AgentID    string
	AcquiredAt time.Time
}

// SessionEvent is one entry in the append-only journal of agent actions.
type SessionEvent struct {
	ID        int64
	ProjectID string
	SessionID string
	AgentID   string
	EventType string
	EventData string // JSON
	Timestamp time.Time
}

// Message is a point-to-point note left for an agent in another project,
// the append/list primitive spec.md's external-interfaces table names
// without spelling out richer semantics (no read receipts, no threading).
type Message struct {
	ID          int64
	FromProject string
	ToProject   string
	FromAgent   string
	Body        string
	CreatedAt   time.Time
}
