package state

import "io"

// SessionStore remembers which agent session each task last ran in.
type SessionStore interface {
	GetSession(taskID string) (*TaskSession, error)
	SetSession(taskID, agentID, sessionID string) error
	ClearSession(taskID string) error
}

// AttemptStore keeps the history of attempts per task.
type AttemptStore interface {
	StartAttempt(taskID, agentID string) (string, error)
	FinishAttempt(id string, outcome AttemptOutcome, reason string) error
	ListAttempts(taskID string) ([]Attempt, error)
	CountFailures(taskID string) (int, error)
}

// Recoverer closes attempts a previous process left open.
type Recoverer interface {
	RecoverInterrupted() ([]Attempt, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore composes the focused interfaces for callers that need all of them.
type StateStore interface {
	io.Closer
	Migrator
	SessionStore
	AttemptStore
	Recoverer
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore   = (*DB)(nil)
	_ SessionStore = (*DB)(nil)
	_ AttemptStore = (*DB)(nil)
)
