package state

import (
	"database/sql"
	"fmt"
	"time"
)

// TaskSession is the agent conversation a task last ran in.
type TaskSession struct {
	TaskID    string
	AgentID   string
	SessionID string
	UpdatedAt time.Time
}

// GetSession returns the stored session for a task, or nil if there is none.
func (db *DB) GetSession(taskID string) (*TaskSession, error) {
	row := db.QueryRow(`
		SELECT task_id, agent_id, session_id, updated_at
		FROM task_sessions WHERE task_id = ?
	`, taskID)

	var s TaskSession
	var updatedAt string
	err := row.Scan(&s.TaskID, &s.AgentID, &s.SessionID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.UpdatedAt, _ = parseTime(updatedAt)
	return &s, nil
}

// SetSession records the session a task ran in, replacing any previous one.
func (db *DB) SetSession(taskID, agentID, sessionID string) error {
	_, err := db.Exec(`
		INSERT INTO task_sessions (task_id, agent_id, session_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`, taskID, agentID, sessionID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// ClearSession forgets the session of a task so the next run starts fresh.
func (db *DB) ClearSession(taskID string) error {
	if _, err := db.Exec("DELETE FROM task_sessions WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
