package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttemptOutcome is how an attempt at a task ended.
type AttemptOutcome string

const (
	AttemptRunning     AttemptOutcome = "running"
	AttemptSucceeded   AttemptOutcome = "succeeded"
	AttemptFailed      AttemptOutcome = "failed"
	AttemptBlocked     AttemptOutcome = "blocked"
	AttemptDeferred    AttemptOutcome = "deferred"
	AttemptInterrupted AttemptOutcome = "interrupted"
)

// Attempt is one pass of an agent loop over a task.
type Attempt struct {
	ID         string
	TaskID     string
	AgentID    string
	Outcome    AttemptOutcome
	Reason     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StartAttempt records the start of an attempt and returns its id.
func (db *DB) StartAttempt(taskID, agentID string) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(`
		INSERT INTO task_attempts (id, task_id, agent_id, outcome, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, taskID, agentID, string(AttemptRunning), formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("start attempt: %w", err)
	}
	return id, nil
}

// FinishAttempt records how an attempt ended.
func (db *DB) FinishAttempt(id string, outcome AttemptOutcome, reason string) error {
	res, err := db.Exec(`
		UPDATE task_attempts SET outcome = ?, reason = ?, finished_at = ?
		WHERE id = ?
	`, string(outcome), reason, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish attempt: no attempt %s", id)
	}
	return nil
}

// ListAttempts returns a task's attempts, oldest first.
func (db *DB) ListAttempts(taskID string) ([]Attempt, error) {
	rows, err := db.Query(`
		SELECT id, task_id, agent_id, outcome, reason, started_at, finished_at
		FROM task_attempts WHERE task_id = ?
		ORDER BY started_at, rowid
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// CountFailures returns how many attempts at a task failed.
func (db *DB) CountFailures(taskID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM task_attempts WHERE task_id = ? AND outcome = ?
	`, taskID, string(AttemptFailed)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var outcome, startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.TaskID, &a.AgentID, &outcome, &a.Reason, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Outcome = AttemptOutcome(outcome)
		a.StartedAt, _ = parseTime(startedAt)
		a.FinishedAt = parseNullableTime(finishedAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
