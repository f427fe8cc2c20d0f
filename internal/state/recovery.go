package state

import "fmt"

// interruptedReason is recorded on attempts closed by RecoverInterrupted.
const interruptedReason = "process exited during attempt"

// RecoverInterrupted closes attempts left running by a previous process and
// returns them. Their tasks may still be marked in progress in the task store;
// the caller decides what to do with them.
func (db *DB) RecoverInterrupted() ([]Attempt, error) {
	rows, err := db.Query(`
		SELECT id, task_id, agent_id, outcome, reason, started_at, finished_at
		FROM task_attempts WHERE outcome = ?
		ORDER BY started_at, rowid
	`, string(AttemptRunning))
	if err != nil {
		return nil, fmt.Errorf("list running attempts: %w", err)
	}
	attempts, err := scanAttempts(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range attempts {
		if err := db.FinishAttempt(attempts[i].ID, AttemptInterrupted, interruptedReason); err != nil {
			return nil, err
		}
		attempts[i].Outcome = AttemptInterrupted
		attempts[i].Reason = interruptedReason
	}
	return attempts, nil
}
