package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps sessions and attempts in process memory. It backs engines run
// without a state directory and the engine's tests; nothing survives a restart.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]TaskSession
	attempts []Attempt
}

var (
	_ SessionStore = (*Memory)(nil)
	_ AttemptStore = (*Memory)(nil)
	_ Recoverer    = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]TaskSession)}
}

func (m *Memory) GetSession(taskID string) (*TaskSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[taskID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) SetSession(taskID, agentID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[taskID] = TaskSession{TaskID: taskID, AgentID: agentID, SessionID: sessionID, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) ClearSession(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, taskID)
	return nil
}

func (m *Memory) StartAttempt(taskID, agentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.attempts = append(m.attempts, Attempt{
		ID:        id,
		TaskID:    taskID,
		AgentID:   agentID,
		Outcome:   AttemptRunning,
		StartedAt: time.Now().UTC(),
	})
	return id, nil
}

func (m *Memory) FinishAttempt(id string, outcome AttemptOutcome, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.attempts {
		if m.attempts[i].ID == id {
			now := time.Now().UTC()
			m.attempts[i].Outcome = outcome
			m.attempts[i].Reason = reason
			m.attempts[i].FinishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("finish attempt %s: no such attempt", id)
}

func (m *Memory) ListAttempts(taskID string) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) CountFailures(taskID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.TaskID == taskID && a.Outcome == AttemptFailed {
			n++
		}
	}
	return n, nil
}

// RecoverInterrupted closes running attempts, which in memory only exist if
// the same process restarts its engine.
func (m *Memory) RecoverInterrupted() ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	now := time.Now().UTC()
	for i := range m.attempts {
		if m.attempts[i].Outcome != AttemptRunning {
			continue
		}
		m.attempts[i].Outcome = AttemptInterrupted
		m.attempts[i].Reason = interruptedReason
		m.attempts[i].FinishedAt = &now
		out = append(out, m.attempts[i])
	}
	return out, nil
}
