package errors

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"configuration", NewConfigurationError("agents", "empty"), ErrConfiguration},
		{"not found", NewNotFoundError("repo", "api"), ErrNotFound},
		{"already exists", NewAlreadyExistsError("worktree", "/tmp/x"), ErrAlreadyExists},
		{"git", NewGitOperationError("push", New("exit 1")), ErrGitOperation},
		{"conflict", NewMergeConflictError("feat", "main", nil), ErrMergeConflict},
		{"conflict is git", NewMergeConflictError("feat", "main", nil), ErrGitOperation},
		{"lock", &LockTimeoutError{Target: "main"}, ErrLockTimeout},
		{"agent", NewAgentProcessError("t1", 2, nil), ErrAgentProcess},
		{"session", &SessionCorruptedError{TaskID: "t1"}, ErrSessionCorrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !Is(wrapped, tt.sentinel) {
				t.Errorf("expected %v to match %v", wrapped, tt.sentinel)
			}
		})
	}
}

func TestGitOperationErrorMessage(t *testing.T) {
	err := NewGitOperationError("merge", New("exit status 1")).
		WithRepo("api").
		WithBranch("feature/x").
		WithGitOutput("  CONFLICT (content)\n")

	msg := err.Error()
	for _, want := range []string{"git merge", "repo=api", "branch=feature/x", "exit status 1", "CONFLICT (content)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestAsExtractsContext(t *testing.T) {
	err := fmt.Errorf("merge phase: %w", NewMergeConflictError("feat", "main", []string{"a.go", "b.go"}))

	var conflict *MergeConflictError
	if !As(err, &conflict) {
		t.Fatal("expected MergeConflictError")
	}
	if len(conflict.Files) != 2 {
		t.Errorf("expected 2 files, got %d", len(conflict.Files))
	}

	lock := &LockTimeoutError{Target: "main", Holder: "agent-b", Waited: 1500 * time.Millisecond}
	if !strings.Contains(lock.Error(), "agent-b") {
		t.Errorf("lock timeout message should name the holder: %s", lock.Error())
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(&LockTimeoutError{}) {
		t.Error("lock timeout should be recoverable")
	}
	if !IsRecoverable(NewMergeConflictError("a", "b", nil)) {
		t.Error("merge conflict should be recoverable")
	}
	if IsRecoverable(NewGitOperationError("push", nil)) {
		t.Error("plain git failure should not be recoverable")
	}
}
