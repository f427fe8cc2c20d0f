// Package errors defines the error taxonomy shared by the engine.
//
// Typed errors carry the context a caller needs to decide what to do next:
// task-local failures become events plus a status write, infrastructure
// failures are retried on the next pass, and failure to read the task store
// stops the engine.
//
// Checking errors:
//
//	var conflict *errors.MergeConflictError
//	if errors.As(err, &conflict) { ... }
//
//	if errors.Is(err, errors.ErrLockTimeout) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers import one package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinels matched by the typed errors below through their Is methods.
var (
	ErrConfiguration    = New("invalid configuration")
	ErrNotFound         = New("not found")
	ErrAlreadyExists    = New("already exists")
	ErrGitOperation     = New("git operation failed")
	ErrMergeConflict    = New("merge conflict")
	ErrLockTimeout      = New("merge lock timeout")
	ErrAgentProcess     = New("agent process failed")
	ErrSessionCorrupted = New("agent session corrupted")
	ErrTaskStore        = New("task store unavailable")
)

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Key    string
	Reason string
}

func NewConfigurationError(key, reason string) *ConfigurationError {
	return &ConfigurationError{Key: key, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NotFoundError reports a missing resource such as a repository or branch.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	Cause        error
}

func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause attaches the underlying error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.Cause = cause
	return e
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *NotFoundError) Unwrap() error        { return e.Cause }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyExistsError reports a resource that cannot be created twice.
type AlreadyExistsError struct {
	ResourceType string
	ResourceID   string
}

func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{ResourceType: resourceType, ResourceID: resourceID}
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.ResourceType, e.ResourceID)
}

func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

// GitOperationError wraps a failed git invocation with its context.
type GitOperationError struct {
	Op        string
	Repo      string
	Branch    string
	GitOutput string
	Cause     error
}

// NewGitOperationError creates a GitOperationError for the named operation.
func NewGitOperationError(op string, cause error) *GitOperationError {
	return &GitOperationError{Op: op, Cause: cause}
}

func (e *GitOperationError) WithRepo(repo string) *GitOperationError {
	e.Repo = repo
	return e
}

func (e *GitOperationError) WithBranch(branch string) *GitOperationError {
	e.Branch = branch
	return e
}

func (e *GitOperationError) WithGitOutput(output string) *GitOperationError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

func (e *GitOperationError) Error() string {
	var parts []string
	if e.Repo != "" {
		parts = append(parts, "repo="+e.Repo)
	}
	if e.Branch != "" {
		parts = append(parts, "branch="+e.Branch)
	}
	prefix := "git " + e.Op
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	msg := prefix
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\n%s", msg, e.GitOutput)
	}
	return msg
}

func (e *GitOperationError) Unwrap() error        { return e.Cause }
func (e *GitOperationError) Is(target error) bool { return target == ErrGitOperation }

// MergeConflictError is the recoverable merge failure: the agent can resolve it.
type MergeConflictError struct {
	Source string
	Target string
	Files  []string
}

func NewMergeConflictError(source, target string, files []string) *MergeConflictError {
	return &MergeConflictError{Source: source, Target: target, Files: files}
}

func (e *MergeConflictError) Error() string {
	msg := fmt.Sprintf("merge conflict merging %s into %s", e.Source, e.Target)
	if len(e.Files) > 0 {
		msg += ": " + strings.Join(e.Files, ", ")
	}
	return msg
}

func (e *MergeConflictError) Is(target error) bool {
	return target == ErrMergeConflict || target == ErrGitOperation
}

// LockTimeoutError means the merge lock was not acquired in time.
// Callers skip merging for this cycle.
type LockTimeoutError struct {
	Target  string
	Holder  string
	Waited  time.Duration
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for merge lock on %s (held by %s)",
		e.Waited.Round(time.Millisecond), e.Target, e.Holder)
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// AgentProcessError reports an agent run that crashed or could not start.
type AgentProcessError struct {
	TaskID   string
	ExitCode int
	Cause    error
}

func NewAgentProcessError(taskID string, exitCode int, cause error) *AgentProcessError {
	return &AgentProcessError{TaskID: taskID, ExitCode: exitCode, Cause: cause}
}

func (e *AgentProcessError) Error() string {
	msg := fmt.Sprintf("agent process for task %s exited with code %d", e.TaskID, e.ExitCode)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AgentProcessError) Unwrap() error        { return e.Cause }
func (e *AgentProcessError) Is(target error) bool { return target == ErrAgentProcess }

// SessionCorruptedError marks a stored agent session that can no longer be resumed.
type SessionCorruptedError struct {
	TaskID    string
	SessionID string
	Marker    string
}

func (e *SessionCorruptedError) Error() string {
	return fmt.Sprintf("session %s for task %s is corrupted: %s", e.SessionID, e.TaskID, e.Marker)
}

func (e *SessionCorruptedError) Is(target error) bool { return target == ErrSessionCorrupted }

// IsRecoverable reports whether a failure should be retried on a later pass
// instead of blocking the task.
func IsRecoverable(err error) bool {
	return Is(err, ErrLockTimeout) || Is(err, ErrMergeConflict) || Is(err, ErrSessionCorrupted)
}
