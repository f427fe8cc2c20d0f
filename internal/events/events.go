// Package events defines the closed set of events the engine emits and the
// synchronous bus that delivers them.
package events

import (
	"time"
)

// Kind is the wire name of an event variant.
type Kind string

const (
	KindAgentStarted       Kind = "agent:started"
	KindAgentIdle          Kind = "agent:idle"
	KindAgentStopped       Kind = "agent:stopped"
	KindTaskFound          Kind = "task:found"
	KindTaskStarted        Kind = "task:started"
	KindTaskCompleted      Kind = "task:completed"
	KindTaskFailed         Kind = "task:failed"
	KindTaskBlocked        Kind = "task:blocked"
	KindTaskDeferred       Kind = "task:deferred"
	KindTaskStatus         Kind = "task:status"
	KindGitPull            Kind = "git:pull"
	KindGitPush            Kind = "git:push"
	KindGitPR              Kind = "git:pr"
	KindGitMerge           Kind = "git:merge"
	KindGitCleanup         Kind = "git:cleanup"
	KindWorktreeCreated    Kind = "worktree:created"
	KindUncommittedChanges Kind = "changes:uncommitted"
	KindCommitRetry        Kind = "commit:retry"
	KindLockWaiting        Kind = "lock:waiting"
	KindLockAcquired       Kind = "lock:acquired"
	KindLockTimeout        Kind = "lock:timeout"
	KindLockReleased       Kind = "lock:released"
	KindConflictResolve    Kind = "conflict:resolve"
	KindSessionCorrupted   Kind = "session:corrupted"
	KindLog                Kind = "log"
	KindError              Kind = "error"
)

// AllKinds returns every variant kind. A new variant must be added here.
func AllKinds() []Kind {
	return []Kind{
		KindAgentStarted, KindAgentIdle, KindAgentStopped,
		KindTaskFound, KindTaskStarted, KindTaskCompleted, KindTaskFailed,
		KindTaskBlocked, KindTaskDeferred, KindTaskStatus,
		KindGitPull, KindGitPush, KindGitPR, KindGitMerge, KindGitCleanup,
		KindWorktreeCreated, KindUncommittedChanges, KindCommitRetry,
		KindLockWaiting, KindLockAcquired, KindLockTimeout, KindLockReleased,
		KindConflictResolve, KindSessionCorrupted,
		KindLog, KindError,
	}
}

// Event is implemented only by the variants in this package.
type Event interface {
	Kind() Kind
	Meta() Header
	sealed()
}

// Header carries the fields every event has.
type Header struct {
	Time  time.Time
	Agent string
}

// Meta returns the header.
func (h Header) Meta() Header { return h }

// At stamps a header for the given agent with the current time.
func At(agent string) Header {
	return Header{Time: time.Now(), Agent: agent}
}

type AgentStarted struct {
	Header
}

type AgentIdle struct {
	Header
	PollInterval time.Duration
}

type AgentStopped struct {
	Header
	Reason string
}

type TaskFound struct {
	Header
	TaskID string
	Title  string
	Status string
}

// TaskStarted is emitted once the working directory is ready and the agent is about to run.
type TaskStarted struct {
	Header
	TaskID    string
	Dir       string
	Resuming  bool
	SessionID string
}

type TaskCompleted struct {
	Header
	TaskID   string
	Status   string
	Duration time.Duration
}

// TaskFailed reports a task-local failure; the task returns to the queue or is blocked.
type TaskFailed struct {
	Header
	TaskID  string
	Reason  string
	Attempt int
}

type TaskBlocked struct {
	Header
	TaskID string
	Reason string
}

// TaskDeferred means the work is committed but the merge was skipped this cycle.
type TaskDeferred struct {
	Header
	TaskID string
	Target string
	Reason string
}

type TaskStatus struct {
	Header
	TaskID string
	From   string
	To     string
}

type GitPull struct {
	Header
	Repo   string
	Branch string
	OK     bool
	Reason string
}

type GitPush struct {
	Header
	Repo   string
	Branch string
	OK     bool
	Reason string
}

type GitPR struct {
	Header
	Repo     string
	Branch   string
	Target   string
	URL      string
	Existing bool
	OK       bool
	Reason   string
}

// MergeOutcome values for GitMerge.
const (
	MergeMerged   = "merged"
	MergeConflict = "conflict"
	MergeFailed   = "failed"
)

type GitMerge struct {
	Header
	Repo    string
	Source  string
	Target  string
	Outcome string
	Files   []string
	Reason  string
}

type GitCleanup struct {
	Header
	Repo    string
	Deleted []string
	Failed  map[string]string
}

type WorktreeCreated struct {
	Header
	Repo   string
	Branch string
	Path   string
}

type UncommittedChanges struct {
	Header
	TaskID string
	Dir    string
	Files  []string
}

type CommitRetry struct {
	Header
	TaskID  string
	Attempt int
	Max     int
}

type LockWaiting struct {
	Header
	Target string
	Holder string
	Waited time.Duration
}

type LockAcquired struct {
	Header
	Target string
	Waited time.Duration
}

type LockTimeout struct {
	Header
	Target string
	Holder string
	Waited time.Duration
}

type LockReleased struct {
	Header
	Target string
	Held   time.Duration
}

type ConflictResolve struct {
	Header
	TaskID  string
	Target  string
	Attempt int
	Max     int
	Files   []string
}

type SessionCorrupted struct {
	Header
	TaskID    string
	SessionID string
	Marker    string
}

type Log struct {
	Header
	Message string
}

type Error struct {
	Header
	TaskID string
	Reason string
	Err    error
}

func (AgentStarted) Kind() Kind       { return KindAgentStarted }
func (AgentIdle) Kind() Kind          { return KindAgentIdle }
func (AgentStopped) Kind() Kind       { return KindAgentStopped }
func (TaskFound) Kind() Kind          { return KindTaskFound }
func (TaskStarted) Kind() Kind        { return KindTaskStarted }
func (TaskCompleted) Kind() Kind      { return KindTaskCompleted }
func (TaskFailed) Kind() Kind         { return KindTaskFailed }
func (TaskBlocked) Kind() Kind        { return KindTaskBlocked }
func (TaskDeferred) Kind() Kind       { return KindTaskDeferred }
func (TaskStatus) Kind() Kind         { return KindTaskStatus }
func (GitPull) Kind() Kind            { return KindGitPull }
func (GitPush) Kind() Kind            { return KindGitPush }
func (GitPR) Kind() Kind              { return KindGitPR }
func (GitMerge) Kind() Kind           { return KindGitMerge }
func (GitCleanup) Kind() Kind         { return KindGitCleanup }
func (WorktreeCreated) Kind() Kind    { return KindWorktreeCreated }
func (UncommittedChanges) Kind() Kind { return KindUncommittedChanges }
func (CommitRetry) Kind() Kind        { return KindCommitRetry }
func (LockWaiting) Kind() Kind        { return KindLockWaiting }
func (LockAcquired) Kind() Kind       { return KindLockAcquired }
func (LockTimeout) Kind() Kind        { return KindLockTimeout }
func (LockReleased) Kind() Kind       { return KindLockReleased }
func (ConflictResolve) Kind() Kind    { return KindConflictResolve }
func (SessionCorrupted) Kind() Kind   { return KindSessionCorrupted }
func (Log) Kind() Kind                { return KindLog }
func (Error) Kind() Kind              { return KindError }

func (AgentStarted) sealed()       {}
func (AgentIdle) sealed()          {}
func (AgentStopped) sealed()       {}
func (TaskFound) sealed()          {}
func (TaskStarted) sealed()        {}
func (TaskCompleted) sealed()      {}
func (TaskFailed) sealed()         {}
func (TaskBlocked) sealed()        {}
func (TaskDeferred) sealed()       {}
func (TaskStatus) sealed()         {}
func (GitPull) sealed()            {}
func (GitPush) sealed()            {}
func (GitPR) sealed()              {}
func (GitMerge) sealed()           {}
func (GitCleanup) sealed()         {}
func (WorktreeCreated) sealed()    {}
func (UncommittedChanges) sealed() {}
func (CommitRetry) sealed()        {}
func (LockWaiting) sealed()        {}
func (LockAcquired) sealed()       {}
func (LockTimeout) sealed()        {}
func (LockReleased) sealed()       {}
func (ConflictResolve) sealed()    {}
func (SessionCorrupted) sealed()   {}
func (Log) sealed()                {}
func (Error) sealed()              {}
