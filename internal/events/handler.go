package events

import (
	"log"
)

// Handler must handle every event variant. Adding a variant adds a method
// here, so every listener fails to compile until it handles the new case.
type Handler interface {
	OnAgentStarted(AgentStarted)
	OnAgentIdle(AgentIdle)
	OnAgentStopped(AgentStopped)
	OnTaskFound(TaskFound)
	OnTaskStarted(TaskStarted)
	OnTaskCompleted(TaskCompleted)
	OnTaskFailed(TaskFailed)
	OnTaskBlocked(TaskBlocked)
	OnTaskDeferred(TaskDeferred)
	OnTaskStatus(TaskStatus)
	OnGitPull(GitPull)
	OnGitPush(GitPush)
	OnGitPR(GitPR)
	OnGitMerge(GitMerge)
	OnGitCleanup(GitCleanup)
	OnWorktreeCreated(WorktreeCreated)
	OnUncommittedChanges(UncommittedChanges)
	OnCommitRetry(CommitRetry)
	OnLockWaiting(LockWaiting)
	OnLockAcquired(LockAcquired)
	OnLockTimeout(LockTimeout)
	OnLockReleased(LockReleased)
	OnConflictResolve(ConflictResolve)
	OnSessionCorrupted(SessionCorrupted)
	OnLog(Log)
	OnError(Error)
}

// Dispatch routes an event to the matching handler method.
// It reports false for an event it does not recognize.
func Dispatch(h Handler, e Event) bool {
	switch ev := e.(type) {
	case AgentStarted:
		h.OnAgentStarted(ev)
	case AgentIdle:
		h.OnAgentIdle(ev)
	case AgentStopped:
		h.OnAgentStopped(ev)
	case TaskFound:
		h.OnTaskFound(ev)
	case TaskStarted:
		h.OnTaskStarted(ev)
	case TaskCompleted:
		h.OnTaskCompleted(ev)
	case TaskFailed:
		h.OnTaskFailed(ev)
	case TaskBlocked:
		h.OnTaskBlocked(ev)
	case TaskDeferred:
		h.OnTaskDeferred(ev)
	case TaskStatus:
		h.OnTaskStatus(ev)
	case GitPull:
		h.OnGitPull(ev)
	case GitPush:
		h.OnGitPush(ev)
	case GitPR:
		h.OnGitPR(ev)
	case GitMerge:
		h.OnGitMerge(ev)
	case GitCleanup:
		h.OnGitCleanup(ev)
	case WorktreeCreated:
		h.OnWorktreeCreated(ev)
	case UncommittedChanges:
		h.OnUncommittedChanges(ev)
	case CommitRetry:
		h.OnCommitRetry(ev)
	case LockWaiting:
		h.OnLockWaiting(ev)
	case LockAcquired:
		h.OnLockAcquired(ev)
	case LockTimeout:
		h.OnLockTimeout(ev)
	case LockReleased:
		h.OnLockReleased(ev)
	case ConflictResolve:
		h.OnConflictResolve(ev)
	case SessionCorrupted:
		h.OnSessionCorrupted(ev)
	case Log:
		h.OnLog(ev)
	case Error:
		h.OnError(ev)
	default:
		log.Printf("[events] ERROR: no dispatch case for event %T (kind %q)", e, kindOf(e))
		return false
	}
	return true
}

func kindOf(e Event) Kind {
	if e == nil {
		return ""
	}
	return e.Kind()
}

// Func adapts a single function into a Handler that receives every variant.
// Use it for listeners that treat all events uniformly, such as trace logs.
type Func func(Event)

func (f Func) OnAgentStarted(e AgentStarted)             { f(e) }
func (f Func) OnAgentIdle(e AgentIdle)                   { f(e) }
func (f Func) OnAgentStopped(e AgentStopped)             { f(e) }
func (f Func) OnTaskFound(e TaskFound)                   { f(e) }
func (f Func) OnTaskStarted(e TaskStarted)               { f(e) }
func (f Func) OnTaskCompleted(e TaskCompleted)           { f(e) }
func (f Func) OnTaskFailed(e TaskFailed)                 { f(e) }
func (f Func) OnTaskBlocked(e TaskBlocked)               { f(e) }
func (f Func) OnTaskDeferred(e TaskDeferred)             { f(e) }
func (f Func) OnTaskStatus(e TaskStatus)                 { f(e) }
func (f Func) OnGitPull(e GitPull)                       { f(e) }
func (f Func) OnGitPush(e GitPush)                       { f(e) }
func (f Func) OnGitPR(e GitPR)                           { f(e) }
func (f Func) OnGitMerge(e GitMerge)                     { f(e) }
func (f Func) OnGitCleanup(e GitCleanup)                 { f(e) }
func (f Func) OnWorktreeCreated(e WorktreeCreated)       { f(e) }
func (f Func) OnUncommittedChanges(e UncommittedChanges) { f(e) }
func (f Func) OnCommitRetry(e CommitRetry)               { f(e) }
func (f Func) OnLockWaiting(e LockWaiting)               { f(e) }
func (f Func) OnLockAcquired(e LockAcquired)             { f(e) }
func (f Func) OnLockTimeout(e LockTimeout)               { f(e) }
func (f Func) OnLockReleased(e LockReleased)             { f(e) }
func (f Func) OnConflictResolve(e ConflictResolve)       { f(e) }
func (f Func) OnSessionCorrupted(e SessionCorrupted)     { f(e) }
func (f Func) OnLog(e Log)                               { f(e) }
func (f Func) OnError(e Error)                           { f(e) }

var _ Handler = Func(nil)
