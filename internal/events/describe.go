package events

import (
	"fmt"
	"strings"
	"time"
)

// Describe renders an event as a single human-readable line without the
// agent prefix. It is shared by the debug log and the console output.
func Describe(e Event) string {
	switch ev := e.(type) {
	case AgentStarted:
		return "agent started"
	case AgentIdle:
		return fmt.Sprintf("idle, next poll in %s", ev.PollInterval)
	case AgentStopped:
		if ev.Reason == "" {
			return "agent stopped"
		}
		return "agent stopped: " + ev.Reason
	case TaskFound:
		return fmt.Sprintf("found task %s (%s) %q", ev.TaskID, ev.Status, ev.Title)
	case TaskStarted:
		verb := "starting"
		if ev.Resuming {
			verb = "resuming session " + ev.SessionID + " for"
		}
		return fmt.Sprintf("%s task %s in %s", verb, ev.TaskID, ev.Dir)
	case TaskCompleted:
		return fmt.Sprintf("task %s finished as %s after %s", ev.TaskID, ev.Status, ev.Duration.Round(time.Second))
	case TaskFailed:
		return fmt.Sprintf("task %s failed (attempt %d): %s", ev.TaskID, ev.Attempt, ev.Reason)
	case TaskBlocked:
		return fmt.Sprintf("task %s blocked: %s", ev.TaskID, ev.Reason)
	case TaskDeferred:
		return fmt.Sprintf("merge of task %s into %s deferred: %s", ev.TaskID, ev.Target, ev.Reason)
	case TaskStatus:
		return fmt.Sprintf("task %s: %s -> %s", ev.TaskID, ev.From, ev.To)
	case GitPull:
		return gitLine("pull", ev.Repo, ev.Branch, ev.OK, ev.Reason)
	case GitPush:
		return gitLine("push", ev.Repo, ev.Branch, ev.OK, ev.Reason)
	case GitPR:
		if !ev.OK {
			return fmt.Sprintf("pr %s:%s -> %s failed: %s", ev.Repo, ev.Branch, ev.Target, ev.Reason)
		}
		if ev.Existing {
			return fmt.Sprintf("pr %s:%s -> %s already open %s", ev.Repo, ev.Branch, ev.Target, ev.URL)
		}
		return fmt.Sprintf("pr %s:%s -> %s opened %s", ev.Repo, ev.Branch, ev.Target, ev.URL)
	case GitMerge:
		line := fmt.Sprintf("merge %s:%s -> %s %s", ev.Repo, ev.Source, ev.Target, ev.Outcome)
		if len(ev.Files) > 0 {
			line += " [" + strings.Join(ev.Files, ", ") + "]"
		}
		if ev.Reason != "" {
			line += ": " + ev.Reason
		}
		return line
	case GitCleanup:
		return fmt.Sprintf("cleanup %s: %d deleted, %d failed", ev.Repo, len(ev.Deleted), len(ev.Failed))
	case WorktreeCreated:
		return fmt.Sprintf("worktree %s:%s created at %s", ev.Repo, ev.Branch, ev.Path)
	case UncommittedChanges:
		return fmt.Sprintf("task %s left %d uncommitted files in %s", ev.TaskID, len(ev.Files), ev.Dir)
	case CommitRetry:
		return fmt.Sprintf("asking agent to commit task %s (%d/%d)", ev.TaskID, ev.Attempt, ev.Max)
	case LockWaiting:
		return fmt.Sprintf("waiting for merge lock %s held by %s (%s)", ev.Target, ev.Holder, ev.Waited.Round(time.Second))
	case LockAcquired:
		return fmt.Sprintf("merge lock %s acquired after %s", ev.Target, ev.Waited.Round(time.Millisecond))
	case LockTimeout:
		return fmt.Sprintf("merge lock %s timed out after %s, held by %s", ev.Target, ev.Waited.Round(time.Second), ev.Holder)
	case LockReleased:
		return fmt.Sprintf("merge lock %s released after %s", ev.Target, ev.Held.Round(time.Millisecond))
	case ConflictResolve:
		return fmt.Sprintf("resolving conflicts of task %s with %s (%d/%d)", ev.TaskID, ev.Target, ev.Attempt, ev.Max)
	case SessionCorrupted:
		return fmt.Sprintf("session %s of task %s discarded: %s", ev.SessionID, ev.TaskID, ev.Marker)
	case Log:
		return ev.Message
	case Error:
		line := ev.Reason
		if ev.TaskID != "" {
			line = "task " + ev.TaskID + ": " + line
		}
		if ev.Err != nil {
			line += ": " + ev.Err.Error()
		}
		return line
	}
	return "unknown event"
}

func gitLine(op, repo, branch string, ok bool, reason string) string {
	if ok {
		return fmt.Sprintf("%s %s:%s ok", op, repo, branch)
	}
	return fmt.Sprintf("%s %s:%s failed: %s", op, repo, branch, reason)
}
