package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/ShayCichocki/tandem/internal/events"
)

// console prints engine events as one colored line each.
type console struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func newConsole(w io.Writer, verbose bool) *console {
	return &console{w: w, verbose: verbose}
}

// Handler returns the bus listener.
func (c *console) Handler() events.Handler {
	return events.Func(c.print)
}

func (c *console) print(e events.Event) {
	paint := colorFor(e)
	if paint == nil {
		if !c.verbose {
			return
		}
		paint = color.New(color.Faint)
	}

	h := e.Meta()
	agent := h.Agent
	if agent == "" {
		agent = "engine"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %-10s %s\n", h.Time.Format("15:04:05"), agent, paint.Sprint(events.Describe(e)))
}

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	plain  = color.New(color.Reset)
)

// colorFor picks the color of an event. Nil means the event is only shown
// in verbose mode.
func colorFor(e events.Event) *color.Color {
	switch ev := e.(type) {
	case events.TaskCompleted, events.LockAcquired:
		return green
	case events.GitMerge:
		if ev.Outcome == events.MergeMerged {
			return green
		}
		return yellow
	case events.TaskFailed, events.Error, events.LockTimeout, events.SessionCorrupted:
		return red
	case events.TaskBlocked, events.TaskDeferred, events.CommitRetry, events.ConflictResolve,
		events.UncommittedChanges, events.LockWaiting:
		return yellow
	case events.GitPush:
		if !ev.OK {
			return red
		}
		return plain
	case events.GitPR:
		if !ev.OK {
			return red
		}
		return green
	case events.TaskFound, events.TaskStarted:
		return cyan
	case events.AgentStarted, events.AgentStopped, events.GitCleanup, events.WorktreeCreated:
		return plain
	default:
		return nil
	}
}
