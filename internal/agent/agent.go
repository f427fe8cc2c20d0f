// Package agent runs the external coding agent for a task and reports its
// output as an ordered stream of typed messages.
package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/ShayCichocki/tandem/internal/exec"
)

// Request describes one agent run.
type Request struct {
	TaskID       string
	SystemPrompt string
	Prompt       string
	// Dir is the starting directory, normally the task's worktree.
	Dir string
	// SessionID resumes a previous conversation when set.
	SessionID string
}

// Outcome is the terminal state of a run.
type Outcome int

const (
	// OutcomeSuccess means the agent reported success and exited cleanly.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure means the agent reported that it could not finish.
	OutcomeFailure
	// OutcomeCrash means the process exited non-zero without reporting anything.
	OutcomeCrash
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// MessageKind tags a Message.
type MessageKind int

const (
	MessageText MessageKind = iota
	MessageToolCall
	MessageToolResult
	// MessageCompletion is always the last message of a run.
	MessageCompletion
)

func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageToolCall:
		return "tool_call"
	case MessageToolResult:
		return "tool_result"
	case MessageCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// Message is one item of agent output.
type Message struct {
	Kind MessageKind
	Text string
	// Tool and Input are set for tool calls.
	Tool  string
	Input string
	// IsError marks failed tool results and failed completions.
	IsError   bool
	SessionID string
}

// Result is what a finished run leaves behind.
type Result struct {
	Outcome   Outcome
	Output    string
	SessionID string
	ExitCode  int
	Err       error
}

// Runner starts agent runs.
type Runner interface {
	// Run starts the agent. The context bounds only the start; use Run.Kill
	// to stop a running agent.
	Run(ctx context.Context, req Request) (*Run, error)
}

// Run is an agent run in progress.
type Run struct {
	messages chan Message
	done     chan struct{}
	proc     exec.Process

	mu     sync.Mutex
	result Result
}

func newRun(proc exec.Process) *Run {
	return &Run{
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
		proc:     proc,
	}
}

// Replay returns a finished run that yields msgs followed by a completion
// message built from res. It backs scripted and dry-run runners.
func Replay(msgs []Message, res Result) *Run {
	r := newRun(nil)
	r.messages = make(chan Message, len(msgs)+1)
	for _, m := range msgs {
		r.messages <- m
	}
	final := Message{Kind: MessageCompletion, SessionID: res.SessionID, IsError: res.Outcome != OutcomeSuccess}
	if res.Err != nil {
		final.Text = res.Err.Error()
	}
	r.messages <- final
	close(r.messages)
	r.result = res
	close(r.done)
	return r
}

// Messages returns the ordered message stream. It is closed after the
// MessageCompletion message.
func (r *Run) Messages() <-chan Message {
	return r.messages
}

// Wait blocks until the run finishes and returns its result. Messages not
// yet read are discarded.
func (r *Run) Wait() Result {
	for range r.messages {
	}
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Kill terminates the agent process.
func (r *Run) Kill() error {
	if r.proc == nil {
		return nil
	}
	return r.proc.Kill()
}

// fatalSessionMarkers appear in agent output when a stored session can
// never be resumed again.
var fatalSessionMarkers = []string{
	"no conversation found with session id",
	"tool_use ids were found without tool_result",
	"tool_use` ids were found without `tool_result`",
	"session not found",
	"invalid session id",
}

// DetectFatalSession scans agent output for a marker of an unrecoverable
// session and returns the marker found.
func DetectFatalSession(output string) (string, bool) {
	lower := strings.ToLower(output)
	for _, marker := range fatalSessionMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}
