package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ShayCichocki/tandem/internal/errors"
	"github.com/ShayCichocki/tandem/internal/exec"
)

// DefaultAllowedTools lets the agent edit and run commands without prompting.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"}

// ClaudeRunner runs the Claude Code CLI in stream-json mode.
type ClaudeRunner struct {
	Spawner exec.Spawner
	// Command is the CLI binary, "claude" by default.
	Command      string
	Model        string
	AllowedTools []string
	ExtraArgs    []string
	// Env is added to the agent's environment, e.g. an API key from config.
	Env []string
}

// NewClaudeRunner creates a runner that spawns through spawner.
func NewClaudeRunner(spawner exec.Spawner) *ClaudeRunner {
	return &ClaudeRunner{Spawner: spawner, Command: "claude", AllowedTools: DefaultAllowedTools}
}

// Args builds the CLI arguments for a request.
func (c *ClaudeRunner) Args(req Request) []string {
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	if len(c.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.AllowedTools, ","))
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	args = append(args, c.ExtraArgs...)

	// Add prompt last
	return append(args, "-p", req.Prompt)
}

// Run spawns the CLI and starts streaming its output.
func (c *ClaudeRunner) Run(ctx context.Context, req Request) (*Run, error) {
	name := c.Command
	if name == "" {
		name = "claude"
	}
	proc, err := c.Spawner.Spawn(ctx, exec.Command{Name: name, Args: c.Args(req), Dir: req.Dir, Env: c.Env})
	if err != nil {
		return nil, errors.NewAgentProcessError(req.TaskID, -1, err)
	}

	run := newRun(proc)
	go run.stream(req)
	return run, nil
}

// stream reads stdout and stderr, forwards parsed messages, then records the result.
func (r *Run) stream(req Request) {
	defer close(r.done)

	var output strings.Builder
	var outMu sync.Mutex
	appendOutput := func(line string) {
		outMu.Lock()
		output.WriteString(line)
		output.WriteByte('\n')
		outMu.Unlock()
	}

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go func() {
		defer stderrDone.Done()
		scanner := bufio.NewScanner(r.proc.Stderr())
		scanner.Buffer(make([]byte, 16*1024), 256*1024)
		for scanner.Scan() {
			appendOutput(scanner.Text())
		}
	}()

	var (
		sessionID  = req.SessionID
		completion *Message
	)

	scanner := bufio.NewScanner(r.proc.Stdout())
	// Increase buffer size for large JSON objects
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		appendOutput(string(line))

		msgs, sid, err := parseStreamLine(line)
		if err != nil {
			// Non-JSON output is kept as plain text.
			r.messages <- Message{Kind: MessageText, Text: string(line)}
			continue
		}
		if sid != "" {
			sessionID = sid
		}
		for _, m := range msgs {
			if m.Kind == MessageCompletion {
				completion = &m
				continue
			}
			r.messages <- m
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Keep the pipe drained so the process can exit.
		_, _ = io.Copy(io.Discard, r.proc.Stdout())
	}
	stderrDone.Wait()

	exitCode, waitErr := r.proc.Wait()

	res := Result{SessionID: sessionID, ExitCode: exitCode}
	outMu.Lock()
	res.Output = output.String()
	outMu.Unlock()

	switch {
	case waitErr != nil:
		res.Outcome = OutcomeCrash
		res.Err = errors.NewAgentProcessError(req.TaskID, exitCode, waitErr)
	case completion != nil && completion.IsError:
		res.Outcome = OutcomeFailure
		res.Err = fmt.Errorf("agent reported failure: %s", truncate(completion.Text, 200))
	case exitCode != 0 && completion != nil:
		res.Outcome = OutcomeFailure
		res.Err = fmt.Errorf("agent exited with code %d", exitCode)
	case exitCode != 0:
		res.Outcome = OutcomeCrash
		res.Err = errors.NewAgentProcessError(req.TaskID, exitCode, scanErr)
	default:
		res.Outcome = OutcomeSuccess
	}

	final := Message{Kind: MessageCompletion, SessionID: sessionID, IsError: res.Outcome != OutcomeSuccess}
	if completion != nil {
		final.Text = completion.Text
	} else if res.Err != nil {
		final.Text = res.Err.Error()
	}
	r.messages <- final
	close(r.messages)

	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
}

// streamLine is the subset of the stream-json event shape we read.
type streamLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Message   json.RawMessage `json:"message"`
}

type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error"`
}

// parseStreamLine converts one stream-json line into messages.
func parseStreamLine(data []byte) ([]Message, string, error) {
	var line streamLine
	if err := json.Unmarshal(data, &line); err != nil {
		return nil, "", fmt.Errorf("unmarshal json: %w", err)
	}

	switch line.Type {
	case "assistant", "user":
		blocks := messageBlocks(line.Message)
		var msgs []Message
		for _, b := range blocks {
			switch b.Type {
			case "text":
				if b.Text != "" {
					msgs = append(msgs, Message{Kind: MessageText, Text: b.Text, SessionID: line.SessionID})
				}
			case "tool_use":
				msgs = append(msgs, Message{Kind: MessageToolCall, Tool: b.Name, Input: string(b.Input), SessionID: line.SessionID})
			case "tool_result":
				msgs = append(msgs, Message{Kind: MessageToolResult, Text: blockText(b.Content), IsError: b.IsError, SessionID: line.SessionID})
			}
		}
		return msgs, line.SessionID, nil
	case "result":
		isError := line.IsError || (line.Subtype != "" && line.Subtype != "success")
		return []Message{{Kind: MessageCompletion, Text: line.Result, IsError: isError, SessionID: line.SessionID}}, line.SessionID, nil
	default:
		// system and unknown events only contribute the session id.
		return nil, line.SessionID, nil
	}
}

func messageBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var msg struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err == nil {
		return blocks
	}
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil && text != "" {
		return []contentBlock{{Type: "text", Text: text}}
	}
	return nil
}

// blockText flattens tool_result content, which is either a string or a list of text blocks.
func blockText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Runner = (*ClaudeRunner)(nil)
