package main

import (
	"bytes"
	"os"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/events"
	"github.com/ShayCichocki/tandem/internal/exec"
	"github.com/ShayCichocki/tandem/internal/orchestrator"
	"github.com/ShayCichocki/tandem/pkg/models"
)

func init() {
	color.NoColor = true
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, false)
	at := events.Header{Time: time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC), Agent: "alice"}

	events.Dispatch(c.Handler(), events.TaskBlocked{Header: at, TaskID: "t1", Reason: "no repo"})
	events.Dispatch(c.Handler(), events.TaskStatus{Header: at, TaskID: "t1", From: "todo", To: "ready_for_agent"})
	events.Dispatch(c.Handler(), events.Log{Header: events.Header{Time: at.Time}, Message: "hello"})

	out := buf.String()
	if !strings.Contains(out, "09:30:00 alice") || !strings.Contains(out, "no repo") {
		t.Errorf("missing blocked line:\n%s", out)
	}
	if strings.Contains(out, "ready_for_agent") || strings.Contains(out, "hello") {
		t.Errorf("quiet events printed without verbose:\n%s", out)
	}

	buf.Reset()
	v := newConsole(&buf, true)
	events.Dispatch(v.Handler(), events.Log{Header: events.Header{Time: at.Time}, Message: "hello"})
	if !strings.Contains(buf.String(), "engine") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("verbose console = %q", buf.String())
	}
}

func TestSelectAgents(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = []string{"alice", "bob"}

	if err := selectAgents(cfg, nil); err != nil || len(cfg.AgentIDs()) != 2 {
		t.Fatalf("no selection changed agents: %v %v", err, cfg.AgentIDs())
	}
	if err := selectAgents(cfg, []string{"carol"}); err == nil {
		t.Error("unknown agent accepted")
	}
	if err := selectAgents(cfg, []string{"bob"}); err != nil || strings.Join(cfg.AgentIDs(), ",") != "bob" {
		t.Errorf("selectAgents(bob) = %v, agents %v", err, cfg.AgentIDs())
	}
}

func TestPolicyFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.MaxConflictAttempts = 5
	cfg.MergeLock.Timeout = time.Minute
	cfg.Engine.DefaultRepo = "api"

	p := policyFrom(cfg)
	if p.MaxConflictAttempts != 5 || p.LockTimeout != time.Minute || p.DefaultRepo != "api" {
		t.Errorf("policy = %+v", p)
	}
	if p.PollInterval != cfg.Engine.PollInterval || p.MaxCommitAttempts != 3 {
		t.Errorf("policy = %+v", p)
	}
}

func TestCommandRunnerHonorsSandbox(t *testing.T) {
	cfg := config.Default()
	if _, ok := commandRunner(cfg).(*exec.ExecRunner); !ok {
		t.Errorf("unsandboxed runner = %T", commandRunner(cfg))
	}

	cfg.Sandbox.Enabled = true
	cfg.Sandbox.Wrapper = []string{"bwrap", "{argv}"}
	p, ok := commandRunner(cfg).(*exec.PolicyRunner)
	if !ok {
		t.Fatalf("sandboxed runner = %T", commandRunner(cfg))
	}
	if got := p.Wrap(exec.Command{Name: "git", Args: []string{"status"}}).Argv(); !reflect.DeepEqual(got, []string{"bwrap", "git", "status"}) {
		t.Errorf("wrapped argv = %v", got)
	}
}

func TestGetConfigValue(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()
	cfg.Agent.APIKey = "sk-ant-REDACTED"

	got, err := getConfigValue(cfg, "agent.api_key")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "0123456789") || !strings.HasPrefix(got, "sk-ant-...") {
		t.Errorf("api key not masked: %q", got)
	}
	if got, _ := getConfigValue(cfg, "RETRY.MAX_TASK_ATTEMPTS"); got != "3" {
		t.Errorf("max_task_attempts = %q", got)
	}
	if _, err := getConfigValue(cfg, "nope"); err == nil {
		t.Error("unknown key accepted")
	}

	var buf bytes.Buffer
	displayAllConfig(&buf, cfg)
	if !strings.Contains(buf.String(), "merge_lock.timeout: 10m0s") {
		t.Errorf("config listing:\n%s", buf.String())
	}
}

func TestPrintStatus(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = []string{"alice"}
	tasks := []*models.Task{
		{ID: "a", Title: "A", Status: models.TaskStatusDone},
		{ID: "b", Title: "B", Status: models.TaskStatusTodo, DependsOn: []string{"a"}},
		{ID: "c", Title: "C", Status: models.TaskStatusTodo, DependsOn: []string{"ghost"}},
	}

	var buf bytes.Buffer
	printStatus(&buf, cfg, tasks, map[string]int{"c": 2})
	out := buf.String()
	for _, want := range []string{"(3 tasks)", "Layers: 2", "c -> ghost", "2 (todo)"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
	if got := strings.Fields(lineWith(out, "alice")); len(got) != 2 || got[1] != "b" {
		t.Errorf("next tasks for alice = %v", got)
	}
}

func lineWith(out, prefix string) string {
	for _, l := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), prefix) {
			return l
		}
	}
	return ""
}

func TestPrintGraph(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", Title: "A", Status: models.TaskStatusDone},
		{ID: "b", Title: "B", Status: models.TaskStatusTodo, DependsOn: []string{"a"}},
		{ID: "x", Title: "X", Status: models.TaskStatusTodo, DependsOn: []string{"y"}},
		{ID: "y", Title: "Y", Status: models.TaskStatusTodo, DependsOn: []string{"x"}},
	}

	var buf bytes.Buffer
	printGraph(&buf, tasks)
	out := buf.String()
	for _, want := range []string{"Layer 0:", "Layer 1:", "<- [a]", "On a dependency cycle:"} {
		if !strings.Contains(out, want) {
			t.Errorf("graph missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := writeGraphJSON(&buf, tasks); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"unlayered"`) {
		t.Errorf("json graph:\n%s", buf.String())
	}
}

func TestWatchSignals(t *testing.T) {
	engine := orchestrator.NewEngine(orchestrator.RequiredConfig{Agents: []string{"alice"}})
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	stopped := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		watchSignals(sigCh, done, func() { close(stopped) }, engine, 0)
		close(exited)
	}()

	if pauseSignal != nil {
		sigCh <- pauseSignal
		deadline := time.Now().Add(time.Second)
		for !engine.Pause().IsPaused() {
			if time.Now().After(deadline) {
				t.Fatal("pause signal did not pause")
			}
			time.Sleep(time.Millisecond)
		}
	}

	sigCh <- syscall.SIGTERM
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("SIGTERM did not stop the engine")
	}
	// A second signal only kills; it must not call stop again.
	sigCh <- syscall.SIGINT

	close(done)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("watchSignals did not return")
	}
}
