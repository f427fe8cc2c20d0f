package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/tandem/internal/agent"
	"github.com/ShayCichocki/tandem/internal/errors"
	"github.com/ShayCichocki/tandem/internal/events"
	"github.com/ShayCichocki/tandem/internal/git"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/taskstore"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// fakeGit is a GitWorkflow over in-memory repositories.
type fakeGit struct {
	mu sync.Mutex

	repos map[string]git.Repo
	// dirty returns uncommitted files for the nth check.
	dirty func(n int) []string
	// merge returns the result of the nth merge.
	merge func(n int) git.Result
	push  git.Result
	// pushFn overrides push when set.
	pushFn func() git.Result
	pr     git.Result

	worktrees  map[string]bool
	dirtyCalls int
	mergeCalls int
	merged     []string
	pushed     []string
	cleanups   int
}

func newFakeGit(names ...string) *fakeGit {
	f := &fakeGit{repos: make(map[string]git.Repo), worktrees: make(map[string]bool)}
	for _, n := range names {
		f.repos[n] = git.Repo{Name: n, Path: "/repos/" + n, DefaultBranch: "main"}
	}
	return f
}

func (f *fakeGit) Resolve(name string) (git.Repo, error) {
	if git.IsLiteralPath(name) {
		return git.Repo{Name: filepath.Base(name), Path: name, Literal: true}, nil
	}
	r, ok := f.repos[name]
	if !ok {
		return git.Repo{}, errors.NewNotFoundError("repository", name)
	}
	return r, nil
}

func (f *fakeGit) EnsureWorktree(ctx context.Context, name, branch, base string) (git.Worktree, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := git.WorktreePath("/wt", name, branch)
	created := !f.worktrees[path]
	f.worktrees[path] = true
	return git.Worktree{Path: path, Branch: branch}, created, nil
}

func (f *fakeGit) PullDefaultBranches(ctx context.Context, names []string) []git.PullResult {
	var out []git.PullResult
	for _, n := range names {
		if r, ok := f.repos[n]; ok {
			out = append(out, git.PullResult{Repo: r.Name, Branch: r.DefaultBranch})
		}
	}
	return out
}

func (f *fakeGit) CurrentBranch(ctx context.Context, repo git.Repo, dir string) (string, error) {
	return "work", nil
}

func (f *fakeGit) UncommittedChanges(ctx context.Context, repo git.Repo, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.dirtyCalls
	f.dirtyCalls++
	if f.dirty == nil {
		return nil, nil
	}
	return f.dirty(n), nil
}

func (f *fakeGit) Push(ctx context.Context, repo git.Repo, dir, branch string) git.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, branch)
	if f.pushFn != nil {
		return f.pushFn()
	}
	return f.push
}

func (f *fakeGit) CreatePR(ctx context.Context, repo git.Repo, dir string, req git.PRRequest) git.Result {
	return f.pr
}

func (f *fakeGit) Merge(ctx context.Context, name, source, target string) git.Result {
	f.mu.Lock()
	n := f.mergeCalls
	f.mergeCalls++
	fn := f.merge
	f.mu.Unlock()

	res := git.Result{Kind: git.ResultOK}
	if fn != nil {
		res = fn(n)
	}
	if res.Kind == git.ResultOK {
		f.mu.Lock()
		f.merged = append(f.merged, source+"->"+target)
		f.mu.Unlock()
	}
	return res
}

func (f *fakeGit) CleanupMergedBranches(ctx context.Context, name, target string, keep func(git.Worktree) bool) (git.CleanupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return git.CleanupResult{Failed: map[string]string{}}, nil
}

// scriptedRunner replays a result per run and records requests.
type scriptedRunner struct {
	mu     sync.Mutex
	reqs   []agent.Request
	script func(req agent.Request, n int) agent.Result
}

func (r *scriptedRunner) Run(ctx context.Context, req agent.Request) (*agent.Run, error) {
	r.mu.Lock()
	n := len(r.reqs)
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()

	res := agent.Result{Outcome: agent.OutcomeSuccess, SessionID: "sess-" + req.TaskID}
	if r.script != nil {
		res = r.script(req, n)
	}
	msgs := []agent.Message{
		{Kind: agent.MessageText, Text: "working on " + req.TaskID},
		{Kind: agent.MessageToolCall, Tool: "Edit"},
	}
	return agent.Replay(msgs, res), nil
}

func (r *scriptedRunner) requests() []agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.Request(nil), r.reqs...)
}

// harness wires an engine to fakes and a real task file.
type harness struct {
	store  *taskstore.FileStore
	git    *fakeGit
	runner *scriptedRunner
	state  *state.Memory
	rec    *events.Recorder
	engine *Engine
	clock  *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newHarness(t *testing.T, tasks string, policy Policy, agents ...string) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(tasks), 0644); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		store:  taskstore.NewFileStore(path),
		git:    newFakeGit("api", "web"),
		runner: &scriptedRunner{},
		state:  state.NewMemory(),
		rec:    &events.Recorder{},
		clock:  &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)},
	}
	bus := events.NewBus()
	bus.Subscribe(h.rec.Handler())

	if len(agents) == 0 {
		agents = []string{"alice"}
	}
	h.engine = NewEngine(
		RequiredConfig{Agents: agents, Store: h.store, Git: h.git, Runner: h.runner},
		WithPolicy(policy),
		WithState(h.state),
		WithBus(bus),
		WithClock(h.clock.Now),
	)
	return h
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.PollInterval = 10 * time.Millisecond
	p.LockTimeout = 0
	return p
}

// runOnce runs one pass of agent's loop and fails the test on a fatal error.
func (h *harness) runOnce(t *testing.T, agentID string) bool {
	t.Helper()
	l, ok := h.engine.Loop(agentID)
	if !ok {
		t.Fatalf("no loop for %s", agentID)
	}
	worked, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	return worked
}

func (h *harness) task(t *testing.T, id string) *models.Task {
	t.Helper()
	tasks, err := h.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	task := models.Find(tasks, id)
	if task == nil {
		t.Fatalf("task %s missing", id)
	}
	return task
}

// statusChain lists the status writes recorded for a task.
func (h *harness) statusChain(taskID string) []string {
	var out []string
	for _, e := range h.rec.Events() {
		if s, ok := e.(events.TaskStatus); ok && s.TaskID == taskID {
			if len(out) == 0 {
				out = append(out, s.From)
			}
			out = append(out, s.To)
		}
	}
	return out
}

func eventsOf[T events.Event](rec *events.Recorder) []T {
	var out []T
	for _, e := range rec.Events() {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
