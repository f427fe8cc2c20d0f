package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/tandem/internal/agent"
	"github.com/ShayCichocki/tandem/internal/events"
	"github.com/ShayCichocki/tandem/internal/git"
	"github.com/ShayCichocki/tandem/internal/mergelock"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/taskstore"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// GitWorkflow is the part of *git.Coordinator the work loop drives.
type GitWorkflow interface {
	Resolve(name string) (git.Repo, error)
	EnsureWorktree(ctx context.Context, name, branch, base string) (git.Worktree, bool, error)
	PullDefaultBranches(ctx context.Context, names []string) []git.PullResult
	CurrentBranch(ctx context.Context, repo git.Repo, dir string) (string, error)
	UncommittedChanges(ctx context.Context, repo git.Repo, dir string) ([]string, error)
	Push(ctx context.Context, repo git.Repo, dir, branch string) git.Result
	CreatePR(ctx context.Context, repo git.Repo, dir string, req git.PRRequest) git.Result
	Merge(ctx context.Context, name, source, target string) git.Result
	CleanupMergedBranches(ctx context.Context, name, target string, keep func(git.Worktree) bool) (git.CleanupResult, error)
}

var _ GitWorkflow = (*git.Coordinator)(nil)

// StateStore is the agent state the loops read and write.
type StateStore interface {
	state.SessionStore
	state.AttemptStore
}

// Engine runs one work loop per agent against a shared task store.
type Engine struct {
	agents  []string
	store   taskstore.Store
	git     GitWorkflow
	runner  agent.Runner
	policy  Policy
	state   StateStore
	bus     *events.Bus
	locks   *mergelock.Table
	claims  *Claims
	pause   *PauseController
	prompts PromptBuilder
	logger  *DebugLogger
	wakeSrc <-chan struct{}
	now     func() time.Time

	// pickMu makes selecting and claiming a task atomic across loops.
	pickMu sync.Mutex
	wake   *signal

	mu       sync.Mutex
	loops    map[string]*Loop
	runs     map[string]*agent.Run
	cooldown map[string]time.Time
}

// NewEngine creates an engine with the required configuration and options.
func NewEngine(req RequiredConfig, opts ...Option) *Engine {
	o := engineOptions{policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		agents:   dedupe(req.Agents),
		store:    req.Store,
		git:      req.Git,
		runner:   req.Runner,
		policy:   o.policy,
		state:    o.state,
		bus:      o.bus,
		locks:    o.locks,
		claims:   o.claims,
		pause:    o.pause,
		prompts:  o.prompts,
		logger:   o.logger,
		wakeSrc:  o.wake,
		now:      o.now,
		wake:     newSignal(),
		loops:    make(map[string]*Loop),
		runs:     make(map[string]*agent.Run),
		cooldown: make(map[string]time.Time),
	}
	if e.state == nil {
		e.state = state.NewMemory()
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	if e.locks == nil {
		e.locks = mergelock.New(mergelock.DefaultConfig())
	}
	if e.claims == nil {
		e.claims = NewClaims()
	}
	if e.pause == nil {
		e.pause = NewPauseController()
	}
	if e.prompts == nil {
		e.prompts = DefaultPrompts{}
	}
	if e.logger == nil {
		e.logger = NopLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.policy.PollInterval <= 0 {
		e.policy.PollInterval = DefaultPolicy().PollInterval
	}
	for _, id := range e.agents {
		e.loops[id] = &Loop{e: e, agent: id, state: StateIdle}
	}
	return e
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Bus returns the bus events are emitted on.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Locks returns the merge lock table.
func (e *Engine) Locks() *mergelock.Table { return e.locks }

// Pause returns the pause controller.
func (e *Engine) Pause() *PauseController { return e.pause }

// Loop returns the loop of one agent.
func (e *Engine) Loop(agentID string) (*Loop, bool) {
	l, ok := e.loops[agentID]
	return l, ok
}

// States reports where every loop is in its state machine.
func (e *Engine) States() map[string]State {
	out := make(map[string]State, len(e.loops))
	for id, l := range e.loops {
		out[id] = l.State()
	}
	return out
}

// Run runs every loop until ctx is done or one of them hits a fatal error.
// Loops finish the task in hand before returning.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.agents) == 0 {
		return fmt.Errorf("no agents to run")
	}
	if err := e.recoverInterrupted(); err != nil {
		return err
	}

	if e.wakeSrc != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-e.wakeSrc:
					if !ok {
						return
					}
					e.wake.notify()
				}
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range e.agents {
		l := e.loops[id]
		g.Go(func() error { return l.Run(gctx) })
	}
	return g.Wait()
}

// Kill terminates every running agent process. Loops then see the run fail
// and continue shutting down.
func (e *Engine) Kill() {
	e.mu.Lock()
	runs := make(map[string]*agent.Run, len(e.runs))
	for id, r := range e.runs {
		runs[id] = r
	}
	e.mu.Unlock()

	for id, r := range runs {
		if err := r.Kill(); err != nil {
			e.logger.Log("[engine] kill agent %s: %v", id, err)
		}
	}
}

func (e *Engine) trackRun(agentID string, r *agent.Run) func() {
	e.mu.Lock()
	e.runs[agentID] = r
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.runs, agentID)
		e.mu.Unlock()
	}
}

// recoverInterrupted returns tasks a previous process left in progress to
// the queue. The task file is read fresh; a read failure is fatal.
func (e *Engine) recoverInterrupted() error {
	interrupted := make(map[string]bool)
	if r, ok := e.state.(state.Recoverer); ok {
		attempts, err := r.RecoverInterrupted()
		if err != nil {
			e.logger.Log("[engine] recover interrupted attempts: %v", err)
		}
		for _, a := range attempts {
			interrupted[a.TaskID] = true
		}
	}

	tasks, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	ours := make(map[string]bool, len(e.agents))
	for _, id := range e.agents {
		ours[id] = true
	}

	for _, root := range tasks {
		if root == nil {
			continue
		}
		root.Walk(func(t, _ *models.Task, _ int) bool {
			if t.Status != models.TaskStatusInProgress || !(interrupted[t.ID] || ours[t.Agent]) {
				return true
			}
			from, err := e.store.Transition(t.ID, models.TaskStatusReadyForAgent, "returned to the queue: the previous run was interrupted")
			if err != nil {
				e.logger.Log("[engine] requeue %s: %v", t.ID, err)
				return true
			}
			e.bus.Emit(events.TaskStatus{Header: events.At(t.Agent), TaskID: t.ID, From: string(from), To: string(models.TaskStatusReadyForAgent)})
			return true
		})
	}
	return nil
}

// pick selects the best task for agentID and claims its workspace.
func (e *Engine) pick(tasks []*models.Task, agentID string) (*models.Task, Workspace, bool) {
	e.pickMu.Lock()
	defer e.pickMu.Unlock()

	sel := Selector{AllowPendingMergeDeps: e.policy.AllowPendingMergeDeps, Due: e.due}
	for _, t := range sel.Candidates(tasks, agentID) {
		ws := WorkspaceFor(t, e.policy.DefaultRepo)
		if e.claims.Claim(ws, t.ID) {
			return t, ws, true
		}
	}
	return nil, Workspace{}, false
}

// due reports whether a task is past its retry delay.
func (e *Engine) due(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.cooldown[taskID]
	return !ok || !e.now().Before(at)
}

// backoff keeps a task from being picked for the merge retry delay.
func (e *Engine) backoff(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown[taskID] = e.now().Add(e.policy.MergeRetryDelay)
}

func (e *Engine) clearBackoff(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cooldown, taskID)
}

// signal is a broadcast that can fire many times.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// wait returns a channel closed by the next notify.
func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *signal) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}
