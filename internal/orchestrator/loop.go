package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/tandem/internal/agent"
	"github.com/ShayCichocki/tandem/internal/errors"
	"github.com/ShayCichocki/tandem/internal/events"
	"github.com/ShayCichocki/tandem/internal/git"
	"github.com/ShayCichocki/tandem/internal/mergelock"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// State is a step of the per-agent state machine.
type State string

const (
	StateIdle         State = "idle"
	StateTaskFound    State = "task_found"
	StateGitPrep      State = "git_prep"
	StateRunningAgent State = "running_agent"
	StatePostCheck    State = "post_check"
	StateCommitRetry  State = "commit_retry"
	StateMergePhase   State = "merge_phase"
	StateCleanup      State = "cleanup"
	StateFailed       State = "failed"
	StateBlocked      State = "blocked"
)

// forward is the next status on the way to done.
var forward = map[models.TaskStatus]models.TaskStatus{
	models.TaskStatusTodo:             models.TaskStatusReadyForAgent,
	models.TaskStatusReadyForAgent:    models.TaskStatusInProgress,
	models.TaskStatusAssigned:         models.TaskStatusInProgress,
	models.TaskStatusInProgress:       models.TaskStatusDonePendingMerge,
	models.TaskStatusDonePendingMerge: models.TaskStatusDone,
}

// Loop is the work loop of one agent.
type Loop struct {
	e     *Engine
	agent string

	mu    sync.Mutex
	state State
}

// job is the task a loop is working on.
type job struct {
	task      *models.Task
	ws        Workspace
	status    models.TaskStatus
	started   time.Time
	attemptID string

	// Set by prepare.
	repo      git.Repo
	dir       string
	branch    string
	sessionID string
}

// Agent returns the agent id.
func (l *Loop) Agent() string { return l.agent }

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) enter(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.e.logger.Log("[%s] state %s", l.agent, s)
}

func (l *Loop) header() events.Header {
	return events.Header{Time: l.e.now(), Agent: l.agent}
}

func (l *Loop) emit(e events.Event) { l.e.bus.Emit(e) }

// Run polls for work until ctx is done or the task store cannot be read.
func (l *Loop) Run(ctx context.Context) (err error) {
	l.emit(events.AgentStarted{Header: l.header()})
	defer func() {
		reason := "shutdown"
		if err != nil {
			reason = err.Error()
		}
		l.enter(StateIdle)
		l.emit(events.AgentStopped{Header: l.header(), Reason: reason})
	}()

	for ctx.Err() == nil {
		if l.e.pause.WaitIfPaused(ctx) != nil {
			return nil
		}

		// Taken before the scan so a change during it is not missed.
		wake := l.e.wake.wait()
		worked, err := l.RunOnce(ctx)
		if err != nil {
			return err
		}
		if worked {
			continue
		}

		l.emit(events.AgentIdle{Header: l.header(), PollInterval: l.e.policy.PollInterval})
		timer := time.NewTimer(l.e.policy.PollInterval)
		select {
		case <-ctx.Done():
		case <-timer.C:
		case <-wake:
		}
		timer.Stop()
	}
	return nil
}

// RunOnce handles at most one task. It reports whether a task was found;
// the only error is a failure to read the task store.
func (l *Loop) RunOnce(ctx context.Context) (bool, error) {
	tasks, err := l.e.store.Load()
	if err != nil {
		l.emit(events.Error{Header: l.header(), Reason: "load task store", Err: err})
		return false, fmt.Errorf("load tasks: %w", err)
	}

	task, ws, ok := l.e.pick(tasks, l.agent)
	if !ok {
		l.enter(StateIdle)
		return false, nil
	}
	defer l.e.claims.Release(task.ID)

	l.handle(ctx, task, ws)
	l.enter(StateIdle)
	return true, nil
}

func (l *Loop) handle(ctx context.Context, t *models.Task, ws Workspace) {
	// Git and agent work on a picked task is finished even during shutdown.
	// Only the merge lock wait follows ctx.
	work := context.WithoutCancel(ctx)
	j := &job{task: t, ws: ws, status: t.Status, started: l.e.now()}

	l.enter(StateTaskFound)
	l.emit(events.TaskFound{Header: l.header(), TaskID: t.ID, Title: t.Title, Status: string(t.Status)})

	if t.Status == models.TaskStatusDonePendingMerge {
		l.mergePhase(ctx, work, j)
		return
	}

	if err := l.advance(j, models.TaskStatusInProgress, "picked up by "+l.agent); err != nil {
		l.storeError(j, err)
		return
	}
	l.startAttempt(j)

	l.enter(StateGitPrep)
	if err := l.prepare(work, j, true); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			l.block(j, "prepare workspace: "+err.Error())
			return
		}
		l.fail(j, "prepare workspace: "+err.Error())
		return
	}

	l.enter(StateRunningAgent)
	if res := l.runAgent(work, j, l.e.prompts.Task(t)); res.Outcome != agent.OutcomeSuccess {
		l.fail(j, agentFailure(res))
		return
	}

	if !l.postCheck(work, j) {
		return
	}

	if err := l.advance(j, models.TaskStatusDonePendingMerge, "work committed on "+j.workLabel()); err != nil {
		l.storeError(j, err)
		return
	}
	l.finishAttempt(j, state.AttemptSucceeded, "")
	l.mergePhase(ctx, work, j)
}

func (j *job) workLabel() string {
	if j.branch != "" {
		return j.branch
	}
	return j.dir
}

// prepare resolves the repository and working directory. When starting it
// also refreshes the default branch and announces the run.
func (l *Loop) prepare(ctx context.Context, j *job, starting bool) error {
	repo, err := l.e.git.Resolve(j.ws.Repo)
	if err != nil {
		return err
	}
	j.repo = repo

	if starting {
		for _, p := range l.e.git.PullDefaultBranches(ctx, []string{j.ws.Repo}) {
			ev := events.GitPull{Header: l.header(), Repo: p.Repo, Branch: p.Branch, OK: p.Err == nil}
			if p.Err != nil {
				ev.Reason = p.Err.Error()
			}
			l.emit(ev)
		}
	}

	if repo.Literal {
		j.dir = repo.Path
		if j.task.WantsMerge() {
			branch, err := l.e.git.CurrentBranch(ctx, repo, j.dir)
			if err != nil {
				return fmt.Errorf("read branch of %s: %w", j.dir, err)
			}
			j.branch = branch
		}
	} else {
		wt, created, err := l.e.git.EnsureWorktree(ctx, j.ws.Repo, j.ws.Branch, j.task.BaseBranch)
		if err != nil {
			return err
		}
		if created {
			l.emit(events.WorktreeCreated{Header: l.header(), Repo: repo.Name, Branch: wt.Branch, Path: wt.Path})
		}
		j.dir = wt.Path
		j.branch = j.ws.Branch
	}

	if sess, err := l.e.state.GetSession(j.task.ID); err != nil {
		l.e.logger.Log("[%s] read session of %s: %v", l.agent, j.task.ID, err)
	} else if sess != nil {
		j.sessionID = sess.SessionID
	}
	if !starting {
		return nil
	}
	l.emit(events.TaskStarted{Header: l.header(), TaskID: j.task.ID, Dir: j.dir, Resuming: j.sessionID != "", SessionID: j.sessionID})
	return nil
}

// runAgent runs the agent to completion, keeping the stored session current.
func (l *Loop) runAgent(ctx context.Context, j *job, prompt string) agent.Result {
	req := agent.Request{
		TaskID:       j.task.ID,
		SystemPrompt: l.e.prompts.System(j.task, j.dir),
		Prompt:       prompt,
		Dir:          j.dir,
		SessionID:    j.sessionID,
	}
	run, err := l.e.runner.Run(ctx, req)
	if err != nil {
		return agent.Result{Outcome: agent.OutcomeCrash, SessionID: j.sessionID, ExitCode: -1, Err: err}
	}
	untrack := l.e.trackRun(l.agent, run)
	defer untrack()

	for m := range run.Messages() {
		switch m.Kind {
		case agent.MessageToolCall:
			l.e.logger.Log("[%s] %s tool %s", l.agent, j.task.ID, m.Tool)
		case agent.MessageCompletion:
			l.e.logger.Log("[%s] %s completion error=%v", l.agent, j.task.ID, m.IsError)
		}
		if m.SessionID != "" && m.SessionID != j.sessionID {
			l.saveSession(j, m.SessionID)
		}
	}

	res := run.Wait()
	if res.SessionID != "" && res.SessionID != j.sessionID {
		l.saveSession(j, res.SessionID)
	}
	if res.Outcome == agent.OutcomeCrash {
		if marker, ok := agent.DetectFatalSession(res.Output); ok {
			l.emit(events.SessionCorrupted{Header: l.header(), TaskID: j.task.ID, SessionID: j.sessionID, Marker: marker})
			l.clearSession(j)
		}
	}
	return res
}

func (l *Loop) saveSession(j *job, sessionID string) {
	j.sessionID = sessionID
	if err := l.e.state.SetSession(j.task.ID, l.agent, sessionID); err != nil {
		l.e.logger.Log("[%s] save session of %s: %v", l.agent, j.task.ID, err)
	}
}

func (l *Loop) clearSession(j *job) {
	j.sessionID = ""
	if err := l.e.state.ClearSession(j.task.ID); err != nil {
		l.e.logger.Log("[%s] clear session of %s: %v", l.agent, j.task.ID, err)
	}
}

func agentFailure(res agent.Result) string {
	reason := "agent " + res.Outcome.String()
	if res.Err != nil {
		reason += ": " + res.Err.Error()
	}
	return reason
}

// postCheck asks the agent to commit leftover changes until the tree is
// clean. It reports false when the task was failed or blocked instead.
func (l *Loop) postCheck(ctx context.Context, j *job) bool {
	limit := l.e.policy.MaxCommitAttempts
	for attempt := 1; ; attempt++ {
		l.enter(StatePostCheck)
		files, err := l.e.git.UncommittedChanges(ctx, j.repo, j.dir)
		if err != nil {
			l.fail(j, "check for uncommitted changes: "+err.Error())
			return false
		}
		if len(files) == 0 {
			return true
		}
		l.emit(events.UncommittedChanges{Header: l.header(), TaskID: j.task.ID, Dir: j.dir, Files: files})

		if attempt > limit {
			l.block(j, fmt.Sprintf("uncommitted changes remain after %d commit attempts: %s", limit, strings.Join(files, ", ")))
			return false
		}

		l.enter(StateCommitRetry)
		l.emit(events.CommitRetry{Header: l.header(), TaskID: j.task.ID, Attempt: attempt, Max: limit})
		if attempt > 1 {
			// A session that ignored the request once is not resumed again.
			l.clearSession(j)
		}
		if res := l.runAgent(ctx, j, l.e.prompts.Commit(j.task, files)); res.Outcome != agent.OutcomeSuccess {
			l.e.logger.Log("[%s] commit retry %d of %s: %s", l.agent, attempt, j.task.ID, agentFailure(res))
		}
	}
}

// mergePhase publishes finished work. lockCtx bounds only the lock wait.
func (l *Loop) mergePhase(lockCtx, ctx context.Context, j *job) {
	l.enter(StateMergePhase)
	t := j.task

	if !t.WantsMerge() {
		if err := l.advance(j, models.TaskStatusDone, "completed without merge"); err != nil {
			l.storeError(j, err)
			return
		}
		l.complete(j)
		return
	}

	if j.dir == "" {
		if err := l.prepare(ctx, j, false); err != nil {
			l.deferMerge(j, t.MergeInto, "prepare merge: "+err.Error())
			return
		}
	}

	target := t.MergeInto
	if target == "" {
		target = j.repo.DefaultBranch
	}
	if target == "" {
		l.block(j, "no merge target: task has no merge_into and repository "+j.repo.Name+" has no default branch")
		return
	}

	lockKey := j.repo.Name + ":" + target
	holder := mergelock.Holder{Agent: l.agent, Branch: j.branch}
	waitStart := l.e.now()
	err := l.e.locks.Acquire(lockCtx, lockKey, holder, l.e.policy.LockTimeout,
		func(p mergelock.WaitProgress) {
			l.emit(events.LockWaiting{Header: l.header(), Target: lockKey, Holder: p.Holder.Agent, Waited: p.Waited})
		})
	if err != nil {
		var timeout *errors.LockTimeoutError
		if errors.As(err, &timeout) {
			l.emit(events.LockTimeout{Header: l.header(), Target: lockKey, Holder: timeout.Holder, Waited: timeout.Waited})
			l.deferMerge(j, target, err.Error())
			return
		}
		l.deferMerge(j, target, "merge lock wait stopped: "+err.Error())
		return
	}
	l.emit(events.LockAcquired{Header: l.header(), Target: lockKey, Waited: l.e.now().Sub(waitStart)})
	defer func() {
		held := l.e.locks.Release(lockKey, holder)
		l.emit(events.LockReleased{Header: l.header(), Target: lockKey, Held: held})
	}()

	if !l.push(ctx, j, target) {
		return
	}

	if t.OpenPR {
		l.openPR(ctx, j, target)
		return
	}
	l.merge(ctx, j, target)
}

// push publishes the task branch. It defers the merge and returns false when
// the push failed for any reason other than a missing remote, which keeps
// the merge local.
func (l *Loop) push(ctx context.Context, j *job, target string) bool {
	res := l.e.git.Push(ctx, j.repo, j.dir, j.branch)
	ev := events.GitPush{Header: l.header(), Repo: j.repo.Name, Branch: j.branch, OK: res.Succeeded()}
	if !res.Succeeded() {
		ev.Reason = res.Reason()
	}
	l.emit(ev)
	if !res.Succeeded() && (j.task.OpenPR || !errors.Is(res.Err, errors.ErrNotFound)) {
		l.deferMerge(j, target, "push failed: "+res.Reason())
		return false
	}
	return true
}

func (l *Loop) openPR(ctx context.Context, j *job, target string) {
	t := j.task
	res := l.e.git.CreatePR(ctx, j.repo, j.dir, git.PRRequest{
		Branch: j.branch,
		Base:   target,
		Title:  t.Title,
		Body:   prBody(t),
	})
	ev := events.GitPR{
		Header:   l.header(),
		Repo:     j.repo.Name,
		Branch:   j.branch,
		Target:   target,
		URL:      res.URL,
		Existing: res.Kind == git.ResultPRExists,
		OK:       res.Succeeded(),
	}
	if !res.Succeeded() {
		ev.Reason = res.Reason()
	}
	l.emit(ev)
	if !res.Succeeded() {
		l.deferMerge(j, target, "open pull request: "+res.Reason())
		return
	}

	note := "pull request opened"
	if res.URL != "" {
		note = "pull request: " + res.URL
	}
	if err := l.advance(j, models.TaskStatusDone, note); err != nil {
		l.storeError(j, err)
		return
	}
	l.complete(j)
}

func prBody(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s\n", t.ID)
	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

// merge merges the task branch into target, letting the agent resolve
// conflicts a bounded number of times.
func (l *Loop) merge(ctx context.Context, j *job, target string) {
	limit := l.e.policy.MaxConflictAttempts
	for attempt := 0; ; attempt++ {
		res := l.e.git.Merge(ctx, j.ws.Repo, j.branch, target)
		ev := events.GitMerge{Header: l.header(), Repo: j.repo.Name, Source: j.branch, Target: target, Files: res.Files}

		switch res.Kind {
		case git.ResultOK:
			ev.Outcome = events.MergeMerged
			ev.Reason = res.Note
			l.emit(ev)
			if err := l.advance(j, models.TaskStatusDone, fmt.Sprintf("merged %s into %s", j.branch, target)); err != nil {
				l.storeError(j, err)
				return
			}
			l.cleanup(ctx, j, target)
			l.complete(j)
			return

		case git.ResultConflict:
			ev.Outcome = events.MergeConflict
			ev.Reason = res.Reason()
			l.emit(ev)
			if attempt >= limit {
				l.deferMerge(j, target, fmt.Sprintf("conflicts with %s unresolved after %d attempts: %s", target, limit, strings.Join(res.Files, ", ")))
				return
			}
			l.emit(events.ConflictResolve{Header: l.header(), TaskID: j.task.ID, Target: target, Attempt: attempt + 1, Max: limit, Files: res.Files})
			if ares := l.runAgent(ctx, j, l.e.prompts.Conflict(j.task, target, res.Files)); ares.Outcome != agent.OutcomeSuccess {
				l.deferMerge(j, target, "conflict resolution: "+agentFailure(ares))
				return
			}
			if !l.push(ctx, j, target) {
				return
			}

		default:
			ev.Outcome = events.MergeFailed
			ev.Reason = res.Reason()
			l.emit(ev)
			l.deferMerge(j, target, "merge failed: "+res.Reason())
			return
		}
	}
}

func (l *Loop) cleanup(ctx context.Context, j *job, target string) {
	l.enter(StateCleanup)
	res, err := l.e.git.CleanupMergedBranches(ctx, j.ws.Repo, target, l.e.claims.Keep(j.ws.Repo, j.task.ID))
	if err != nil {
		l.emit(events.Error{Header: l.header(), TaskID: j.task.ID, Reason: "clean up merged branches", Err: err})
		return
	}
	l.emit(events.GitCleanup{Header: l.header(), Repo: j.repo.Name, Deleted: res.Deleted, Failed: res.Failed})
}

// advance walks the task forward one status at a time until it reaches to,
// so every intermediate status is written. note goes on the last step.
func (l *Loop) advance(j *job, to models.TaskStatus, note string) error {
	for j.status != to {
		next, ok := forward[j.status]
		if !ok {
			return fmt.Errorf("task %s cannot move from %s to %s", j.task.ID, j.status, to)
		}
		stepNote := ""
		if next == to {
			stepNote = note
		}
		if err := l.setStatus(j, next, stepNote); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) setStatus(j *job, to models.TaskStatus, note string) error {
	from, err := l.e.store.Transition(j.task.ID, to, note)
	if err != nil {
		return fmt.Errorf("set status of %s to %s: %w", j.task.ID, to, err)
	}
	j.status = to
	l.emit(events.TaskStatus{Header: l.header(), TaskID: j.task.ID, From: string(from), To: string(to)})
	return nil
}

// fail records a failed attempt and requeues the task, or blocks it once it
// has failed too often.
func (l *Loop) fail(j *job, reason string) {
	l.enter(StateFailed)
	l.finishAttempt(j, state.AttemptFailed, reason)

	failures, err := l.e.state.CountFailures(j.task.ID)
	if err != nil {
		l.e.logger.Log("[%s] count failures of %s: %v", l.agent, j.task.ID, err)
		failures = 1
	}
	l.emit(events.TaskFailed{Header: l.header(), TaskID: j.task.ID, Reason: reason, Attempt: failures})

	if limit := l.e.policy.MaxTaskAttempts; limit > 0 && failures >= limit {
		l.block(j, fmt.Sprintf("failed %d times, last: %s", failures, reason))
		return
	}
	if err := l.setStatus(j, models.TaskStatusReadyForAgent, fmt.Sprintf("attempt %d failed: %s", failures, reason)); err != nil {
		l.storeError(j, err)
	}
}

func (l *Loop) block(j *job, reason string) {
	l.enter(StateBlocked)
	l.finishAttempt(j, state.AttemptBlocked, reason)
	l.emit(events.TaskBlocked{Header: l.header(), TaskID: j.task.ID, Reason: reason})
	if err := l.setStatus(j, models.TaskStatusBlocked, reason); err != nil {
		l.storeError(j, err)
	}
}

// deferMerge leaves the task done_pending_merge for a later pass.
func (l *Loop) deferMerge(j *job, target, reason string) {
	l.e.backoff(j.task.ID)
	l.emit(events.TaskDeferred{Header: l.header(), TaskID: j.task.ID, Target: target, Reason: reason})
}

// storeError reports a failed status write. The task is left alone for a
// retry delay so a broken file does not spin the loop.
func (l *Loop) storeError(j *job, err error) {
	l.finishAttempt(j, state.AttemptFailed, err.Error())
	l.e.backoff(j.task.ID)
	l.emit(events.Error{Header: l.header(), TaskID: j.task.ID, Reason: "write task status", Err: err})
}

func (l *Loop) complete(j *job) {
	l.e.clearBackoff(j.task.ID)
	l.emit(events.TaskCompleted{Header: l.header(), TaskID: j.task.ID, Status: string(j.status), Duration: l.e.now().Sub(j.started)})
	// Dependents of this task may be ready now.
	l.e.wake.notify()
}

func (l *Loop) startAttempt(j *job) {
	id, err := l.e.state.StartAttempt(j.task.ID, l.agent)
	if err != nil {
		l.e.logger.Log("[%s] record attempt of %s: %v", l.agent, j.task.ID, err)
		return
	}
	j.attemptID = id
}

func (l *Loop) finishAttempt(j *job, outcome state.AttemptOutcome, reason string) {
	if j.attemptID == "" {
		return
	}
	if err := l.e.state.FinishAttempt(j.attemptID, outcome, reason); err != nil {
		l.e.logger.Log("[%s] finish attempt of %s: %v", l.agent, j.task.ID, err)
	}
	j.attemptID = ""
}
