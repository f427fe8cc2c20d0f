package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/tandem/internal/errors"
	"github.com/ShayCichocki/tandem/internal/exec"
)

// DefaultRemote is used when a repository does not name one.
const DefaultRemote = "origin"

// Repo is a repository the engine can work in.
type Repo struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	DefaultBranch string `json:"default_branch,omitempty"`
	Remote        string `json:"remote,omitempty"`
	// Literal is set when the task named a directory instead of a configured repo.
	Literal bool `json:"literal,omitempty"`
}

// RemoteName returns the configured remote or DefaultRemote.
func (r Repo) RemoteName() string {
	if r.Remote == "" {
		return DefaultRemote
	}
	return r.Remote
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	WorktreeRoot string
	Repos        map[string]Repo
	// GHCommand is the GitHub CLI binary, "gh" by default.
	GHCommand string
	// CleanupParallelism bounds concurrent worktree removals.
	CleanupParallelism int
}

// ResultKind classifies the outcome of a push, PR or merge.
type ResultKind int

const (
	ResultOK ResultKind = iota
	// ResultPRExists means a pull request for the branch was already open.
	ResultPRExists
	// ResultConflict means the merge stopped on conflicts and was aborted.
	ResultConflict
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultPRExists:
		return "pr_exists"
	case ResultConflict:
		return "conflict"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a remote-facing git operation.
type Result struct {
	Kind ResultKind
	// URL is the pull request URL for CreatePR.
	URL string
	// Files lists conflicted paths for ResultConflict.
	Files []string
	// Note carries non-fatal detail, such as a failed push after a local merge.
	Note string
	Err  error
}

// Succeeded reports whether the operation reached its goal.
func (r Result) Succeeded() bool {
	return r.Kind == ResultOK || r.Kind == ResultPRExists
}

// Recoverable reports whether the failure can be resolved and retried.
func (r Result) Recoverable() bool {
	return r.Kind == ResultConflict || r.Kind == ResultPRExists
}

// Reason returns a human readable explanation of a non-OK result.
func (r Result) Reason() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Note != "":
		return r.Note
	default:
		return r.Kind.String()
	}
}

// PullResult is the outcome of updating one repository's default branch.
type PullResult struct {
	Repo   string
	Branch string
	Err    error
}

// CleanupResult lists branches removed after a merge and those that could not be.
type CleanupResult struct {
	Deleted []string
	// Failed maps a branch to the reason it was kept.
	Failed map[string]string
}

// PRRequest describes a pull request to open.
type PRRequest struct {
	Branch string
	Base   string
	Title  string
	Body   string
}

// Coordinator runs the git workflow for every configured repository.
type Coordinator struct {
	cmd exec.CommandRunner
	cfg CoordinatorConfig

	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex
}

// NewCoordinator creates a coordinator that runs git and gh through cmd.
func NewCoordinator(cmd exec.CommandRunner, cfg CoordinatorConfig) *Coordinator {
	if cfg.GHCommand == "" {
		cfg.GHCommand = "gh"
	}
	if cfg.CleanupParallelism <= 0 {
		cfg.CleanupParallelism = 4
	}
	return &Coordinator{cmd: cmd, cfg: cfg, repoLocks: make(map[string]*sync.Mutex)}
}

// repoLock serializes structural worktree changes within one repository.
func (c *Coordinator) repoLock(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.repoLocks[path]
	if !ok {
		l = &sync.Mutex{}
		c.repoLocks[path] = l
	}
	return l
}

// Runner returns a git runner for dir within repo.
func (c *Coordinator) Runner(repo Repo, dir string) Runner {
	return NewRunner(c.cmd, dir, repo.Name)
}

// Repos returns the configured repositories sorted by name.
func (c *Coordinator) Repos() []Repo {
	out := make([]Repo, 0, len(c.cfg.Repos))
	for name, r := range c.cfg.Repos {
		r.Name = name
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsLiteralPath reports whether a task's repo field names a directory.
func IsLiteralPath(repo string) bool {
	return filepath.IsAbs(repo) || strings.HasPrefix(repo, ".") || strings.HasPrefix(repo, "~")
}

// Resolve maps a task's repo field to a repository.
func (c *Coordinator) Resolve(name string) (Repo, error) {
	if name == "" {
		return Repo{}, errors.NewNotFoundError("repository", "(empty)")
	}
	if IsLiteralPath(name) {
		path := name
		if strings.HasPrefix(path, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, strings.TrimPrefix(path, "~"))
			}
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return Repo{}, fmt.Errorf("resolve %s: %w", name, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return Repo{}, errors.NewNotFoundError("directory", abs).WithCause(err)
		}
		return Repo{Name: filepath.Base(abs), Path: abs, Literal: true}, nil
	}

	r, ok := c.cfg.Repos[name]
	if !ok {
		// Config keys arrive lowercased.
		r, ok = c.cfg.Repos[strings.ToLower(name)]
	}
	if !ok {
		return Repo{}, errors.NewNotFoundError("repository", name)
	}
	if _, err := os.Stat(r.Path); err != nil {
		return Repo{}, errors.NewNotFoundError("repository", r.Path).WithCause(err)
	}
	r.Name = name
	return r, nil
}

// WorktreePath returns the worktree location for (repo, branch).
func (c *Coordinator) WorktreePath(repo, branch string) string {
	return WorktreePath(c.cfg.WorktreeRoot, repo, branch)
}

// ListWorktrees returns the repository's worktrees with their real branch names.
func (c *Coordinator) ListWorktrees(ctx context.Context, name string) ([]Worktree, error) {
	repo, err := c.Resolve(name)
	if err != nil {
		return nil, err
	}
	return c.listWorktrees(ctx, repo)
}

func (c *Coordinator) listWorktrees(ctx context.Context, repo Repo) ([]Worktree, error) {
	out, err := c.Runner(repo, repo.Path).WorktreeListPorcelain(ctx)
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out)
}

// AddWorktree creates the worktree for (repo, branch). A missing branch is
// created from base, or from the default branch when base is empty.
func (c *Coordinator) AddWorktree(ctx context.Context, name, branch, base string) (Worktree, error) {
	repo, err := c.Resolve(name)
	if err != nil {
		return Worktree{}, err
	}

	lock := c.repoLock(repo.Path)
	lock.Lock()
	defer lock.Unlock()
	return c.addWorktreeLocked(ctx, repo, branch, base)
}

func (c *Coordinator) addWorktreeLocked(ctx context.Context, repo Repo, branch, base string) (Worktree, error) {
	path := c.WorktreePath(repo.Name, branch)
	if _, err := os.Stat(path); err == nil {
		return Worktree{}, errors.NewAlreadyExistsError("worktree", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Worktree{}, fmt.Errorf("create worktree parent: %w", err)
	}

	runner := c.Runner(repo, repo.Path)
	if runner.BranchExists(ctx, branch) {
		if err := runner.WorktreeAdd(ctx, path, branch); err != nil {
			return Worktree{}, err
		}
	} else {
		if base == "" {
			base = repo.DefaultBranch
		}
		if base != "" && !runner.BranchExists(ctx, base) {
			return Worktree{}, errors.NewNotFoundError("branch", base)
		}
		if err := runner.WorktreeAddNewBranch(ctx, path, branch, base); err != nil {
			return Worktree{}, err
		}
	}

	worktrees, err := c.listWorktrees(ctx, repo)
	if err != nil {
		return Worktree{}, err
	}
	if wt, ok := findByBranch(worktrees, branch); ok {
		return wt, nil
	}
	return Worktree{Path: path, Branch: branch}, nil
}

// EnsureWorktree returns the worktree that has branch checked out, creating
// it if no worktree does. created reports whether a new one was added.
func (c *Coordinator) EnsureWorktree(ctx context.Context, name, branch, base string) (wt Worktree, created bool, err error) {
	repo, err := c.Resolve(name)
	if err != nil {
		return Worktree{}, false, err
	}

	lock := c.repoLock(repo.Path)
	lock.Lock()
	defer lock.Unlock()

	worktrees, err := c.listWorktrees(ctx, repo)
	if err != nil {
		return Worktree{}, false, err
	}
	if existing, ok := findByBranch(worktrees, branch); ok {
		return existing, false, nil
	}
	wt, err = c.addWorktreeLocked(ctx, repo, branch, base)
	if err != nil {
		return Worktree{}, false, err
	}
	return wt, true, nil
}

// PullDefaultBranches fast-forwards the default branch of every named
// repository. Failures are returned per repository and never stop the rest.
func (c *Coordinator) PullDefaultBranches(ctx context.Context, names []string) []PullResult {
	var results []PullResult
	for _, name := range names {
		repo, err := c.Resolve(name)
		if err != nil {
			results = append(results, PullResult{Repo: name, Err: err})
			continue
		}
		if repo.Literal || repo.DefaultBranch == "" {
			continue
		}
		res := PullResult{Repo: repo.Name, Branch: repo.DefaultBranch}
		res.Err = c.pullDefault(ctx, repo)
		results = append(results, res)
	}
	return results
}

func (c *Coordinator) pullDefault(ctx context.Context, repo Repo) error {
	main := c.Runner(repo, repo.Path)
	remote := repo.RemoteName()
	if !main.HasRemote(ctx, remote) {
		return errors.NewNotFoundError("remote", remote)
	}

	worktrees, err := c.listWorktrees(ctx, repo)
	if err != nil {
		return err
	}
	// A checked-out branch can only be updated from inside its worktree.
	if wt, ok := findByBranch(worktrees, repo.DefaultBranch); ok {
		lock := c.repoLock(wt.Path)
		lock.Lock()
		defer lock.Unlock()
		return c.Runner(repo, wt.Path).PullFFOnly(ctx, remote, repo.DefaultBranch)
	}
	return main.FetchInto(ctx, remote, repo.DefaultBranch)
}

// CurrentBranch returns the branch checked out in dir.
func (c *Coordinator) CurrentBranch(ctx context.Context, repo Repo, dir string) (string, error) {
	return c.Runner(repo, dir).CurrentBranch(ctx)
}

// Push publishes branch from dir to the repository's remote.
func (c *Coordinator) Push(ctx context.Context, repo Repo, dir, branch string) Result {
	runner := c.Runner(repo, dir)
	remote := repo.RemoteName()
	if !runner.HasRemote(ctx, remote) {
		return Result{Kind: ResultFailed, Err: errors.NewNotFoundError("remote", remote)}
	}
	if err := runner.Push(ctx, remote, branch); err != nil {
		return Result{Kind: ResultFailed, Err: err}
	}
	return Result{Kind: ResultOK}
}

var urlPattern = regexp.MustCompile(`https?://\S+`)

// CreatePR opens a pull request with the GitHub CLI. An already open pull
// request for the branch is reported as ResultPRExists with its URL.
func (c *Coordinator) CreatePR(ctx context.Context, repo Repo, dir string, req PRRequest) Result {
	args := []string{"pr", "create",
		"--head", req.Branch,
		"--title", req.Title,
		"--body", req.Body,
	}
	if req.Base != "" {
		args = append(args, "--base", req.Base)
	}

	out, err := c.cmd.Run(ctx, dir, c.cfg.GHCommand, args...)
	output := strings.TrimSpace(string(out))
	if err == nil {
		return Result{Kind: ResultOK, URL: lastURL(output)}
	}
	if strings.Contains(output, "already exists") {
		return Result{Kind: ResultPRExists, URL: lastURL(output), Note: "pull request already exists"}
	}
	return Result{
		Kind: ResultFailed,
		Err:  errors.NewGitOperationError("pr create", err).WithRepo(repo.Name).WithBranch(req.Branch).WithGitOutput(output),
	}
}

func lastURL(output string) string {
	urls := urlPattern.FindAllString(output, -1)
	if len(urls) == 0 {
		return ""
	}
	return urls[len(urls)-1]
}

// Merge merges source into target inside target's worktree with --no-ff.
// On conflict the merge is aborted and the conflicted files are returned so
// the agent can resolve them on the source branch. After a clean merge the
// target is pushed when the repository has a remote.
func (c *Coordinator) Merge(ctx context.Context, name, source, target string) Result {
	repo, err := c.Resolve(name)
	if err != nil {
		return Result{Kind: ResultFailed, Err: err}
	}

	targetWT, _, err := c.EnsureWorktree(ctx, name, target, "")
	if err != nil {
		return Result{Kind: ResultFailed, Err: fmt.Errorf("prepare %s worktree: %w", target, err)}
	}
	tr := c.Runner(repo, targetWT.Path)

	// Pulls into the same worktree wait for the merge.
	lock := c.repoLock(targetWT.Path)
	lock.Lock()
	defer lock.Unlock()

	if dirty, err := tr.ChangedFiles(ctx); err != nil {
		return Result{Kind: ResultFailed, Err: err}
	} else if len(dirty) > 0 {
		return Result{Kind: ResultFailed, Err: fmt.Errorf("target worktree %s has uncommitted changes: %s", targetWT.Path, strings.Join(dirty, ", "))}
	}

	msg := fmt.Sprintf("Merge branch '%s' into %s", source, target)
	if mergeErr := tr.MergeNoFF(ctx, source, msg); mergeErr != nil {
		files, _ := tr.ConflictedFiles(ctx)
		// Leave the target clean whatever happened.
		_ = tr.MergeAbort(ctx)
		if len(files) > 0 {
			return Result{Kind: ResultConflict, Files: files, Err: errors.NewMergeConflictError(source, target, files)}
		}
		return Result{Kind: ResultFailed, Err: mergeErr}
	}

	res := Result{Kind: ResultOK}
	if !repo.Literal && tr.HasRemote(ctx, repo.RemoteName()) {
		if err := tr.Push(ctx, repo.RemoteName(), target); err != nil {
			res.Note = fmt.Sprintf("merged locally, push of %s failed: %v", target, err)
		}
	}
	return res
}

// CleanupMergedBranches removes worktrees (and their branches) whose work is
// fully merged into target. keep may veto removal of a worktree, for example
// one another task is using. The main worktree, target and the default
// branch are never removed.
func (c *Coordinator) CleanupMergedBranches(ctx context.Context, name, target string, keep func(Worktree) bool) (CleanupResult, error) {
	result := CleanupResult{Failed: make(map[string]string)}

	repo, err := c.Resolve(name)
	if err != nil {
		return result, err
	}

	lock := c.repoLock(repo.Path)
	lock.Lock()
	defer lock.Unlock()

	main := c.Runner(repo, repo.Path)
	merged, err := main.MergedBranches(ctx, target)
	if err != nil {
		return result, err
	}
	mergedSet := make(map[string]bool, len(merged))
	for _, b := range merged {
		mergedSet[b] = true
	}

	worktrees, err := c.listWorktrees(ctx, repo)
	if err != nil {
		return result, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.CleanupParallelism)
	for i, wt := range worktrees {
		if i == 0 || wt.Bare || wt.Branch == "" || wt.Branch == target || wt.Branch == repo.DefaultBranch {
			continue
		}
		if !mergedSet[wt.Branch] || (keep != nil && keep(wt)) {
			continue
		}
		g.Go(func() error {
			err := c.removeMerged(gctx, repo, wt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[wt.Branch] = err.Error()
			} else {
				result.Deleted = append(result.Deleted, wt.Branch)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := main.WorktreePrune(ctx); err != nil {
		result.Failed["(prune)"] = err.Error()
	}
	sort.Strings(result.Deleted)
	return result, nil
}

func (c *Coordinator) removeMerged(ctx context.Context, repo Repo, wt Worktree) error {
	main := c.Runner(repo, repo.Path)
	if err := main.WorktreeRemove(ctx, wt.Path, false); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	if err := main.DeleteBranch(ctx, wt.Branch); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	return nil
}

// UncommittedChanges lists files with uncommitted changes in dir.
func (c *Coordinator) UncommittedChanges(ctx context.Context, repo Repo, dir string) ([]string, error) {
	return c.Runner(repo, dir).ChangedFiles(ctx)
}
