package git

import (
	"context"
	"strings"

	"github.com/ShayCichocki/tandem/internal/errors"
	"github.com/ShayCichocki/tandem/internal/exec"
)

// ExecRunner implements Runner on top of an exec.CommandRunner.
type ExecRunner struct {
	cmd  exec.CommandRunner
	dir  string
	repo string
}

// NewRunner creates a git runner for the given directory. repo names the
// repository in error messages.
func NewRunner(cmd exec.CommandRunner, dir, repo string) *ExecRunner {
	return &ExecRunner{cmd: cmd, dir: dir, repo: repo}
}

// Dir returns the directory commands run in.
func (r *ExecRunner) Dir() string {
	return r.dir
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.cmd.Run(ctx, r.dir, "git", args...)
	if err != nil {
		return "", errors.NewGitOperationError(strings.Join(args, " "), err).
			WithRepo(r.repo).
			WithGitOutput(string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists returns true if the branch exists. Any failure reads as absent.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) bool {
	_, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// DeleteBranch deletes the specified branch (force delete).
func (r *ExecRunner) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "branch", "-D", name)
	return err
}

// MergedBranches lists local branches fully merged into target, target excluded.
func (r *ExecRunner) MergedBranches(ctx context.Context, target string) ([]string, error) {
	out, err := r.run(ctx, "branch", "--format=%(refname:short)", "--merged", target)
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range splitLines(out) {
		if line != target {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// ChangedFiles returns paths from git status --porcelain.
func (r *ExecRunner) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := r.cmd.Run(ctx, r.dir, "git", "status", "--porcelain")
	if err != nil {
		return nil, errors.NewGitOperationError("status", err).WithRepo(r.repo).WithGitOutput(string(out))
	}
	return parseStatusPorcelain(string(out)), nil
}

// ConflictedFiles returns a list of files with unmerged changes.
func (r *ExecRunner) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// MergeNoFF merges branch with --no-ff and the given message.
func (r *ExecRunner) MergeNoFF(ctx context.Context, branch, message string) error {
	_, err := r.run(ctx, "merge", "--no-ff", "-m", message, branch)
	return err
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort(ctx context.Context) error {
	_, err := r.run(ctx, "merge", "--abort")
	return err
}

// WorktreeAdd creates a worktree at path for an existing branch.
func (r *ExecRunner) WorktreeAdd(ctx context.Context, path, branch string) error {
	_, err := r.run(ctx, "worktree", "add", path, branch)
	return err
}

// WorktreeAddNewBranch creates a worktree with a new branch started from base.
func (r *ExecRunner) WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := r.run(ctx, args...)
	return err
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	_, err := r.run(ctx, append(args, path)...)
	return err
}

// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
func (r *ExecRunner) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return r.run(ctx, "worktree", "list", "--porcelain")
}

// WorktreePrune removes stale worktree entries.
func (r *ExecRunner) WorktreePrune(ctx context.Context) error {
	_, err := r.run(ctx, "worktree", "prune")
	return err
}

// HasRemote returns true if the named remote is configured.
func (r *ExecRunner) HasRemote(ctx context.Context, remote string) bool {
	_, err := r.run(ctx, "remote", "get-url", remote)
	return err == nil
}

// PullFFOnly pulls branch from remote with fast-forward only.
func (r *ExecRunner) PullFFOnly(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, "pull", "--ff-only", remote, branch)
	return err
}

// FetchInto fast-forwards a local branch that is not checked out anywhere.
func (r *ExecRunner) FetchInto(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, "fetch", remote, branch+":"+branch)
	return err
}

// Push pushes branch to remote and sets its upstream.
func (r *ExecRunner) Push(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, "push", "-u", remote, branch)
	return err
}

// parseStatusPorcelain extracts paths from `git status --porcelain` (v1) output.
// Renames report the new path.
func parseStatusPorcelain(output string) []string {
	var files []string
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
