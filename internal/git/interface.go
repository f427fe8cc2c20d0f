// Package git runs git and gh for the engine: worktrees, sync with the
// remote, pull requests, merges and cleanup.
package git

import "context"

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// BranchExists returns true if the local branch exists.
	BranchExists(ctx context.Context, name string) bool
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(ctx context.Context, name string) error
	// MergedBranches lists local branches fully merged into target.
	MergedBranches(ctx context.Context, target string) ([]string, error)
}

// DiffOperations defines the interface for status inspection.
type DiffOperations interface {
	// ChangedFiles returns paths with uncommitted changes, untracked included.
	ChangedFiles(ctx context.Context) ([]string, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles(ctx context.Context) ([]string, error)
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFF merges branch into the current branch creating a merge commit.
	MergeNoFF(ctx context.Context, branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort(ctx context.Context) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a worktree at path for an existing branch.
	WorktreeAdd(ctx context.Context, path, branch string) error
	// WorktreeAddNewBranch creates a worktree with a new branch started from base.
	WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error
	// WorktreeRemove removes the worktree at the given path.
	WorktreeRemove(ctx context.Context, path string, force bool) error
	// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
	WorktreeListPorcelain(ctx context.Context) (string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune(ctx context.Context) error
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// HasRemote returns true if the named remote is configured.
	HasRemote(ctx context.Context, remote string) bool
	// PullFFOnly pulls branch from remote with fast-forward only.
	PullFFOnly(ctx context.Context, remote, branch string) error
	// FetchInto updates a local branch that is not checked out from the remote.
	FetchInto(ctx context.Context, remote, branch string) error
	// Push pushes branch to remote and sets its upstream.
	Push(ctx context.Context, remote, branch string) error
}

// Runner defines the complete interface for git operations in one directory.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	DiffOperations
	MergeOperations
	WorktreeOperations
	RemoteOperations
	// Dir returns the directory commands run in.
	Dir() string
}
