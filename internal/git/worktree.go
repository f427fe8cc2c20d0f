package git

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"
)

// Worktree is one entry of `git worktree list`.
type Worktree struct {
	Path string `json:"path"`
	// Branch is the real branch name from git, never derived from Path.
	Branch   string `json:"branch,omitempty"`
	Head     string `json:"head,omitempty"`
	Bare     bool   `json:"bare,omitempty"`
	Detached bool   `json:"detached,omitempty"`
}

// SanitizeBranch turns a branch name into a single path segment.
// The mapping is one-way: read the branch back from git, not from the path.
// A leading dot becomes "_" so "." and ".." never name the parent directories.
func SanitizeBranch(branch string) string {
	seg := strings.ReplaceAll(branch, "/", "-")
	if seg == "" {
		return "_"
	}
	if seg[0] == '.' {
		seg = "_" + seg[1:]
	}
	return seg
}

// WorktreePath returns where the worktree for (repo, branch) lives.
func WorktreePath(root, repo, branch string) string {
	return filepath.Join(root, repo, SanitizeBranch(branch))
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) ([]Worktree, error) {
	var worktrees []Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if current != nil {
				worktrees = append(worktrees, *current)
				current = nil
			}
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
			// Attribute lines before any worktree line are ignored.
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			// Format: branch refs/heads/<name>
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			current.Bare = true
		case line == "detached":
			current.Detached = true
		}
	}

	// Don't forget the last worktree if output doesn't end with blank line
	if current != nil {
		worktrees = append(worktrees, *current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}

// findByBranch returns the worktree that has branch checked out.
func findByBranch(worktrees []Worktree, branch string) (Worktree, bool) {
	for _, wt := range worktrees {
		if wt.Branch == branch && !wt.Bare {
			return wt, true
		}
	}
	return Worktree{}, false
}
