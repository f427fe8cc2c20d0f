package orchestrator

import (
	"strings"
	"sync"

	"github.com/ShayCichocki/tandem/internal/git"
)

// Workspace is where a task runs: a branch of a repository, or a literal
// directory when Repo is a path.
type Workspace struct {
	Repo   string
	Branch string
}

func (w Workspace) key() string {
	if git.IsLiteralPath(w.Repo) {
		return w.Repo
	}
	return strings.ToLower(w.Repo) + "\x00" + w.Branch
}

// Claims records which task owns each workspace. A workspace is claimed by
// at most one task, and a task claims at most one workspace.
type Claims struct {
	mu     sync.Mutex
	byKey  map[string]string
	byTask map[string]Workspace
}

// NewClaims creates an empty registry.
func NewClaims() *Claims {
	return &Claims{byKey: make(map[string]string), byTask: make(map[string]Workspace)}
}

// Claim gives ws to taskID. It fails if another task holds ws or taskID is
// already working elsewhere.
func (c *Claims) Claim(ws Workspace, taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.byKey[ws.key()]; held {
		return false
	}
	if _, busy := c.byTask[taskID]; busy {
		return false
	}
	c.byKey[ws.key()] = taskID
	c.byTask[taskID] = ws
	return true
}

// Release frees the workspace held by taskID, if any.
func (c *Claims) Release(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ws, ok := c.byTask[taskID]
	if !ok {
		return
	}
	delete(c.byTask, taskID)
	delete(c.byKey, ws.key())
}

// Owner returns the task holding ws.
func (c *Claims) Owner(ws Workspace) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byKey[ws.key()]
	return id, ok
}

// Busy reports whether taskID holds a workspace.
func (c *Claims) Busy(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byTask[taskID]
	return ok
}

// Keep returns a cleanup filter that spares worktrees of repo in use by a
// task other than self.
func (c *Claims) Keep(repo, self string) func(git.Worktree) bool {
	return func(wt git.Worktree) bool {
		owner, held := c.Owner(Workspace{Repo: repo, Branch: wt.Branch})
		return held && owner != self
	}
}
