package git

import (
	"context"
	"os"
	osexec "os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ShayCichocki/tandem/internal/errors"
	"github.com/ShayCichocki/tandem/internal/exec"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := osexec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := osexec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// initRepo creates a repository on branch main with one commit.
func initRepo(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	gitRun(t, dir, "init")
	gitRun(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	gitRun(t, dir, "config", "user.name", "Test")
	gitRun(t, dir, "config", "user.email", "test@test.com")
	writeFile(t, filepath.Join(dir, "README.md"), "# Test\n")
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func commitFile(t *testing.T, dir, name, content string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, name), content)
	gitRun(t, dir, "add", name)
	gitRun(t, dir, "commit", "-m", "update "+name)
}

func newTestCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()
	requireGit(t)
	base := t.TempDir()
	repoPath := filepath.Join(base, "api")
	initRepo(t, repoPath)

	c := NewCoordinator(exec.NewRunner(), CoordinatorConfig{
		WorktreeRoot: filepath.Join(base, "worktrees"),
		Repos: map[string]Repo{
			"api": {Path: repoPath, DefaultBranch: "main"},
		},
	})
	return c, repoPath
}

func TestResolve(t *testing.T) {
	c, repoPath := newTestCoordinator(t)

	repo, err := c.Resolve("api")
	if err != nil {
		t.Fatal(err)
	}
	if repo.Name != "api" || repo.Path != repoPath || repo.Literal {
		t.Errorf("Resolve(api) = %+v", repo)
	}

	literal, err := c.Resolve(repoPath)
	if err != nil {
		t.Fatal(err)
	}
	if !literal.Literal || literal.Path != repoPath {
		t.Errorf("Resolve(path) = %+v", literal)
	}

	if _, err := c.Resolve("web"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound for unknown repo, got %v", err)
	}
	if _, err := c.Resolve(filepath.Join(repoPath, "missing")); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound for missing directory, got %v", err)
	}
}

func TestMissingRepositoryPathIsNotFound(t *testing.T) {
	requireGit(t)
	c := NewCoordinator(exec.NewRunner(), CoordinatorConfig{
		WorktreeRoot: filepath.Join(t.TempDir(), "worktrees"),
		Repos: map[string]Repo{
			"api": {Path: filepath.Join(t.TempDir(), "gone"), DefaultBranch: "main"},
		},
	})
	ctx := context.Background()

	if _, err := c.Resolve("api"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Resolve: expected NotFound, got %v", err)
	}
	if _, err := c.AddWorktree(ctx, "api", "feature/x", ""); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("AddWorktree: expected NotFound, got %v", err)
	}
	if _, _, err := c.EnsureWorktree(ctx, "api", "feature/x", ""); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("EnsureWorktree: expected NotFound, got %v", err)
	}
}

func TestAddWorktreeAndListTrueBranchNames(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	wt, err := c.AddWorktree(ctx, "api", "feature/auth", "")
	if err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}
	if filepath.Base(wt.Path) != "feature-auth" {
		t.Errorf("path = %s, want .../feature-auth", wt.Path)
	}
	if wt.Branch != "feature/auth" {
		t.Errorf("branch = %q, want feature/auth", wt.Branch)
	}

	list, err := c.ListWorktrees(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	var branches []string
	for _, w := range list {
		branches = append(branches, w.Branch)
		if w.Head == "" {
			t.Errorf("worktree %s has no commit", w.Path)
		}
	}
	if !reflect.DeepEqual(branches, []string{"main", "feature/auth"}) {
		t.Errorf("branches = %v", branches)
	}

	if _, err := c.AddWorktree(ctx, "api", "feature/auth", ""); !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("expected AlreadyExists, got %v", err)
	}
	if _, err := c.AddWorktree(ctx, "nope", "x", ""); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := c.AddWorktree(ctx, "api", "other", "no-such-base"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound for missing base, got %v", err)
	}
}

func TestEnsureWorktreeReusesExisting(t *testing.T) {
	c, repoPath := newTestCoordinator(t)
	ctx := context.Background()

	first, created, err := c.EnsureWorktree(ctx, "api", "feat", "")
	if err != nil || !created {
		t.Fatalf("first EnsureWorktree: created=%v err=%v", created, err)
	}
	second, created, err := c.EnsureWorktree(ctx, "api", "feat", "")
	if err != nil || created {
		t.Fatalf("second EnsureWorktree: created=%v err=%v", created, err)
	}
	if first.Path != second.Path {
		t.Errorf("paths differ: %s vs %s", first.Path, second.Path)
	}

	main, created, err := c.EnsureWorktree(ctx, "api", "main", "")
	if err != nil || created {
		t.Fatalf("main EnsureWorktree: created=%v err=%v", created, err)
	}
	if main.Path != repoPath {
		t.Errorf("main should resolve to the main checkout, got %s", main.Path)
	}
}

func TestMergeCleanThenConflict(t *testing.T) {
	c, repoPath := newTestCoordinator(t)
	ctx := context.Background()

	a, err := c.AddWorktree(ctx, "api", "feat-a", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.AddWorktree(ctx, "api", "feat-b", "")
	if err != nil {
		t.Fatal(err)
	}
	commitFile(t, a.Path, "README.md", "# From A\n")
	commitFile(t, b.Path, "README.md", "# From B\n")

	res := c.Merge(ctx, "api", "feat-a", "main")
	if res.Kind != ResultOK {
		t.Fatalf("merge feat-a: %v (%v)", res.Kind, res.Err)
	}
	content, _ := os.ReadFile(filepath.Join(repoPath, "README.md"))
	if string(content) != "# From A\n" {
		t.Errorf("main README = %q", content)
	}

	res = c.Merge(ctx, "api", "feat-b", "main")
	if res.Kind != ResultConflict {
		t.Fatalf("expected conflict, got %v (%v)", res.Kind, res.Err)
	}
	if !reflect.DeepEqual(res.Files, []string{"README.md"}) {
		t.Errorf("conflicted files = %v", res.Files)
	}
	var conflict *errors.MergeConflictError
	if !errors.As(res.Err, &conflict) {
		t.Errorf("expected MergeConflictError, got %v", res.Err)
	}
	if !res.Recoverable() {
		t.Error("conflict should be recoverable")
	}

	if _, err := os.Stat(filepath.Join(repoPath, ".git", "MERGE_HEAD")); !os.IsNotExist(err) {
		t.Error("merge should have been aborted")
	}
	if status := gitRun(t, repoPath, "status", "--porcelain"); status != "" {
		t.Errorf("main worktree not clean after abort: %q", status)
	}
}

func TestCleanupMergedBranches(t *testing.T) {
	c, repoPath := newTestCoordinator(t)
	ctx := context.Background()

	merged, _ := c.AddWorktree(ctx, "api", "feat/merged", "")
	pending, _ := c.AddWorktree(ctx, "api", "feat/pending", "")
	kept, _ := c.AddWorktree(ctx, "api", "feat/claimed", "")
	commitFile(t, merged.Path, "a.txt", "a\n")
	commitFile(t, pending.Path, "b.txt", "b\n")
	commitFile(t, kept.Path, "c.txt", "c\n")

	for _, branch := range []string{"feat/merged", "feat/claimed"} {
		if res := c.Merge(ctx, "api", branch, "main"); res.Kind != ResultOK {
			t.Fatalf("merge %s: %v", branch, res.Err)
		}
	}

	result, err := c.CleanupMergedBranches(ctx, "api", "main", func(wt Worktree) bool {
		return wt.Branch == "feat/claimed"
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(result.Deleted, []string{"feat/merged"}) {
		t.Errorf("deleted = %v, want [feat/merged]", result.Deleted)
	}
	if len(result.Failed) != 0 {
		t.Errorf("unexpected failures: %v", result.Failed)
	}
	if _, err := os.Stat(merged.Path); !os.IsNotExist(err) {
		t.Error("merged worktree directory should be gone")
	}
	if _, err := os.Stat(pending.Path); err != nil {
		t.Error("unmerged worktree must be kept")
	}

	branches := gitRun(t, repoPath, "branch", "--format=%(refname:short)")
	if strings.Contains(branches, "feat/merged") {
		t.Errorf("merged branch still present: %s", branches)
	}
	if !strings.Contains(branches, "feat/claimed") {
		t.Errorf("vetoed branch was deleted: %s", branches)
	}
}

func TestPullDefaultBranches(t *testing.T) {
	c, repoPath := newTestCoordinator(t)
	ctx := context.Background()

	remote := filepath.Join(filepath.Dir(repoPath), "remote.git")
	gitRun(t, filepath.Dir(repoPath), "init", "--bare", remote)
	gitRun(t, repoPath, "remote", "add", "origin", remote)
	gitRun(t, repoPath, "push", "-u", "origin", "main")

	other := filepath.Join(filepath.Dir(repoPath), "other")
	gitRun(t, filepath.Dir(repoPath), "clone", remote, other)
	gitRun(t, other, "config", "user.name", "Other")
	gitRun(t, other, "config", "user.email", "other@test.com")
	gitRun(t, other, "checkout", "-B", "main", "origin/main")
	commitFile(t, other, "upstream.txt", "new\n")
	gitRun(t, other, "push", "origin", "main")

	results := c.PullDefaultBranches(ctx, []string{"api"})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("pull results = %+v", results)
	}
	if _, err := os.Stat(filepath.Join(repoPath, "upstream.txt")); err != nil {
		t.Error("main checkout should have the upstream commit")
	}

	results = c.PullDefaultBranches(ctx, []string{"missing"})
	if len(results) != 1 || results[0].Err == nil {
		t.Errorf("expected a per-repo failure, got %+v", results)
	}
}

func TestPushWithoutRemoteFails(t *testing.T) {
	c, repoPath := newTestCoordinator(t)
	repo, _ := c.Resolve("api")

	res := c.Push(context.Background(), repo, repoPath, "main")
	if res.Kind != ResultFailed || !errors.Is(res.Err, errors.ErrNotFound) {
		t.Errorf("expected failed push with NotFound, got %v %v", res.Kind, res.Err)
	}
}

// scriptedRunner returns canned output for a command name.
type scriptedRunner struct {
	output map[string]string
	err    map[string]error
	calls  [][]string
}

func (s *scriptedRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return []byte(s.output[name]), s.err[name]
}

func TestCreatePR(t *testing.T) {
	req := PRRequest{Branch: "feat", Base: "main", Title: "Add feat", Body: "body"}
	repo := Repo{Name: "api"}

	t.Run("created", func(t *testing.T) {
		r := &scriptedRunner{output: map[string]string{"gh": "Creating pull request\nhttps://github.com/o/api/pull/7\n"}}
		c := NewCoordinator(r, CoordinatorConfig{})
		res := c.CreatePR(context.Background(), repo, "/tmp", req)
		if res.Kind != ResultOK || res.URL != "https://github.com/o/api/pull/7" {
			t.Errorf("result = %+v", res)
		}
		got := strings.Join(r.calls[0], " ")
		for _, want := range []string{"gh pr create", "--head feat", "--base main", "--title Add feat"} {
			if !strings.Contains(got, want) {
				t.Errorf("command %q missing %q", got, want)
			}
		}
	})

	t.Run("already exists", func(t *testing.T) {
		r := &scriptedRunner{
			output: map[string]string{"gh": "a pull request for branch \"feat\" into branch \"main\" already exists:\nhttps://github.com/o/api/pull/3\n"},
			err:    map[string]error{"gh": errors.New("exit status 1")},
		}
		res := NewCoordinator(r, CoordinatorConfig{}).CreatePR(context.Background(), repo, "/tmp", req)
		if res.Kind != ResultPRExists || res.URL != "https://github.com/o/api/pull/3" {
			t.Errorf("result = %+v", res)
		}
		if !res.Succeeded() {
			t.Error("existing PR counts as success")
		}
	})

	t.Run("failure", func(t *testing.T) {
		r := &scriptedRunner{
			output: map[string]string{"gh": "authentication required"},
			err:    map[string]error{"gh": errors.New("exit status 4")},
		}
		res := NewCoordinator(r, CoordinatorConfig{}).CreatePR(context.Background(), repo, "/tmp", req)
		if res.Kind != ResultFailed || !errors.Is(res.Err, errors.ErrGitOperation) {
			t.Errorf("result = %+v", res)
		}
		if !strings.Contains(res.Reason(), "authentication required") {
			t.Errorf("reason should carry gh output: %s", res.Reason())
		}
	})
}
