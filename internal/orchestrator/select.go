package orchestrator

import (
	"sort"

	"github.com/ShayCichocki/tandem/internal/git"
	"github.com/ShayCichocki/tandem/internal/graph"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// DefaultBranchPrefix names the branch of a task that does not set one.
const DefaultBranchPrefix = "tandem/"

// WorkspaceFor returns where a task runs. defaultRepo stands in for an empty
// repo field and may itself be empty.
func WorkspaceFor(t *models.Task, defaultRepo string) Workspace {
	repo := t.Repo
	if repo == "" {
		repo = defaultRepo
	}
	if git.IsLiteralPath(repo) {
		return Workspace{Repo: repo}
	}
	branch := t.Branch
	if branch == "" {
		branch = DefaultBranchPrefix + t.ID
	}
	return Workspace{Repo: repo, Branch: branch}
}

// Selector decides which tasks an agent may take next.
type Selector struct {
	// AllowPendingMergeDeps treats done_pending_merge dependencies as satisfied.
	AllowPendingMergeDeps bool
	// Due reports whether a task is past its retry delay. Nil means always.
	Due func(taskID string) bool
}

// Candidates returns the tasks agent may work on, best first. Merges this
// agent left pending come before new work; new work is ordered by dependency
// layer, then by position in the task file.
func (s Selector) Candidates(tasks []*models.Task, agent string) []*models.Task {
	g := graph.BuildGraph(tasks)
	layers := graph.ComputeLayers(g)

	type candidate struct {
		task    *models.Task
		pending bool
		layer   int
		order   int
	}
	var found []candidate

	order := 0
	for _, root := range tasks {
		if root == nil {
			continue
		}
		root.Walk(func(t, _ *models.Task, _ int) bool {
			order++
			if (t.Agent != "" && t.Agent != agent) || (s.Due != nil && !s.Due(t.ID)) {
				return true
			}
			layer, ok := layers[t.ID]
			if !ok {
				layer = len(g.Nodes)
			}
			switch {
			case t.Status == models.TaskStatusDonePendingMerge:
				found = append(found, candidate{task: t, pending: true, layer: layer, order: order})
			case s.startable(t, agent) && s.depsSatisfied(g, t) && subtasksDone(t):
				found = append(found, candidate{task: t, layer: layer, order: order})
			}
			return true
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.pending != b.pending {
			return a.pending
		}
		if a.layer != b.layer {
			return a.layer < b.layer
		}
		return a.order < b.order
	})

	out := make([]*models.Task, len(found))
	for i, c := range found {
		out[i] = c.task
	}
	return out
}

// startable covers todo and ready_for_agent, plus assigned when the task
// names this agent.
func (s Selector) startable(t *models.Task, agent string) bool {
	if t.Status.Pickable() {
		return true
	}
	return t.Status == models.TaskStatusAssigned && t.Agent == agent
}

// depsSatisfied is false for any dependency id that matches no task.
func (s Selector) depsSatisfied(g *graph.TaskGraph, t *models.Task) bool {
	for _, dep := range t.DependsOn {
		node, ok := g.Node(dep)
		if !ok {
			return false
		}
		switch node.Status {
		case models.TaskStatusDone:
		case models.TaskStatusDonePendingMerge:
			if !s.AllowPendingMergeDeps {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// subtasksDone holds a parent back until all of its subtasks are done.
func subtasksDone(t *models.Task) bool {
	for _, sub := range t.Subtasks {
		if sub != nil && sub.Status != models.TaskStatusDone {
			return false
		}
	}
	return true
}
