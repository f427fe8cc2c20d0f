// Package graph projects the task store into a dependency graph for scheduling and display.
package graph

import (
	"sort"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// TaskNode is the flattened view of one task, nested or not.
type TaskNode struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Status    models.TaskStatus `json:"status"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Phase     string            `json:"phase,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Repo      string            `json:"repo,omitempty"`
	Branch    string            `json:"branch,omitempty"`
	// ParentID is empty for top-level tasks.
	ParentID string `json:"parent_id,omitempty"`
	Depth    int    `json:"depth"`
}

// TaskEdge points from a dependency to the task that waits on it.
type TaskEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TaskGraph is rebuilt from scratch on every reload of the task store.
type TaskGraph struct {
	// Nodes are in pre-order: each parent directly before its subtasks.
	Nodes []TaskNode `json:"nodes"`
	// Edges only connect nodes that exist in Nodes.
	Edges []TaskEdge `json:"edges"`

	Phases []string `json:"phases"`
	Agents []string `json:"agents"`
	Repos  []string `json:"repos"`
	// StatusCounts has an entry for every status, zero included.
	StatusCounts map[models.TaskStatus]int `json:"status_counts"`
	// Unresolved maps a task id to the depends_on ids that matched no task.
	Unresolved map[string][]string `json:"unresolved,omitempty"`

	index map[string]int
}

// BuildGraph flattens tasks (with their subtasks) and links resolved dependencies.
// Dependencies on unknown ids produce no edge.
func BuildGraph(tasks []*models.Task) *TaskGraph {
	g := &TaskGraph{
		StatusCounts: make(map[models.TaskStatus]int),
		index:        make(map[string]int),
	}
	for _, s := range models.AllTaskStatuses() {
		g.StatusCounts[s] = 0
	}

	phases := make(map[string]bool)
	agents := make(map[string]bool)
	repos := make(map[string]bool)

	for _, root := range tasks {
		if root == nil {
			continue
		}
		root.Walk(func(t, parent *models.Task, depth int) bool {
			node := TaskNode{
				ID:        t.ID,
				Title:     t.Title,
				Status:    t.Status,
				DependsOn: append([]string(nil), t.DependsOn...),
				Phase:     t.Phase,
				Agent:     t.Agent,
				Repo:      t.Repo,
				Branch:    t.Branch,
				Depth:     depth,
			}
			if parent != nil {
				node.ParentID = parent.ID
			}
			if _, dup := g.index[t.ID]; !dup {
				g.index[t.ID] = len(g.Nodes)
			}
			g.Nodes = append(g.Nodes, node)
			g.StatusCounts[t.Status]++

			if t.Phase != "" {
				phases[t.Phase] = true
			}
			if t.Agent != "" {
				agents[t.Agent] = true
			}
			if t.Repo != "" {
				repos[t.Repo] = true
			}
			return true
		})
	}

	for _, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			if _, ok := g.index[dep]; !ok {
				if g.Unresolved == nil {
					g.Unresolved = make(map[string][]string)
				}
				g.Unresolved[n.ID] = append(g.Unresolved[n.ID], dep)
				continue
			}
			g.Edges = append(g.Edges, TaskEdge{From: dep, To: n.ID})
		}
	}

	g.Phases = sortedKeys(phases)
	g.Agents = sortedKeys(agents)
	g.Repos = sortedKeys(repos)
	return g
}

// Node returns the node with the given id.
func (g *TaskGraph) Node(id string) (TaskNode, bool) {
	i, ok := g.index[id]
	if !ok {
		return TaskNode{}, false
	}
	return g.Nodes[i], true
}

// Dependencies returns the resolved dependency ids of a node.
func (g *TaskGraph) Dependencies(id string) []string {
	var deps []string
	for _, e := range g.Edges {
		if e.To == id {
			deps = append(deps, e.From)
		}
	}
	return deps
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
