package graph

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// genForest draws a random task forest. When acyclic is set, tasks only
// depend on tasks created before them.
func genForest(t *rapid.T, acyclic bool) ([]*models.Task, int) {
	n := rapid.IntRange(0, 15).Draw(t, "n")
	statuses := models.AllTaskStatuses()

	all := make([]*models.Task, 0, n)
	var roots []*models.Task
	for i := 0; i < n; i++ {
		task := &models.Task{
			ID:     fmt.Sprintf("t%d", i),
			Status: rapid.SampledFrom(statuses).Draw(t, "status"),
		}

		deps := rapid.IntRange(0, 3).Draw(t, "deps")
		for d := 0; d < deps; d++ {
			if rapid.IntRange(0, 9).Draw(t, "ghost") == 0 {
				task.DependsOn = append(task.DependsOn, "ghost")
				continue
			}
			limit := n - 1
			if acyclic {
				limit = i - 1
			}
			if limit < 0 {
				continue
			}
			j := rapid.IntRange(0, limit).Draw(t, "dep")
			task.DependsOn = append(task.DependsOn, fmt.Sprintf("t%d", j))
		}

		if len(all) > 0 && rapid.Bool().Draw(t, "nested") {
			parent := all[rapid.IntRange(0, len(all)-1).Draw(t, "parent")]
			parent.Subtasks = append(parent.Subtasks, task)
		} else {
			roots = append(roots, task)
		}
		all = append(all, task)
	}
	return roots, n
}

func TestGraphShapeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks, n := genForest(t, false)
		g := BuildGraph(tasks)

		if len(g.Nodes) != n {
			t.Fatalf("node count = %d, want %d", len(g.Nodes), n)
		}

		total := 0
		for _, c := range g.StatusCounts {
			total += c
		}
		if total != n {
			t.Fatalf("status counts sum to %d, want %d", total, n)
		}

		ids := make(map[string]bool)
		for i, node := range g.Nodes {
			ids[node.ID] = true
			// Pre-order: a parent always precedes its children.
			if node.ParentID != "" {
				found := false
				for _, earlier := range g.Nodes[:i] {
					if earlier.ID == node.ParentID {
						found = true
						if node.Depth != earlier.Depth+1 {
							t.Fatalf("%s depth %d, parent depth %d", node.ID, node.Depth, earlier.Depth)
						}
					}
				}
				if !found {
					t.Fatalf("%s appears before its parent %s", node.ID, node.ParentID)
				}
			}
		}
		for _, e := range g.Edges {
			if !ids[e.From] || !ids[e.To] {
				t.Fatalf("edge %v has a missing endpoint", e)
			}
		}
	})
}

func TestLayerProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks, _ := genForest(t, false)
		g := BuildGraph(tasks)
		layers := ComputeLayers(g)

		incoming := make(map[string][]string)
		for _, e := range g.Edges {
			incoming[e.To] = append(incoming[e.To], e.From)
		}

		for _, node := range g.Nodes {
			layer, ok := layers[node.ID]
			deps := incoming[node.ID]
			if !ok {
				// A node is only absent if some dependency is also absent.
				blocked := false
				for _, d := range deps {
					if _, in := layers[d]; !in {
						blocked = true
					}
				}
				if !blocked {
					t.Fatalf("%s is absent but all its dependencies are layered", node.ID)
				}
				continue
			}
			if len(deps) == 0 && layer != 0 {
				t.Fatalf("%s has no dependencies but layer %d", node.ID, layer)
			}
			max := -1
			for _, d := range deps {
				dl, in := layers[d]
				if !in {
					t.Fatalf("%s is layered but dependency %s is not", node.ID, d)
				}
				if dl > max {
					max = dl
				}
			}
			if len(deps) > 0 && layer != max+1 {
				t.Fatalf("%s layer %d, want %d", node.ID, layer, max+1)
			}
		}
	})
}

func TestAcyclicGraphsAreFullyLayered(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks, n := genForest(t, true)
		g := BuildGraph(tasks)
		if got := len(ComputeLayers(g)); got != n {
			t.Fatalf("layered %d of %d nodes in an acyclic graph", got, n)
		}
	})
}
