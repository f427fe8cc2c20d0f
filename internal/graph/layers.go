package graph

import "sort"

// ComputeLayers assigns each node the length of its longest dependency chain.
// Nodes with no incoming edges are layer 0; every other node sits one layer
// above its deepest dependency. Nodes on or behind a cycle never reach zero
// in-degree and are left out of the result.
func ComputeLayers(g *TaskGraph) map[string]int {
	layers := make(map[string]int)
	if g == nil {
		return layers
	}

	inDegree := make(map[string]int, len(g.Nodes))
	dependents := make(map[string][]string)
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	var queue []string
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			if _, seen := layers[n.ID]; seen {
				continue
			}
			layers[n.ID] = 0
			queue = append(queue, n.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range dependents[id] {
			if layers[id]+1 > layers[next] {
				layers[next] = layers[id] + 1
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Entries written for nodes that never drained belong to a cycle.
	for id, deg := range inDegree {
		if deg > 0 {
			delete(layers, id)
		}
	}
	return layers
}

// Unlayered returns the ids ComputeLayers left out, in node order.
func Unlayered(g *TaskGraph, layers map[string]int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, n := range g.Nodes {
		if _, ok := layers[n.ID]; !ok && !seen[n.ID] {
			out = append(out, n.ID)
			seen[n.ID] = true
		}
	}
	return out
}

// ByLayer groups node ids by layer, sorted within each layer.
func ByLayer(layers map[string]int) [][]string {
	max := -1
	for _, l := range layers {
		if l > max {
			max = l
		}
	}
	out := make([][]string, max+1)
	for id, l := range layers {
		out[l] = append(out[l], id)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}
