package graph

import (
	"strings"

	"github.com/devicelab-dev/app-explorer/pkg/core"
)

// Step is one hop of a navigation path.
type Step struct {
	From   string
	Action core.Action
	To     string
}

// ShortestPath returns the fewest-hop action sequence leading from src to
// dst over recorded edges, or false when dst is unreachable. Ties are
// broken by edge insertion order, so the result is deterministic.
func (g *Graph) ShortestPath(src, dst string) ([]Step, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.index[src]; !ok {
		return nil, false
	}
	if src == dst {
		return []Step{}, true
	}

	prev := map[string]int{src: -1} // fingerprint -> edge index used to reach it
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ei := range g.outgoing[cur] {
			e := g.edges[ei]
			if _, seen := prev[e.Destination]; seen {
				continue
			}
			prev[e.Destination] = ei
			if e.Destination == dst {
				return g.unwind(prev, dst), true
			}
			queue = append(queue, e.Destination)
		}
	}
	return nil, false
}

func (g *Graph) unwind(prev map[string]int, dst string) []Step {
	var path []Step
	for cur := dst; prev[cur] >= 0; {
		e := g.edges[prev[cur]]
		path = append(path, Step{From: e.Source, Action: e.Action, To: e.Destination})
		cur = e.Source
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// FindByLabel returns the fingerprints whose label contains query,
// case-insensitively, in discovery order.
func (g *Graph) FindByLabel(query string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	q := strings.ToLower(query)
	var out []string
	for _, n := range g.nodes {
		if q != "" && strings.Contains(strings.ToLower(n.Label), q) {
			out = append(out, n.Fingerprint)
		}
	}
	return out
}
