package graph

import "sort"

// Transition counts the edges between an ordered pair of states.
type Transition struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Count       int    `json:"count"`
}

// Degree is the number of edges entering and leaving a state.
type Degree struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// Stats summarizes the transition structure of a graph.
type Stats struct {
	Nodes       int               `json:"nodes"`
	Edges       int               `json:"edges"`
	SelfLoops   int               `json:"selfLoops"`
	Transitions []Transition      `json:"transitions"`
	Degrees     map[string]Degree `json:"degrees"`
}

// Stats computes transition statistics. Transitions are sorted by
// descending count, then by first appearance.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		Nodes:   len(g.nodes),
		Edges:   len(g.edges),
		Degrees: make(map[string]Degree, len(g.nodes)),
	}
	for _, n := range g.nodes {
		s.Degrees[n.Fingerprint] = Degree{}
	}

	type pair struct{ src, dst string }
	pos := make(map[pair]int)
	for _, e := range g.edges {
		if e.Source == e.Destination {
			s.SelfLoops++
		}
		out := s.Degrees[e.Source]
		out.Out++
		s.Degrees[e.Source] = out
		in := s.Degrees[e.Destination]
		in.In++
		s.Degrees[e.Destination] = in

		p := pair{e.Source, e.Destination}
		if i, ok := pos[p]; ok {
			s.Transitions[i].Count++
			continue
		}
		pos[p] = len(s.Transitions)
		s.Transitions = append(s.Transitions, Transition{Source: e.Source, Destination: e.Destination, Count: 1})
	}
	sort.SliceStable(s.Transitions, func(i, j int) bool {
		return s.Transitions[i].Count > s.Transitions[j].Count
	})
	return s
}

// Snapshot returns a deep copy that can be read while the original keeps
// being mutated by its owner.
func (g *Graph) Snapshot() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := New()
	c.now = g.now
	for _, n := range g.nodes {
		cp := *n
		c.nodes = append(c.nodes, &cp)
		c.index[cp.Fingerprint] = &cp
	}
	c.edges = make([]Edge, len(g.edges))
	for i, e := range g.edges {
		if e.Reverse != nil {
			r := *e.Reverse
			e.Reverse = &r
		}
		c.edges[i] = e
	}
	for k, v := range g.explored {
		c.explored[k] = v
	}
	for k, v := range g.backTo {
		c.backTo[k] = v
	}
	for k, v := range g.outgoing {
		c.outgoing[k] = append([]int(nil), v...)
	}
	return c
}
