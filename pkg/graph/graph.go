// Package graph holds the state graph built during exploration: screen
// fingerprints as nodes and executed actions as (multi-)edges.
package graph

import (
	"sync"
	"time"

	"github.com/devicelab-dev/app-explorer/pkg/core"
)

// Node is a discovered screen.
type Node struct {
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label,omitempty"`
	Description string    `json:"description,omitempty"` // sub-functions worth exploring
	Depth       int       `json:"depth"`
	FirstSeen   time.Time `json:"firstSeen"`
}

// Edge is one executed action. Repeats are kept as separate edges.
type Edge struct {
	Seq         int          `json:"seq"`
	Source      string       `json:"source"`
	Action      core.Action  `json:"action"`
	Destination string       `json:"destination"`
	Reverse     *core.Action `json:"reverse,omitempty"`
}

type exploredKey struct {
	fp     string
	action core.Action
}

// Graph is a directed multigraph of screens. Mutations are expected from a
// single owner; the lock makes Export, Stats and Snapshot safe for
// concurrent readers.
type Graph struct {
	mu sync.RWMutex

	nodes []*Node
	index map[string]*Node
	edges []Edge

	explored map[exploredKey]bool
	backTo   map[string]string // fingerprint -> where back should land
	outgoing map[string][]int  // fingerprint -> edge indexes
	now      func() time.Time
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index:    make(map[string]*Node),
		explored: make(map[exploredKey]bool),
		backTo:   make(map[string]string),
		outgoing: make(map[string][]int),
		now:      time.Now,
	}
}

// AddNode returns the node for fp, creating it with label if absent.
func (g *Graph) AddNode(fp, label string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(fp, label)
}

func (g *Graph) addNodeLocked(fp, label string) *Node {
	if n, ok := g.index[fp]; ok {
		return n
	}
	n := &Node{Fingerprint: fp, Label: label, FirstSeen: g.now()}
	g.nodes = append(g.nodes, n)
	g.index[fp] = n
	return n
}

// Node returns the node for fp.
func (g *Graph) Node(fp string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.index[fp]
	return n, ok
}

// SetLabel overwrites the label and description of an existing node.
// Empty values leave the current ones untouched.
func (g *Graph) SetLabel(fp, label, description string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.index[fp]
	if !ok {
		return
	}
	if label != "" {
		n.Label = label
	}
	if description != "" {
		n.Description = description
	}
}

// SetDepth records the discovery depth of a node.
func (g *Graph) SetDepth(fp string, depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.index[fp]; ok {
		n.Depth = depth
	}
}

// AddEdge appends an edge. It never deduplicates.
func (g *Graph) AddEdge(src string, action core.Action, dst string) {
	g.AddEdgeWithReverse(src, action, dst, nil)
}

// AddEdgeWithReverse appends an edge with the action that undoes it. When
// the reverse is a back navigation, dst remembers src as its backtrack
// target.
func (g *Graph) AddEdgeWithReverse(src string, action core.Action, dst string, reverse *core.Action) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.addNodeLocked(src, "")
	g.addNodeLocked(dst, "")

	e := Edge{
		Seq:         len(g.edges) + 1,
		Source:      src,
		Action:      action,
		Destination: dst,
	}
	if reverse != nil {
		r := *reverse
		e.Reverse = &r
		if r.IsBack() && src != dst {
			g.backTo[dst] = src
		}
	}
	g.outgoing[src] = append(g.outgoing[src], len(g.edges))
	g.edges = append(g.edges, e)
	g.explored[exploredKey{fp: src, action: action}] = true
}

// HasExploredEdge reports whether an edge for action has been recorded
// from fp.
func (g *Graph) HasExploredEdge(fp string, action core.Action) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.explored[exploredKey{fp: fp, action: action}]
}

// ExpectedBacktrackTarget returns where a back navigation from fp should
// land, based on the most recent edge into fp that recorded back as its
// reverse.
func (g *Graph) ExpectedBacktrackTarget(fp string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dst, ok := g.backTo[fp]
	return dst, ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Outgoing returns the edges leaving fp in insertion order.
func (g *Graph) Outgoing(fp string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx := g.outgoing[fp]
	out := make([]Edge, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.edges[i])
	}
	return out
}
