package graph

import (
	"fmt"

	"github.com/devicelab-dev/app-explorer/pkg/core"
)

// NodeRecord is a node in exported form.
type NodeRecord struct {
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Depth       int    `json:"depth" yaml:"depth"`
}

// EdgeRecord is an edge in exported form.
type EdgeRecord struct {
	Seq         int    `json:"seq" yaml:"seq"`
	Source      string `json:"source" yaml:"source"`
	Action      string `json:"action" yaml:"action"`         // human description
	ActionKey   string `json:"actionKey" yaml:"action_key"`  // canonical, see core.ParseActionKey
	Destination string `json:"destination" yaml:"destination"`
	Reverse     string `json:"reverse,omitempty" yaml:"reverse,omitempty"`
}

// Export is an ordered, serializable copy of a graph.
type Export struct {
	Nodes []NodeRecord `json:"nodes" yaml:"nodes"`
	Edges []EdgeRecord `json:"edges" yaml:"edges"`
}

// Export returns nodes in discovery order and edges in append order. It
// is safe to call while another goroutine mutates the graph.
func (g *Graph) Export() Export {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := Export{
		Nodes: make([]NodeRecord, 0, len(g.nodes)),
		Edges: make([]EdgeRecord, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		out.Nodes = append(out.Nodes, NodeRecord{
			Fingerprint: n.Fingerprint,
			Label:       n.Label,
			Description: n.Description,
			Depth:       n.Depth,
		})
	}
	for _, e := range g.edges {
		rec := EdgeRecord{
			Seq:         e.Seq,
			Source:      e.Source,
			Action:      e.Action.String(),
			ActionKey:   e.Action.CanonicalKey(),
			Destination: e.Destination,
		}
		if e.Reverse != nil {
			rec.Reverse = e.Reverse.CanonicalKey()
		}
		out.Edges = append(out.Edges, rec)
	}
	return out
}

// Merge adds the nodes and edges of ex to g. Nodes are matched by
// fingerprint; labels from ex fill in missing ones. Edges are appended.
func (g *Graph) Merge(ex Export) error {
	for _, n := range ex.Nodes {
		g.AddNode(n.Fingerprint, n.Label)
		g.SetLabel(n.Fingerprint, n.Label, n.Description)
		if existing, ok := g.Node(n.Fingerprint); ok && existing.Depth == 0 {
			g.SetDepth(n.Fingerprint, n.Depth)
		}
	}
	for _, e := range ex.Edges {
		action, err := core.ParseActionKey(e.ActionKey)
		if err != nil {
			return fmt.Errorf("edge %d: %w", e.Seq, err)
		}
		var reverse *core.Action
		if e.Reverse != "" {
			r, err := core.ParseActionKey(e.Reverse)
			if err != nil {
				return fmt.Errorf("edge %d reverse: %w", e.Seq, err)
			}
			reverse = &r
		}
		g.AddEdgeWithReverse(e.Source, action, e.Destination, reverse)
	}
	return nil
}

// FromExport builds a graph from an export.
func FromExport(ex Export) (*Graph, error) {
	g := New()
	if err := g.Merge(ex); err != nil {
		return nil, err
	}
	return g, nil
}
