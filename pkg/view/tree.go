// Package view models a captured screen as an arena of nodes referenced by
// index, and derives elements, signatures and fingerprints from it.
package view

import "strings"

// Node is one view in a captured hierarchy.
type Node struct {
	Class       string
	ResourceID  string
	Text        string
	ContentDesc string
	Hint        string
	Package     string
	Bounds      Bounds

	Clickable     bool
	LongClickable bool
	Checkable     bool
	Checked       bool
	Editable      bool
	Scrollable    bool
	Selected      bool
	Focused       bool
	Disabled      bool // zero value keeps hand-built trees enabled
	Hidden        bool // zero value keeps hand-built trees visible

	Parent   int // -1 for roots
	Children []int
	Depth    int
}

// Tree is a captured screen. Nodes are stored in insertion order and
// reference each other by index, so the tree has no pointer cycles and can
// be copied cheaply.
type Tree struct {
	Activity string // foreground activity, when the driver knows it
	Nodes    []Node
	Roots    []int
}

// Add appends n as a child of parent (-1 for a root) and returns its index.
func (t *Tree) Add(parent int, n Node) int {
	idx := len(t.Nodes)
	n.Parent = parent
	n.Children = nil
	if parent >= 0 {
		n.Depth = t.Nodes[parent].Depth + 1
	} else {
		n.Depth = 0
	}
	t.Nodes = append(t.Nodes, n)
	if parent >= 0 {
		t.Nodes[parent].Children = append(t.Nodes[parent].Children, idx)
	} else {
		t.Roots = append(t.Roots, idx)
	}
	return idx
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Nodes)
}

// Walk visits nodes in pre-order starting at root (-1 walks every root).
// Returning false from fn skips the node's subtree.
func (t *Tree) Walk(root int, fn func(idx int, n *Node) bool) {
	if t == nil {
		return
	}
	var stack []int
	if root < 0 {
		for i := len(t.Roots) - 1; i >= 0; i-- {
			stack = append(stack, t.Roots[i])
		}
	} else {
		stack = append(stack, root)
	}

	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.Nodes[idx]
		if !fn(idx, n) {
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// FindByResourceID returns the first node (pre-order) with the given
// resource id. A short id ("menu") also matches "pkg:id/menu".
func (t *Tree) FindByResourceID(id string) (int, bool) {
	found := -1
	t.Walk(-1, func(idx int, n *Node) bool {
		if found >= 0 {
			return false
		}
		if n.ResourceID == id || (id != "" && strings.HasSuffix(n.ResourceID, ":id/"+id)) {
			found = idx
			return false
		}
		return true
	})
	return found, found >= 0
}

// Contains reports whether idx lies in the subtree rooted at ancestor.
func (t *Tree) Contains(ancestor, idx int) bool {
	for idx >= 0 {
		if idx == ancestor {
			return true
		}
		idx = t.Nodes[idx].Parent
	}
	return false
}

// subtreeText collects non-empty text and content descriptions below idx.
func (t *Tree) subtreeText(idx int, limit int) []string {
	var out []string
	t.Walk(idx, func(i int, n *Node) bool {
		if i == idx {
			return true
		}
		if len(out) >= limit {
			return false
		}
		switch {
		case n.Text != "":
			out = append(out, n.Text)
		case n.ContentDesc != "":
			out = append(out, n.ContentDesc)
		}
		return true
	})
	return out
}
