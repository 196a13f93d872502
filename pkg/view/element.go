package view

import (
	"sort"
	"strings"
)

// maxMergedTexts caps how many descendant labels a clickable container
// absorbs into its own text.
const maxMergedTexts = 8

// Element is a flattened, self-contained view of a node that is either
// interactive or carries visible text. Elements outlive the capture they
// came from, which lets the scroll revealer union several passes.
type Element struct {
	Index       int    // node index in the originating tree
	Signature   string // stable identity across captures
	Class       string
	ResourceID  string
	Text        string // own text, or merged descendant labels separated by "\n"
	ContentDesc string
	Hint        string
	Bounds      Bounds

	Clickable  bool
	Checkable  bool
	Checked    bool
	Editable   bool
	Scrollable bool
	Enabled    bool
}

// Actionable reports whether tapping the element is meaningful.
func (e Element) Actionable() bool {
	return e.Enabled && e.Clickable
}

// Signature builds the identity string of an element: class, resource id,
// text and content description joined by "|". Bounds are deliberately
// left out so an element keeps its signature when scrolled.
func Signature(class, resourceID, text, contentDesc string) string {
	clean := func(s string) string {
		return strings.ReplaceAll(s, "|", "/")
	}
	return clean(class) + "|" + clean(resourceID) + "|" + clean(text) + "|" + clean(contentDesc)
}

// Elements flattens the subtree at root (-1 for the whole tree) into
// elements in pre-order. A clickable node without its own text absorbs the
// labels of its descendants; those text-only descendants are then not
// listed on their own.
func (t *Tree) Elements(root int) []Element {
	var out []Element
	if t == nil {
		return out
	}

	merged := make(map[int]bool)
	t.Walk(root, func(idx int, n *Node) bool {
		if n.Hidden {
			return false
		}
		interactive := n.Clickable || n.LongClickable || n.Checkable || n.Editable || n.Scrollable
		if !interactive {
			if (n.Text != "" || n.ContentDesc != "") && !t.mergedInto(idx, merged) {
				out = append(out, t.element(idx, n.Text))
			}
			return true
		}

		text := n.Text
		if text == "" && (n.Clickable || n.LongClickable || n.Checkable) {
			text = strings.Join(t.subtreeText(idx, maxMergedTexts), "\n")
			merged[idx] = true
		}
		out = append(out, t.element(idx, text))
		return true
	})
	return out
}

// mergedInto reports whether an ancestor of idx absorbed its text.
func (t *Tree) mergedInto(idx int, merged map[int]bool) bool {
	for p := t.Nodes[idx].Parent; p >= 0; p = t.Nodes[p].Parent {
		if merged[p] {
			return true
		}
	}
	return false
}

// Scrollables returns the scrollable elements of the tree, largest first.
func (t *Tree) Scrollables() []Element {
	var out []Element
	for _, e := range t.Elements(-1) {
		if e.Scrollable && e.Enabled {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Bounds.Area() > out[j].Bounds.Area()
	})
	return out
}

// FindBySignature returns the first element with the given signature.
func (t *Tree) FindBySignature(sig string) (Element, bool) {
	for _, e := range t.Elements(-1) {
		if e.Signature == sig {
			return e, true
		}
	}
	return Element{}, false
}

func (t *Tree) element(idx int, text string) Element {
	n := &t.Nodes[idx]
	return Element{
		Index:       idx,
		Signature:   Signature(n.Class, n.ResourceID, text, n.ContentDesc),
		Class:       n.Class,
		ResourceID:  n.ResourceID,
		Text:        text,
		ContentDesc: n.ContentDesc,
		Hint:        n.Hint,
		Bounds:      n.Bounds,
		Clickable:   n.Clickable || n.LongClickable,
		Checkable:   n.Checkable,
		Checked:     n.Checked,
		Editable:    n.Editable,
		Scrollable:  n.Scrollable,
		Enabled:     !n.Disabled,
	}
}
