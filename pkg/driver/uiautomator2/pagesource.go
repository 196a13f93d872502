package uiautomator2

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// ParsePageSource parses Android UI hierarchy XML into a view tree.
// Supports both formats:
// - UIAutomator dump: uses class name as element tag (e.g., <android.widget.FrameLayout>)
// - Appium format: uses <node> elements
func ParsePageSource(xmlData string) (*view.Tree, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlData))
	tree := &view.Tree{}

	foundHierarchy := false
	// parents holds the arena index of every open element; -1 is the
	// hierarchy level.
	var parents []int
	for {
		token, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if tree.Len() == 0 {
				return nil, fmt.Errorf("parse page source: %w", err)
			}
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "hierarchy" {
				foundHierarchy = true
				parents = append(parents, -1)
				continue
			}
			parent := -1
			if len(parents) > 0 {
				parent = parents[len(parents)-1]
			}
			idx := tree.Add(parent, parseNode(t))
			parents = append(parents, idx)

		case xml.EndElement:
			if len(parents) > 0 {
				parents = parents[:len(parents)-1]
			}
		}
	}

	if !foundHierarchy {
		return nil, fmt.Errorf("invalid page source: no hierarchy element found")
	}
	return tree, nil
}

func parseNode(t xml.StartElement) view.Node {
	n := view.Node{Class: t.Name.Local}
	for _, attr := range t.Attr {
		v := attr.Value
		switch attr.Name.Local {
		case "text":
			n.Text = v
		case "resource-id":
			n.ResourceID = v
		case "content-desc":
			n.ContentDesc = v
		case "hint":
			n.Hint = v
		case "class":
			n.Class = v
		case "package":
			n.Package = v
		case "bounds":
			n.Bounds = view.ParseBounds(v)
		case "enabled":
			n.Disabled = v == "false"
		case "displayed":
			n.Hidden = v == "false"
		case "clickable":
			n.Clickable = v == "true"
		case "long-clickable":
			n.LongClickable = v == "true"
		case "checkable":
			n.Checkable = v == "true"
		case "checked":
			n.Checked = v == "true"
		case "scrollable":
			n.Scrollable = v == "true"
		case "selected":
			n.Selected = v == "true"
		case "focused":
			n.Focused = v == "true"
		}
	}
	n.Editable = strings.HasSuffix(n.Class, "EditText") || strings.HasSuffix(n.Class, "AutoCompleteTextView")
	return n
}
