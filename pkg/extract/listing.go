package extract

import (
	"strconv"
	"strings"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// Element tags used in the listing.
const (
	TagButton   = "button"
	TagInput    = "input"
	TagCheckbox = "checkbox"
	TagScroller = "scroller"
	TagText     = "p"
)

// Listing is the compact HTML-like rendering of a screen's elements. The
// local id of an element is its position in Elements.
type Listing struct {
	Elements []view.Element
	Lines    []string
}

// Candidate is an actionable button of a listing.
type Candidate struct {
	ID      int
	Label   string
	Element view.Element
	Action  core.Action
}

// Candidates renders elements and returns the listing. It never calls an
// oracle; the candidate actions are available from Buttons.
func Candidates(elements []view.Element) Listing {
	l := Listing{
		Elements: elements,
		Lines:    make([]string, len(elements)),
	}
	for i, e := range elements {
		l.Lines[i] = renderElement(i, e)
	}
	return l
}

// String joins the rendered lines.
func (l Listing) String() string {
	return strings.Join(l.Lines, "\n")
}

// Len returns the number of listed elements.
func (l Listing) Len() int { return len(l.Elements) }

// Buttons returns the actionable buttons in listing order.
func (l Listing) Buttons() []Candidate {
	var out []Candidate
	for i := range l.Elements {
		if c, ok := l.candidate(i); ok && Tag(c.Element) == TagButton {
			out = append(out, c)
		}
	}
	return out
}

// Actions returns the tap actions of Buttons.
func (l Listing) Actions() []core.Action {
	buttons := l.Buttons()
	out := make([]core.Action, 0, len(buttons))
	for _, b := range buttons {
		out = append(out, b.Action)
	}
	return out
}

// candidate resolves a local id to an actionable element.
func (l Listing) candidate(id int) (Candidate, bool) {
	if id < 0 || id >= len(l.Elements) {
		return Candidate{}, false
	}
	e := l.Elements[id]
	if !e.Actionable() {
		return Candidate{}, false
	}
	return Candidate{ID: id, Label: Label(e), Element: e, Action: core.Tap(e.Signature)}, true
}

// Tag returns the listing tag of an element.
func Tag(e view.Element) string {
	switch {
	case e.Editable:
		return TagInput
	case e.Checkable:
		return TagCheckbox
	case e.Clickable:
		return TagButton
	case e.Scrollable:
		return TagScroller
	default:
		return TagText
	}
}

// Label returns the most human-readable name of an element.
func Label(e view.Element) string {
	switch {
	case e.Text != "":
		return e.Text
	case e.ContentDesc != "":
		return e.ContentDesc
	case e.ResourceID != "":
		return ShortID(e.ResourceID)
	default:
		return e.Class
	}
}

// ShortID strips the package prefix from a resource id.
func ShortID(id string) string {
	if i := strings.Index(id, ":id/"); i >= 0 {
		return id[i+len(":id/"):]
	}
	return id
}

func renderElement(id int, e view.Element) string {
	tag := Tag(e)

	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(tag)
	sb.WriteString(" id=")
	sb.WriteString(strconv.Itoa(id))
	if e.ResourceID != "" {
		writeAttr(&sb, "resource-id", ShortID(e.ResourceID))
	}

	body := e.Text
	if body == "" {
		body = e.ContentDesc
	} else if e.ContentDesc != "" {
		writeAttr(&sb, "alt", e.ContentDesc)
	}
	if tag == TagInput && e.Hint != "" {
		writeAttr(&sb, "placeholder", e.Hint)
	}
	if tag == TagCheckbox {
		sb.WriteString(" checked=")
		sb.WriteString(strconv.FormatBool(e.Checked))
	}
	if !e.Enabled {
		sb.WriteString(" disabled")
	}
	sb.WriteByte('>')
	sb.WriteString(strings.ReplaceAll(body, "\n", "<br>"))
	sb.WriteString("</")
	sb.WriteString(tag)
	sb.WriteByte('>')
	return sb.String()
}

func writeAttr(sb *strings.Builder, name, value string) {
	sb.WriteByte(' ')
	sb.WriteString(name)
	sb.WriteString("='")
	sb.WriteString(strings.ReplaceAll(value, "'", "&#39;"))
	sb.WriteByte('\'')
}
