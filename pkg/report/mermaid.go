package report

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/app-explorer/pkg/graph"
)

// Mermaid renders ex as a Mermaid flowchart. Nodes are numbered in export
// order; repeated edges with the same action between the same states are
// drawn once with a count.
func Mermaid(ex graph.Export) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	ids := make(map[string]string, len(ex.Nodes))
	for i, n := range ex.Nodes {
		id := fmt.Sprintf("s%d", i)
		ids[n.Fingerprint] = id
		fmt.Fprintf(&b, "    %s[\"%s\"]\n", id, mermaidText(nodeTitle(n)))
	}

	type key struct{ src, action, dst string }
	var order []key
	counts := make(map[key]int)
	for _, e := range ex.Edges {
		k := key{e.Source, e.Action, e.Destination}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}

	for _, k := range order {
		src, ok1 := ids[k.src]
		dst, ok2 := ids[k.dst]
		if !ok1 || !ok2 {
			continue
		}
		label := k.action
		if c := counts[k]; c > 1 {
			label = fmt.Sprintf("%s x%d", label, c)
		}
		fmt.Fprintf(&b, "    %s -->|\"%s\"| %s\n", src, mermaidText(label), dst)
	}
	return b.String()
}

func nodeTitle(n graph.NodeRecord) string {
	if n.Label != "" {
		return n.Label
	}
	fp := n.Fingerprint
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fp
}

// mermaidText escapes text for a quoted Mermaid label.
func mermaidText(s string) string {
	r := strings.NewReplacer(
		`"`, "#quot;",
		"\n", " ",
		"|", "#124;",
		"<", "#lt;",
		">", "#gt;",
	)
	return r.Replace(s)
}
