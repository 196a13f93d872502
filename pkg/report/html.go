package report

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"time"
)

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title       string
	GeneratedAt string
	Doc         Document
	States      []StateHTMLData
	Transitions []TransitionHTMLData
	Mermaid     string
	TotalSteps  int
	JSONData    template.JS // JSON data for JavaScript
}

// StateHTMLData is one screen state formatted for HTML.
type StateHTMLData struct {
	Index       int
	Fingerprint string
	Title       string
	Description string
	Depth       int
	In          int
	Out         int
	Actions     []ActionHTMLData
}

// ActionHTMLData is one outgoing action of a state.
type ActionHTMLData struct {
	Action    string
	Target    string
	TargetIdx int
	Count     int
	SelfLoop  bool
}

// TransitionHTMLData is a source/destination pair with its edge count.
type TransitionHTMLData struct {
	Source      string
	Destination string
	Count       int
}

// RenderHTML renders the functional map of doc.
func RenderHTML(doc Document) (string, error) {
	data, err := buildHTMLData(doc)
	if err != nil {
		return "", err
	}
	return renderHTML(data)
}

func buildHTMLData(doc Document) (HTMLData, error) {
	idx := make(map[string]int, len(doc.Graph.Nodes))
	titles := make(map[string]string, len(doc.Graph.Nodes))
	states := make([]StateHTMLData, len(doc.Graph.Nodes))
	for i, n := range doc.Graph.Nodes {
		idx[n.Fingerprint] = i
		titles[n.Fingerprint] = nodeTitle(n)
		deg := doc.Stats.Degrees[n.Fingerprint]
		states[i] = StateHTMLData{
			Index:       i,
			Fingerprint: n.Fingerprint,
			Title:       nodeTitle(n),
			Description: n.Description,
			Depth:       n.Depth,
			In:          deg.In,
			Out:         deg.Out,
		}
	}

	type key struct{ action, dst string }
	seen := make(map[string]map[key]int)
	for _, e := range doc.Graph.Edges {
		i, ok := idx[e.Source]
		if !ok {
			continue
		}
		if seen[e.Source] == nil {
			seen[e.Source] = make(map[key]int)
		}
		k := key{e.Action, e.Destination}
		if j, ok := seen[e.Source][k]; ok {
			states[i].Actions[j].Count++
			continue
		}
		seen[e.Source][k] = len(states[i].Actions)
		target, targetIdx := titles[e.Destination], -1
		if j, ok := idx[e.Destination]; ok {
			targetIdx = j
		}
		states[i].Actions = append(states[i].Actions, ActionHTMLData{
			Action:    e.Action,
			Target:    target,
			TargetIdx: targetIdx,
			Count:     1,
			SelfLoop:  e.Source == e.Destination,
		})
	}
	sort.SliceStable(states, func(a, b int) bool { return states[a].Depth < states[b].Depth })

	transitions := make([]TransitionHTMLData, 0, len(doc.Stats.Transitions))
	for _, t := range doc.Stats.Transitions {
		transitions = append(transitions, TransitionHTMLData{
			Source:      titles[t.Source],
			Destination: titles[t.Destination],
			Count:       t.Count,
		})
	}

	steps := 0
	for _, r := range doc.Runs {
		steps += r.Steps
	}

	jsonBytes, err := json.Marshal(map[string]interface{}{
		"graph": doc.Graph,
		"stats": doc.Stats,
	})
	if err != nil {
		return HTMLData{}, fmt.Errorf("marshal graph: %w", err)
	}

	generated := doc.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	title := "Functional Map"
	if doc.App != "" {
		title = doc.App + " Functional Map"
	}

	return HTMLData{
		Title:       title,
		GeneratedAt: generated.Format("2006-01-02 15:04:05"),
		Doc:         doc,
		States:      states,
		Transitions: transitions,
		Mermaid:     Mermaid(doc.Graph),
		TotalSteps:  steps,
		JSONData:    template.JS(jsonBytes),
	}, nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("map").Funcs(template.FuncMap{
		"duration": formatDuration,
	}).Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f9fafb;
            --bg-tertiary: #f3f4f6;
            --text-primary: #000000;
            --text-secondary: rgb(75, 85, 99);
            --text-muted: rgb(107, 114, 128);
            --border-color: #e5e7eb;
            --loop: #eab308;
            --loop-bg: rgba(234, 179, 8, 0.1);
            --accent: #06b6d4;
        }

        * {
            box-sizing: border-box;
            margin: 0;
            padding: 0;
        }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.5;
        }

        /* Header */
        .header {
            background: var(--bg-secondary);
            border-bottom: 1px solid var(--border-color);
            padding: 16px 24px;
        }

        .header-title-main {
            font-size: 16px;
            font-weight: 500;
        }

        .header-title-sub {
            font-size: 12px;
            color: var(--text-secondary);
        }

        .platform-badge {
            display: inline-block;
            margin-top: 8px;
            padding: 4px 12px;
            background: var(--accent);
            color: white;
            border-radius: 6px;
            font-size: 13px;
            font-weight: 500;
        }

        /* Dashboard */
        .dashboard {
            display: flex;
            gap: 12px;
            padding: 16px 24px;
        }

        .stat-card {
            flex: 1;
            padding: 12px 16px;
            border: 1px solid var(--border-color);
            border-radius: 8px;
            background: var(--bg-secondary);
        }

        .stat-value {
            font-size: 22px;
            font-weight: 600;
        }

        .stat-label {
            font-size: 12px;
            color: var(--text-muted);
        }

        main {
            padding: 0 24px 24px;
        }

        h2 {
            font-size: 14px;
            font-weight: 600;
            margin: 20px 0 8px;
        }

        /* States */
        .state {
            border: 1px solid var(--border-color);
            border-radius: 8px;
            margin-bottom: 8px;
        }

        .state:target {
            border-color: var(--accent);
        }

        .state-header {
            display: flex;
            align-items: center;
            justify-content: space-between;
            padding: 10px 14px;
            background: var(--bg-tertiary);
            cursor: pointer;
        }

        .state-title {
            font-weight: 500;
        }

        .state-meta {
            font-size: 12px;
            color: var(--text-muted);
        }

        .state-body {
            padding: 10px 14px;
            display: none;
        }

        .state.open .state-body {
            display: block;
        }

        .state-desc {
            font-size: 13px;
            color: var(--text-secondary);
            margin-bottom: 8px;
        }

        .fp {
            font-family: 'SF Mono', Monaco, monospace;
            font-size: 11px;
            color: var(--text-muted);
        }

        table {
            width: 100%;
            border-collapse: collapse;
            font-size: 13px;
        }

        th, td {
            text-align: left;
            padding: 6px 8px;
            border-bottom: 1px solid var(--border-color);
        }

        th {
            color: var(--text-muted);
            font-weight: 500;
        }

        tr.loop td {
            background: var(--loop-bg);
        }

        a {
            color: var(--accent);
            text-decoration: none;
        }

        pre.mermaid {
            background: var(--bg-secondary);
            border: 1px solid var(--border-color);
            border-radius: 8px;
            padding: 12px;
            overflow-x: auto;
            font-size: 12px;
        }

        .search {
            width: 100%;
            padding: 8px 12px;
            border: 1px solid var(--border-color);
            border-radius: 6px;
            margin-bottom: 8px;
        }
    </style>
</head>
<body>
    <header class="header">
        <div class="header-title-main">{{.Title}}</div>
        <div class="header-title-sub">Generated {{.GeneratedAt}}</div>
        {{with .Doc.Device}}<div class="platform-badge">{{.Platform}} {{.OSVersion}} &middot; {{.DeviceName}}</div>{{end}}
    </header>

    <section class="dashboard">
        <div class="stat-card"><div class="stat-value">{{.Doc.Stats.Nodes}}</div><div class="stat-label">States</div></div>
        <div class="stat-card"><div class="stat-value">{{.Doc.Stats.Edges}}</div><div class="stat-label">Transitions</div></div>
        <div class="stat-card"><div class="stat-value">{{.Doc.Stats.SelfLoops}}</div><div class="stat-label">Self loops</div></div>
        <div class="stat-card"><div class="stat-value">{{len .Doc.Runs}}</div><div class="stat-label">Runs ({{.TotalSteps}} steps)</div></div>
    </section>

    <main>
        {{if .Doc.Runs}}
        <h2>Runs</h2>
        <table>
            <tr><th>Run</th><th>Steps</th><th>States</th><th>Duration</th><th>Outcome</th></tr>
            {{range .Doc.Runs}}
            <tr>
                <td class="fp">{{.ID}}</td>
                <td>{{.Steps}}</td>
                <td>{{.States}}</td>
                <td>{{duration .Duration}}</td>
                <td>{{if .Interrupted}}interrupted{{with .Error}} <span class="fp">{{.}}</span>{{end}}{{else if .Error}}{{.Error}}{{else}}completed{{end}}</td>
            </tr>
            {{end}}
        </table>
        {{end}}

        <h2>States</h2>
        <input class="search" id="search" placeholder="Filter states">
        {{range .States}}
        <div class="state" id="state-{{.Index}}" data-title="{{.Title}}">
            <div class="state-header" onclick="this.parentElement.classList.toggle('open')">
                <span class="state-title">{{.Title}}</span>
                <span class="state-meta">depth {{.Depth}} &middot; in {{.In}} &middot; out {{.Out}}</span>
            </div>
            <div class="state-body">
                {{if .Description}}<div class="state-desc">{{.Description}}</div>{{end}}
                <div class="fp">{{.Fingerprint}}</div>
                {{if .Actions}}
                <table>
                    <tr><th>Action</th><th>Leads to</th><th>Times</th></tr>
                    {{range .Actions}}
                    <tr{{if .SelfLoop}} class="loop"{{end}}>
                        <td>{{.Action}}</td>
                        <td>{{if ge .TargetIdx 0}}<a href="#state-{{.TargetIdx}}">{{.Target}}</a>{{else}}{{.Target}}{{end}}</td>
                        <td>{{.Count}}</td>
                    </tr>
                    {{end}}
                </table>
                {{end}}
            </div>
        </div>
        {{end}}

        {{if .Transitions}}
        <h2>Transitions</h2>
        <table>
            <tr><th>From</th><th>To</th><th>Edges</th></tr>
            {{range .Transitions}}
            <tr><td>{{.Source}}</td><td>{{.Destination}}</td><td>{{.Count}}</td></tr>
            {{end}}
        </table>
        {{end}}

        <h2>Flowchart</h2>
        <pre class="mermaid">{{.Mermaid}}</pre>
    </main>

    <script>
        const graphData = {{.JSONData}};
        document.getElementById('search').addEventListener('input', function (e) {
            const q = e.target.value.toLowerCase();
            document.querySelectorAll('.state').forEach(function (el) {
                el.style.display = el.dataset.title.toLowerCase().includes(q) ? '' : 'none';
            });
        });
        if (location.hash) {
            const el = document.querySelector(location.hash);
            if (el) el.classList.add('open');
        }
    </script>
</body>
</html>
`
