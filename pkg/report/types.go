// Package report renders an exploration graph as files:
//   - graph.json / graph.yaml: the full export with run metadata
//   - graph.mmd: a Mermaid flowchart
//   - map.html: a browsable functional map
//
// JSON, YAML and Mermaid outputs are zstd-compressed when the path ends in
// ".zst".
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
)

// Version is the report schema version.
const Version = "1.0.0"

// Format is an output format.
type Format string

// Formats.
const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatMermaid Format = "mermaid"
	FormatHTML    Format = "html"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatMermaid, FormatHTML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "mmd":
		return FormatMermaid, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// FileName returns the default file name of the format.
func (f Format) FileName() string {
	switch f {
	case FormatJSON:
		return "graph.json"
	case FormatYAML:
		return "graph.yaml"
	case FormatMermaid:
		return "graph.mmd"
	case FormatHTML:
		return "map.html"
	default:
		return "graph.out"
	}
}

// Compressible reports whether the format may be written zstd-compressed.
func (f Format) Compressible() bool {
	return f != FormatHTML
}

// RunInfo summarizes one exploration run.
type RunInfo struct {
	ID          string        `json:"id" yaml:"id"`
	Steps       int           `json:"steps" yaml:"steps"`
	States      int           `json:"states" yaml:"states"`
	Interrupted bool          `json:"interrupted" yaml:"interrupted"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// Document is everything a report renders.
type Document struct {
	Version     string             `json:"version" yaml:"version"`
	App         string             `json:"app" yaml:"app"`
	GeneratedAt time.Time          `json:"generatedAt" yaml:"generated_at"`
	Device      *core.PlatformInfo `json:"device,omitempty" yaml:"device,omitempty"`
	Runs        []RunInfo          `json:"runs,omitempty" yaml:"runs,omitempty"`
	Graph       graph.Export       `json:"graph" yaml:"graph"`
	Stats       graph.Stats        `json:"stats" yaml:"stats"`
}

// NewDocument builds a document from a graph.
func NewDocument(app string, g *graph.Graph) Document {
	return Document{
		Version:     Version,
		App:         app,
		GeneratedAt: time.Now().UTC(),
		Graph:       g.Export(),
		Stats:       g.Stats(),
	}
}
