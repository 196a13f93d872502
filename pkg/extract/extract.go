// Package extract turns a captured screen into a functional summary and an
// ordered list of actions likely to lead to new functionality, with the
// help of a semantic oracle.
package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// Oracle answers "what does this screen do and which elements lead
// somewhere new" for a rendered listing.
type Oracle interface {
	Summarize(ctx context.Context, rendered string) (Reply, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, rendered string) (Reply, error)

// Summarize calls f.
func (f OracleFunc) Summarize(ctx context.Context, rendered string) (Reply, error) {
	return f(ctx, rendered)
}

// Result is the outcome of extracting one screen.
type Result struct {
	Summary     string
	Description string
	Actions     []core.Action
	Chosen      []Candidate
}

// Empty reports whether the result carries nothing to explore.
func (r Result) Empty() bool {
	return r.Summary == "" && len(r.Actions) == 0
}

const (
	defaultDescriptiveLimit = 50
	maxLineBreaks           = 3
)

var longNumber = regexp.MustCompile(`[0-9]{6,}`)

// DefaultPrimaryFlow lists labels of controls that belong to the main flow
// of a screen rather than leading to a sub-function.
var DefaultPrimaryFlow = []string{"search", "submit", "send", "ok", "confirm", "cancel"}

// Extractor runs action extraction against an oracle.
type Extractor struct {
	oracle           Oracle
	strict           bool
	primaryFlow      map[string]bool
	descriptiveLimit int
	logger           *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStrictFilters toggles re-validation of oracle choices against the
// exclusion rules. Enabled by default.
func WithStrictFilters(on bool) Option {
	return func(x *Extractor) { x.strict = on }
}

// WithPrimaryFlow replaces the labels treated as main-flow controls.
func WithPrimaryFlow(labels []string) Option {
	return func(x *Extractor) {
		x.primaryFlow = make(map[string]bool, len(labels))
		for _, l := range labels {
			x.primaryFlow[strings.ToLower(strings.TrimSpace(l))] = true
		}
	}
}

// WithDescriptiveLimit sets the label length above which an element is
// considered descriptive text.
func WithDescriptiveLimit(n int) Option {
	return func(x *Extractor) {
		if n > 0 {
			x.descriptiveLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(x *Extractor) {
		if l != nil {
			x.logger = l
		}
	}
}

// New creates an Extractor.
func New(oracle Oracle, opts ...Option) *Extractor {
	x := &Extractor{
		oracle:           oracle,
		strict:           true,
		descriptiveLimit: defaultDescriptiveLimit,
		logger:           zap.NewNop(),
	}
	WithPrimaryFlow(DefaultPrimaryFlow)(x)
	for _, opt := range opts {
		opt(x)
	}
	x.logger = x.logger.Named("extract")
	return x
}

// Extract summarizes a screen. When elements is nil they are flattened
// from tree. Oracle failures and malformed replies yield an empty result,
// never an error.
func (x *Extractor) Extract(ctx context.Context, tree *view.Tree, elements []view.Element) Result {
	if elements == nil {
		elements = tree.Elements(-1)
	}
	listing := Candidates(elements)
	if listing.Len() == 0 {
		return Result{}
	}

	reply, err := x.oracle.Summarize(ctx, listing.String())
	if err != nil {
		x.logger.Warn("Oracle reply unusable, treating screen as a leaf", zap.Error(err))
		return Result{}
	}

	res := Result{Summary: reply.Summary, Description: reply.Description}
	seen := make(map[int]bool, len(reply.CandidateIDs))
	for _, id := range reply.CandidateIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		c, ok := listing.candidate(id)
		if !ok {
			x.logger.Debug("Dropping unknown or non-actionable id", zap.Int("id", id))
			continue
		}
		if x.strict {
			if reason := x.excluded(c); reason != "" {
				x.logger.Debug("Dropping excluded element", zap.Int("id", id), zap.String("reason", reason))
				continue
			}
		}
		res.Chosen = append(res.Chosen, c)
		res.Actions = append(res.Actions, c.Action)
	}

	x.logger.Debug("Extracted screen",
		zap.String("summary", res.Summary),
		zap.Int("listed", listing.Len()),
		zap.Int("proposed", len(reply.CandidateIDs)),
		zap.Int("kept", len(res.Actions)),
	)
	return res
}

// excluded returns the rule a candidate violates, or "".
func (x *Extractor) excluded(c Candidate) string {
	e := c.Element
	if Tag(e) != TagButton {
		return "not a button"
	}
	if strings.Count(e.Text, "\n") >= maxLineBreaks {
		return "too many line breaks"
	}
	if longNumber.MatchString(e.Text) || longNumber.MatchString(e.ContentDesc) {
		return "long number"
	}
	if x.primaryFlow[strings.ToLower(strings.TrimSpace(c.Label))] {
		return "primary flow control"
	}
	if utf8.RuneCountInString(c.Label) > x.descriptiveLimit {
		return "descriptive text"
	}
	return ""
}
