package explorer

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/extract"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// MenuLabel labels menu states in the graph.
const MenuLabel = "Menu"

// EntryFilter selects menu entries by glob patterns matched against the
// lower-cased entry label and its short resource id.
type EntryFilter struct {
	include []string
	exclude []string
}

// NewEntryFilter validates the patterns. An empty include list selects
// every entry.
func NewEntryFilter(include, exclude []string) (*EntryFilter, error) {
	f := &EntryFilter{}
	for _, set := range []struct {
		src []string
		dst *[]string
	}{{include, &f.include}, {exclude, &f.exclude}} {
		for _, p := range set.src {
			p = strings.ToLower(strings.TrimSpace(p))
			if !doublestar.ValidatePattern(p) {
				return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("invalid menu entry pattern %q", p))
			}
			*set.dst = append(*set.dst, p)
		}
	}
	return f, nil
}

// Match reports whether c is selected.
func (f *EntryFilter) Match(c extract.Candidate) bool {
	names := []string{strings.ToLower(c.Label)}
	if id := extract.ShortID(c.Element.ResourceID); id != "" {
		names = append(names, strings.ToLower(id))
	}
	matchAny := func(patterns []string) bool {
		for _, p := range patterns {
			for _, n := range names {
				if ok, _ := doublestar.Match(p, n); ok {
					return true
				}
			}
		}
		return false
	}
	if matchAny(f.exclude) {
		return false
	}
	return len(f.include) == 0 || matchAny(f.include)
}

// menuStep selects the next top-level entry, opens the menu surface, or
// searches for it.
func (o *Orchestrator) menuStep(ctx context.Context, tree *view.Tree, fp string) Result {
	o.phase = core.PhaseMenuDiscovery

	if o.cfg.MenuControl == "" {
		if o.singleRootDone {
			return o.done(nil)
		}
		o.singleRootDone = true
		o.startPage()
		return o.pageStep(ctx, tree, fp)
	}

	if o.cfg.MenuContainer != "" {
		if idx, ok := tree.FindByResourceID(o.cfg.MenuContainer); ok {
			return o.enterMenuEntry(ctx, tree, fp, idx)
		}
	}

	o.menuSearch++
	if o.menuSearch > o.cfg.MenuSearchLimit {
		o.logger.Warn("Menu not found", zap.Int("attempts", o.menuSearch-1))
		return o.done(nil)
	}
	if idx, ok := tree.FindByResourceID(o.cfg.MenuControl); ok {
		control := view.Signature(tree.Nodes[idx].Class, tree.Nodes[idx].ResourceID, tree.Nodes[idx].Text, tree.Nodes[idx].ContentDesc)
		for _, e := range tree.Elements(idx) {
			if e.Index == idx {
				control = e.Signature
				break
			}
		}
		return o.execute(ctx, fp, core.Tap(control))
	}
	return o.execute(ctx, fp, core.Back())
}

// enterMenuEntry taps the first selected, unexplored entry of the menu
// surface rooted at container.
func (o *Orchestrator) enterMenuEntry(ctx context.Context, tree *view.Tree, fp string, container int) Result {
	o.menuSearch = 0
	o.visited[fp] = true
	o.graph.AddNode(fp, MenuLabel)

	for _, c := range extract.Candidates(tree.Elements(container)).Buttons() {
		if !o.menuFilter.Match(c) || o.isExplored(fp, c.Action) {
			continue
		}
		o.logger.Info("Exploring menu entry", zap.String("entry", c.Label))
		o.markExplored(fp, c.Action)
		o.startPage()
		return o.execute(ctx, fp, c.Action)
	}
	o.logger.Info("All menu entries explored")
	return o.done(nil)
}

// startPage resets the traversal for a new DFS root.
func (o *Orchestrator) startPage() {
	o.phase = core.PhasePageExploration
	o.frontier = nil
	o.depth = 0
	o.root = ""
	o.detour = 0
}
