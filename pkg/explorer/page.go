package explorer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// pageStep runs one decision of the depth-first traversal below a menu
// entry.
func (o *Orchestrator) pageStep(ctx context.Context, tree *view.Tree, fp string) Result {
	if !o.visited[fp] {
		o.discover(ctx, tree, fp)
		return o.popFrontier(ctx, tree, fp)
	}

	a := o.arrival
	if o.detour > 0 || (a != nil && !a.action.IsBack() && a.from != fp) {
		from := ""
		if a != nil {
			from = a.from
		}
		if res, ok := o.returnToFrontier(ctx, fp, from); ok {
			return res
		}
	}
	return o.popFrontier(ctx, tree, fp)
}

// returnToFrontier moves from the known state fp towards the origin of the
// next frontier frame. from is the state the last action left. ok is false
// when the frontier can be popped from fp or no way back is known.
func (o *Orchestrator) returnToFrontier(ctx context.Context, fp, from string) (Result, bool) {
	for len(o.frontier) > 0 {
		f := o.frontier[len(o.frontier)-1]
		if f.action.IsBack() || !o.isExplored(f.origin, f.action) {
			break
		}
		o.frontier = o.frontier[:len(o.frontier)-1]
	}
	if len(o.frontier) == 0 {
		return Result{}, false
	}
	next := o.frontier[len(o.frontier)-1]
	if next.origin == fp {
		return Result{}, false
	}
	if o.detour >= o.cfg.BacktrackRetries {
		o.logger.Warn("Frontier origin not reached", zap.String("origin", next.origin), zap.Int("steps", o.detour))
		return Result{}, false
	}

	// Back from the root of a single-root exploration leaves the app.
	if next.origin == from && fp != o.root {
		o.logger.Debug("Known state reached, returning",
			zap.String("state", fp),
			zap.String("origin", from),
		)
		o.detour++
		res := o.execute(ctx, fp, core.Back())
		if res.Kind == ResultContinue && o.pending != nil {
			o.expectBack = from
		}
		return res, true
	}

	steps, ok := o.graph.ShortestPath(fp, next.origin)
	if !ok || len(steps) == 0 {
		return Result{}, false
	}
	o.logger.Debug("Known state reached, navigating to frontier",
		zap.String("state", fp),
		zap.String("origin", next.origin),
		zap.Int("path", len(steps)),
	)
	o.detour++
	return o.execute(ctx, fp, steps[0].Action), true
}

// discover computes the candidate actions of a first-visited state and
// pushes them onto the frontier.
func (o *Orchestrator) discover(ctx context.Context, tree *view.Tree, fp string) {
	o.visited[fp] = true
	o.depth++

	var elements []view.Element
	if o.cfg.RevealScroll {
		elements = o.revealElements(ctx, tree)
	}

	start := time.Now()
	res := o.extractor.Extract(ctx, tree, elements)
	o.observer.OnExtraction(time.Since(start), len(res.Actions))

	if o.depth == 1 {
		o.root = fp
	}
	o.graph.AddNode(fp, res.Summary)
	o.graph.SetLabel(fp, res.Summary, res.Description)
	o.graph.SetDepth(fp, o.depth)
	o.observer.OnState(fp, o.depth)

	o.logger.Info("Discovered state",
		zap.String("state", fp),
		zap.String("summary", res.Summary),
		zap.Int("depth", o.depth),
		zap.Int("actions", len(res.Actions)),
	)

	// The root of a menu-less exploration has nowhere to go back to.
	pushBack := !(o.depth == 1 && o.cfg.MenuControl == "")
	if pushBack {
		o.frontier = append(o.frontier, frame{origin: fp, action: core.Back(), depth: o.depth})
	}
	if o.depth >= o.cfg.MaxDepth {
		return
	}
	for i := len(res.Actions) - 1; i >= 0; i-- {
		o.frontier = append(o.frontier, frame{origin: fp, action: res.Actions[i], depth: o.depth})
	}
}

// revealElements unions the elements of tree with those revealed by
// scrolling each scrollable container, restoring every container to the
// top afterwards. Returns nil when nothing was revealed.
func (o *Orchestrator) revealElements(ctx context.Context, tree *view.Tree) []view.Element {
	containers := tree.Scrollables()
	if len(containers) == 0 {
		return nil
	}

	base := tree.Elements(-1)
	seen := make(map[string]bool, len(base))
	for _, e := range base {
		seen[e.Signature] = true
	}
	union := base
	for _, c := range containers {
		revealed, scrolls, err := o.revealer.RevealAll(ctx, tree, c)
		if err != nil {
			o.logger.Warn("Scroll reveal failed", zap.String("container", c.Signature), zap.Error(err))
		}
		for _, e := range revealed {
			if !seen[e.Signature] {
				seen[e.Signature] = true
				union = append(union, e)
			}
		}
		if len(scrolls) > 0 {
			if err := o.revealer.RestoreToTop(ctx, c, len(scrolls)); err != nil {
				o.logger.Warn("Scroll restore failed", zap.String("container", c.Signature), zap.Error(err))
			}
		}
	}
	if len(union) == len(base) {
		return nil
	}
	return union
}

// popFrontier executes the next frontier frame. Frames already explored
// are discarded; a frame whose origin is not the current screen first
// waits for that screen. An empty frontier hands control back to menu
// discovery.
func (o *Orchestrator) popFrontier(ctx context.Context, tree *view.Tree, fp string) Result {
	for len(o.frontier) > 0 {
		f := o.frontier[len(o.frontier)-1]
		o.frontier = o.frontier[:len(o.frontier)-1]

		if !f.action.IsBack() && o.isExplored(f.origin, f.action) {
			continue
		}
		if f.origin != fp {
			var (
				ok  bool
				err error
			)
			tree, fp, ok, err = o.awaitScreen(ctx, f.origin)
			if err != nil {
				return o.done(err)
			}
			if !ok {
				return o.interrupt(f.origin, fp)
			}
		}

		o.detour = 0
		o.markExplored(f.origin, f.action)
		if f.action.IsBack() {
			o.depth = f.depth - 1
			if o.depth < 0 {
				o.depth = 0
			}
			res := o.execute(ctx, fp, f.action)
			if res.Kind == ResultContinue && o.pending != nil {
				if target, ok := o.graph.ExpectedBacktrackTarget(fp); ok {
					o.expectBack = target
				}
			}
			return res
		}
		o.depth = f.depth
		return o.execute(ctx, fp, f.action)
	}

	o.logger.Debug("Frontier exhausted, back to menu discovery")
	o.phase = core.PhaseMenuDiscovery
	return o.menuStep(ctx, tree, fp)
}
