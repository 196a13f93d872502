// Package scroll reveals elements hidden below the fold of scrollable
// containers and restores them afterwards.
package scroll

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// DefaultMaxScrolls bounds the scroll passes per container.
const DefaultMaxScrolls = 2

// Revealer scrolls a container until no new elements appear. Every scroll
// is recorded as a graph edge with the opposite scroll as its reverse.
type Revealer struct {
	device      core.Device
	graph       *graph.Graph
	fingerprint func(*view.Tree) string
	maxScrolls  int
	settle      time.Duration
	retry       RetryFunc
	logger      *zap.Logger

	last string // fingerprint of the most recent capture
}

// RetryFunc runs op, retrying transient device failures.
type RetryFunc func(ctx context.Context, op func() error) error

func once(_ context.Context, op func() error) error { return op() }

// Option configures a Revealer.
type Option func(*Revealer)

// WithMaxScrolls sets the pass limit.
func WithMaxScrolls(n int) Option {
	return func(r *Revealer) {
		if n > 0 {
			r.maxScrolls = n
		}
	}
}

// WithSettle sets the delay after each scroll.
func WithSettle(d time.Duration) Option {
	return func(r *Revealer) { r.settle = d }
}

// WithFingerprinter sets the function used to identify captures.
func WithFingerprinter(fp func(*view.Tree) string) Option {
	return func(r *Revealer) { r.fingerprint = fp }
}

// WithRetry sets how device calls are retried. Without it every call is
// attempted once.
func WithRetry(fn RetryFunc) Option {
	return func(r *Revealer) {
		if fn != nil {
			r.retry = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Revealer) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Revealer.
func New(device core.Device, g *graph.Graph, opts ...Option) *Revealer {
	r := &Revealer{
		device:      device,
		graph:       g,
		fingerprint: view.Fingerprint,
		maxScrolls:  DefaultMaxScrolls,
		retry:       once,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("scroll")
	return r
}

// RevealAll scrolls container down, starting from the capture current,
// and returns the elements that were not visible in any earlier pass
// together with the scrolls issued. It stops early when a pass shows
// nothing new.
func (r *Revealer) RevealAll(ctx context.Context, current *view.Tree, container view.Element) ([]view.Element, []core.Action, error) {
	seen := make(map[string]bool)
	for _, e := range current.Elements(-1) {
		seen[e.Signature] = true
	}
	r.last = r.fingerprint(current)

	down := core.Scroll(container.Signature, core.DirectionDown)
	up := core.Scroll(container.Signature, core.DirectionUp)

	var (
		revealed []view.Element
		scrolls  []core.Action
	)
	for i := 0; i < r.maxScrolls; i++ {
		tree, err := r.scroll(ctx, down, up)
		if err != nil {
			return revealed, scrolls, err
		}
		scrolls = append(scrolls, down)

		fresh := 0
		for _, e := range tree.Elements(-1) {
			if seen[e.Signature] {
				continue
			}
			seen[e.Signature] = true
			revealed = append(revealed, e)
			fresh++
		}
		r.logger.Debug("Scroll pass",
			zap.String("container", container.Signature),
			zap.Int("pass", i+1),
			zap.Int("new", fresh),
		)
		if fresh == 0 {
			break
		}
	}
	return revealed, scrolls, nil
}

// RestoreToTop issues n upward scrolls on container.
func (r *Revealer) RestoreToTop(ctx context.Context, container view.Element, n int) error {
	if n <= 0 {
		return nil
	}
	if r.last == "" {
		tree, err := r.capture(ctx)
		if err != nil {
			return fmt.Errorf("capture before restore: %w", err)
		}
		r.last = r.fingerprint(tree)
	}
	up := core.Scroll(container.Signature, core.DirectionUp)
	down := core.Scroll(container.Signature, core.DirectionDown)
	for i := 0; i < n; i++ {
		if _, err := r.scroll(ctx, up, down); err != nil {
			return err
		}
	}
	return nil
}

// scroll executes action, captures the result and records the edge.
func (r *Revealer) scroll(ctx context.Context, action, reverse core.Action) (*view.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.retry(ctx, func() error { return r.device.Execute(ctx, action) }); err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	if r.settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.settle):
		}
	}
	tree, err := r.capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture after %s: %w", action, err)
	}
	fp := r.fingerprint(tree)
	r.graph.AddEdgeWithReverse(r.last, action, fp, &reverse)
	r.last = fp
	return tree, nil
}

func (r *Revealer) capture(ctx context.Context) (*view.Tree, error) {
	var tree *view.Tree
	err := r.retry(ctx, func() error {
		t, err := r.device.Capture(ctx)
		if err != nil {
			return err
		}
		tree = t
		return nil
	})
	return tree, err
}
