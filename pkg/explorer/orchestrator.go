package explorer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/extract"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
	"github.com/devicelab-dev/app-explorer/pkg/scroll"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// frame is a pending action on the DFS frontier.
type frame struct {
	origin string
	action core.Action
	depth  int // depth of origin
}

// issued is an executed action whose edge is recorded on the next capture.
type issued struct {
	from   string
	action core.Action
}

// Orchestrator explores an application one decision per Step. It is not
// safe for concurrent use; Status may be read from any goroutine.
type Orchestrator struct {
	cfg         Config
	device      core.Device
	graph       *graph.Graph
	extractor   *extract.Extractor
	revealer    *scroll.Revealer
	fingerprint func(*view.Tree) string
	menuFilter  *EntryFilter
	observer    Observer
	logger      *zap.Logger
	rng         *rand.Rand
	sleep       func(ctx context.Context, d time.Duration) error
	runID       string

	phase       core.Phase
	resumePhase core.Phase
	finished    bool
	steps       int

	visited  map[string]bool
	explored map[string]bool // exploredKey(fp, action)

	frontier []frame
	depth    int
	root     string // first state of the current DFS
	detour   int    // consecutive steps spent returning to the frontier

	pending    *issued // action executed by the previous step
	arrival    *issued // action that led to the current screen
	expectBack string  // backtrack target to verify on the next step

	trace      *eventTrace
	waits      int
	restarts   int
	outside    int
	relaunched bool
	fallback   bool

	menuSearch     int
	singleRootDone bool

	status atomic.Pointer[Status]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithFingerprinter sets the fingerprinter used to identify screens.
func WithFingerprinter(f *view.Fingerprinter) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.fingerprint = f.Fingerprint
		}
	}
}

// WithMemory seeds the explored-edge set from a previous run.
func WithMemory(m Memory) Option {
	return func(o *Orchestrator) {
		for k := range m.Explored {
			o.explored[k] = true
		}
	}
}

// New creates an orchestrator for cfg.App on device. Discovered states and
// transitions are accumulated in g.
func New(device core.Device, g *graph.Graph, x *extract.Extractor, cfg Config, opts ...Option) (*Orchestrator, error) {
	cfg = cfg.normalize()
	if cfg.App == "" {
		return nil, core.ErrInvalidConfig.WithMessage("explorer: app package is required")
	}
	filter, err := NewEntryFilter(cfg.MenuInclude, cfg.MenuExclude)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:         cfg,
		device:      device,
		graph:       g,
		extractor:   x,
		fingerprint: view.Fingerprint,
		menuFilter:  filter,
		observer:    nopObserver{},
		logger:      zap.NewNop(),
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		sleep:       sleepCtx,
		runID:       uuid.NewString(),
		phase:       core.PhaseBootstrapping,
		resumePhase: core.PhaseMenuDiscovery,
		visited:     make(map[string]bool),
		explored:    make(map[string]bool),
		trace:       newEventTrace(cfg.TraceSize),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("explorer").With(zap.String("run_id", o.runID))
	o.revealer = scroll.New(device, g,
		scroll.WithMaxScrolls(cfg.MaxScrolls),
		scroll.WithSettle(cfg.SettleDelay),
		scroll.WithFingerprinter(o.fingerprint),
		scroll.WithRetry(o.retry),
		scroll.WithLogger(o.logger),
	)
	o.publishStatus()
	return o, nil
}

// RunID identifies this orchestrator's run.
func (o *Orchestrator) RunID() string { return o.runID }

// Phase returns the current phase.
func (o *Orchestrator) Phase() core.Phase { return o.phase }

// Graph returns the graph being built.
func (o *Orchestrator) Graph() *graph.Graph { return o.graph }

// Status returns the latest published status.
func (o *Orchestrator) Status() Status { return *o.status.Load() }

// Memory returns what a fresh orchestrator should inherit after an
// interruption.
func (o *Orchestrator) Memory() Memory {
	m := Memory{Explored: make(map[string]bool, len(o.explored))}
	for k := range o.explored {
		m.Explored[k] = true
	}
	return m
}

// Memory is exploration knowledge carried across runs.
type Memory struct {
	Explored map[string]bool
}

// Step performs exactly one decision. After Done or Interrupted every
// further call returns Done without touching the device.
func (o *Orchestrator) Step(ctx context.Context) Result {
	if o.finished {
		return Result{Kind: ResultDone, Phase: core.PhaseDone}
	}
	start := time.Now()
	res := o.step(ctx)
	if res.Kind != ResultContinue {
		o.finished = true
		o.phase = core.PhaseDone
	}
	res.Phase = o.phase
	o.steps++
	o.observer.OnStep(o.phase, res.Kind, time.Since(start))
	o.publishStatus()
	return res
}

func (o *Orchestrator) step(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return o.done(err)
	}
	if o.fallback {
		return o.randomStep(ctx)
	}

	fg, err := o.foregroundDepth(ctx)
	if err != nil {
		return o.done(err)
	}
	if fg != 0 {
		return o.recover(ctx, fg)
	}
	o.outside = 0
	o.waits = 0
	if o.relaunched {
		o.relaunched = false
		o.frontier = nil
		o.depth = 0
		o.detour = 0
		o.resumePhase = core.PhaseMenuDiscovery
	}
	if o.phase == core.PhaseBootstrapping || o.phase == core.PhaseRecovering {
		o.phase = o.resumePhase
	}

	var (
		tree *view.Tree
		fp   string
	)
	if o.expectBack != "" {
		want := o.expectBack
		o.expectBack = ""
		var ok bool
		tree, fp, ok, err = o.awaitScreen(ctx, want)
		if err != nil {
			return o.done(err)
		}
		if !ok {
			return o.interrupt(want, fp)
		}
	} else {
		tree, err = o.capture(ctx)
		if err != nil {
			return o.done(err)
		}
		fp = o.fingerprint(tree)
	}
	o.recordPending(fp)

	switch o.phase {
	case core.PhasePageExploration:
		return o.pageStep(ctx, tree, fp)
	default:
		return o.menuStep(ctx, tree, fp)
	}
}

// recordPending appends the edge of the previous action, now that its
// destination is known.
func (o *Orchestrator) recordPending(fp string) {
	o.arrival = o.pending
	o.pending = nil
	if o.arrival == nil {
		return
	}
	o.graph.AddEdgeWithReverse(o.arrival.from, o.arrival.action, fp, reverseOf(o.arrival.action))
}

func reverseOf(a core.Action) *core.Action {
	var r core.Action
	switch a.Kind {
	case core.ActionTap:
		r = core.Back()
	case core.ActionScroll:
		r = core.Scroll(a.Target, a.Direction.Reverse())
	default:
		return nil
	}
	return &r
}

// execute issues an exploration action from the screen fp. Its edge is
// recorded on the next capture.
func (o *Orchestrator) execute(ctx context.Context, fp string, action core.Action) Result {
	return o.issue(ctx, fp, action, true)
}

// executeRecovery issues a lifecycle action. No edge is recorded for it
// and the event trace is left to the caller.
func (o *Orchestrator) executeRecovery(ctx context.Context, action core.Action) Result {
	return o.issue(ctx, "", action, false)
}

// issue executes action. Transient device failures are retried; exhausted
// retries end the run with ErrDeviceUnavailable. Other failures are logged
// and the step still counts as issued.
func (o *Orchestrator) issue(ctx context.Context, fp string, action core.Action, explore bool) Result {
	err := o.retry(ctx, func() error { return o.device.Execute(ctx, action) })
	o.observer.OnAction(action, err)
	if err != nil {
		o.expectBack = ""
		if ctx.Err() != nil {
			return o.done(ctx.Err())
		}
		if isTransient(err) {
			return o.done(core.ErrDeviceUnavailable.WithCause(err))
		}
		o.logger.Warn("Action failed", zap.String("action", action.String()), zap.Error(err))
		return Result{Kind: ResultContinue, Action: action}
	}

	o.logger.Debug("Executed",
		zap.String("phase", o.phase.String()),
		zap.String("action", action.String()),
		zap.String("from", fp),
		zap.Int("depth", o.depth),
	)
	if explore {
		o.pending = &issued{from: fp, action: action}
		o.trace.push(flagExplore)
	}
	if err := o.sleep(ctx, o.cfg.SettleDelay); err != nil {
		return o.done(err)
	}
	return Result{Kind: ResultContinue, Action: action}
}

// awaitScreen polls the device until the screen fingerprint equals want,
// at most BacktrackRetries times.
func (o *Orchestrator) awaitScreen(ctx context.Context, want string) (*view.Tree, string, bool, error) {
	var (
		tree *view.Tree
		fp   string
	)
	for i := 0; i < o.cfg.BacktrackRetries; i++ {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.BacktrackDelay); err != nil {
				return nil, "", false, err
			}
		}
		var err error
		tree, err = o.capture(ctx)
		if err != nil {
			return nil, "", false, err
		}
		fp = o.fingerprint(tree)
		if fp == want {
			return tree, fp, true, nil
		}
		o.logger.Debug("Backtrack target not reached yet",
			zap.Int("poll", i+1),
			zap.String("want", want),
			zap.String("got", fp),
		)
	}
	return tree, fp, false, nil
}

func (o *Orchestrator) capture(ctx context.Context) (*view.Tree, error) {
	var tree *view.Tree
	err := o.retry(ctx, func() error {
		t, err := o.device.Capture(ctx)
		if err != nil {
			return err
		}
		tree = t
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ErrDeviceUnavailable.WithCause(err)
	}
	return tree, nil
}

func (o *Orchestrator) foregroundDepth(ctx context.Context) (int, error) {
	var depth int
	err := o.retry(ctx, func() error {
		d, err := o.device.ForegroundDepth(ctx, o.cfg.App)
		if err != nil {
			return err
		}
		depth = d
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, core.ErrDeviceUnavailable.WithCause(err)
	}
	return depth, nil
}

// retry runs op with a constant backoff, retrying only transient errors.
func (o *Orchestrator) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.DeviceRetryDelay), uint64(o.cfg.DeviceRetries)),
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func isTransient(err error) bool {
	return errors.Is(err, core.ErrDeviceUnavailable) ||
		errors.Is(err, core.ErrServerUnreachable) ||
		errors.Is(err, core.ErrTimeout)
}

func (o *Orchestrator) markExplored(fp string, action core.Action) {
	o.explored[exploredKey(fp, action)] = true
}

func (o *Orchestrator) isExplored(fp string, action core.Action) bool {
	return o.explored[exploredKey(fp, action)] || o.graph.HasExploredEdge(fp, action)
}

func exploredKey(fp string, action core.Action) string {
	return fp + "\x00" + action.CanonicalKey()
}

func (o *Orchestrator) done(err error) Result {
	if err != nil {
		o.logger.Error("Exploration stopped", zap.Error(err))
	} else {
		o.logger.Info("Exploration finished",
			zap.Int("states", o.graph.NodeCount()),
			zap.Int("edges", o.graph.EdgeCount()),
		)
	}
	return Result{Kind: ResultDone, Err: err}
}

func (o *Orchestrator) interrupt(want, got string) Result {
	err := core.ErrModelInconsistency.WithDetails(map[string]interface{}{
		"expected": want,
		"actual":   got,
	})
	o.logger.Warn("Screen diverged from the exploration model",
		zap.String("expected", want),
		zap.String("actual", got),
	)
	return Result{Kind: ResultInterrupted, Err: err}
}

func (o *Orchestrator) publishStatus() {
	o.status.Store(&Status{
		RunID:     o.runID,
		Phase:     o.phase.String(),
		Steps:     o.steps,
		Depth:     o.depth,
		Frontier:  len(o.frontier),
		Visited:   len(o.visited),
		Restarts:  o.restarts,
		Fallback:  o.fallback,
		UpdatedAt: time.Now(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// String is used in logs.
func (f frame) String() string {
	return fmt.Sprintf("%s@%s(d=%d)", f.action, f.origin, f.depth)
}
