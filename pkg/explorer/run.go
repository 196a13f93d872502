package explorer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/extract"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
)

// Run steps o until it finishes, ctx is cancelled or maxSteps actions have
// been issued (maxSteps <= 0 means no bound). The returned error is the
// interruption or the cause of an abnormal stop.
func Run(ctx context.Context, o *Orchestrator, maxSteps int) (RunSummary, error) {
	start := time.Now()
	sum := RunSummary{RunID: o.RunID()}

	var err error
loop:
	for maxSteps <= 0 || sum.Steps < maxSteps {
		res := o.Step(ctx)
		switch res.Kind {
		case ResultContinue:
			sum.Steps++
		case ResultInterrupted:
			sum.Interrupted = true
			err = res.Err
			break loop
		default:
			err = res.Err
			break loop
		}
	}

	sum.Err = err
	sum.States = o.graph.NodeCount()
	sum.Edges = o.graph.EdgeCount()
	sum.Visited = len(o.visited)
	sum.Duration = time.Since(start)
	return sum, err
}

// Supervisor runs orchestrators against one shared graph. When a run is
// interrupted it stops the app and starts a fresh orchestrator that
// inherits the explored edges, up to Config.MaxRuns runs.
type Supervisor struct {
	device    core.Device
	graph     *graph.Graph
	extractor *extract.Extractor
	cfg       Config
	opts      []Option
	logger    *zap.Logger

	current atomic.Pointer[Orchestrator]
}

// NewSupervisor creates a supervisor. opts are applied to every
// orchestrator it starts.
func NewSupervisor(device core.Device, g *graph.Graph, x *extract.Extractor, cfg Config, logger *zap.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		device:    device,
		graph:     g,
		extractor: x,
		cfg:       cfg.normalize(),
		opts:      append([]Option{WithLogger(logger)}, opts...),
		logger:    logger.Named("supervisor"),
	}
}

// Graph returns the shared graph.
func (s *Supervisor) Graph() *graph.Graph { return s.graph }

// Status returns the status of the current run, if one has started.
func (s *Supervisor) Status() (Status, bool) {
	o := s.current.Load()
	if o == nil {
		return Status{}, false
	}
	return o.Status(), true
}

// Run explores until a run finishes without interruption, the run limit
// or maxSteps (summed over runs, <= 0 for no bound) is reached, or ctx is
// cancelled. Interruptions are reported in the summaries, not as errors.
func (s *Supervisor) Run(ctx context.Context, maxSteps int) ([]RunSummary, error) {
	var (
		runs   []RunSummary
		memory Memory
		steps  int
	)
	for i := 0; i < s.cfg.MaxRuns; i++ {
		opts := append([]Option{}, s.opts...)
		if i > 0 {
			if err := s.device.Execute(ctx, s.device.StopIntent(s.cfg.App)); err != nil {
				return runs, fmt.Errorf("stop %s between runs: %w", s.cfg.App, err)
			}
			opts = append(opts, WithMemory(memory))
		}
		o, err := New(s.device, s.graph, s.extractor, s.cfg, opts...)
		if err != nil {
			return runs, err
		}
		s.current.Store(o)

		budget := 0
		if maxSteps > 0 {
			budget = maxSteps - steps
		}
		s.logger.Info("Starting run", zap.String("run_id", o.RunID()), zap.Int("run", i+1))
		sum, err := Run(ctx, o, budget)
		runs = append(runs, sum)
		steps += sum.Steps

		if !sum.Interrupted {
			return runs, err
		}
		if maxSteps > 0 && steps >= maxSteps {
			return runs, nil
		}
		memory = o.Memory()
		s.logger.Warn("Run interrupted",
			zap.String("run_id", sum.RunID),
			zap.Error(err),
		)
	}
	s.logger.Warn("Run limit reached", zap.Int("runs", s.cfg.MaxRuns))
	return runs, nil
}
