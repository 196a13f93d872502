package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/app-explorer/pkg/config"
	"github.com/devicelab-dev/app-explorer/pkg/explorer"
	"github.com/devicelab-dev/app-explorer/pkg/extract"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
	"github.com/devicelab-dev/app-explorer/pkg/llm"
	"github.com/devicelab-dev/app-explorer/pkg/logger"
	"github.com/devicelab-dev/app-explorer/pkg/metrics"
	"github.com/devicelab-dev/app-explorer/pkg/report"
	"github.com/devicelab-dev/app-explorer/pkg/store"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

var exploreCommand = &cli.Command{
	Name:  "explore",
	Usage: "Explore the application and record its functional graph",
	Description: `Launch the application, walk its screens depth-first and record every
screen state and transition. Interrupted runs are restarted from a fresh
launch, keeping what was already explored.

Examples:
  app-explorer -a com.example.app explore
  app-explorer -a com.example.app explore --max-steps 300 --metrics
  app-explorer -d mock explore --oracle heuristic --report-dir out`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "max-steps",
			Usage: "Stop after this many actions over all runs (0: unbounded)",
		},
		&cli.IntFlag{
			Name:  "max-depth",
			Usage: "Depth bound of the traversal",
		},
		&cli.StringFlag{
			Name:  "oracle",
			Usage: "Oracle provider (gemini, openai, deepseek, heuristic)",
		},
		&cli.StringFlag{
			Name:  "db",
			Usage: "SQLite database accumulating runs (empty string disables)",
		},
		&cli.BoolFlag{
			Name:  "resume",
			Usage: "Start from the graph stored for the app",
		},
		&cli.StringFlag{
			Name:  "report-dir",
			Usage: "Directory for exported reports",
		},
		&cli.StringSliceFlag{
			Name:  "format",
			Usage: "Report formats (json, yaml, mermaid, html); repeatable",
		},
		&cli.BoolFlag{
			Name:  "compress",
			Usage: "zstd-compress json, yaml and mermaid reports",
		},
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "Serve Prometheus metrics and live status while exploring",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Listen address of the metrics server",
		},
	},
	Action: runExplore,
}

func runExplore(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	applyExploreFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	w := c.App.Writer

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openDevice(ctx, cfg, w)
	if err != nil {
		return err
	}
	defer sess.cleanup()
	app := cfg.App.Package
	log := logger.Named("cli").With(zap.String("app", app))

	var db *store.Store
	if cfg.Store.Path != "" {
		if db, err = store.Open(ctx, cfg.Store.Path, logger.L()); err != nil {
			return err
		}
		defer db.Close()
	}

	g := graph.New()
	seeded := 0
	if c.Bool("resume") && db != nil {
		prior, err := db.Load(ctx, app)
		if err != nil {
			return err
		}
		if err := g.Merge(prior); err != nil {
			return fmt.Errorf("resume stored graph: %w", err)
		}
		seeded = len(prior.Edges)
		printSetupSuccess(w, fmt.Sprintf("Resumed %d states, %d transitions", len(prior.Nodes), seeded))
	}

	x, err := newExtractor(ctx, cfg)
	if err != nil {
		return err
	}
	fp, err := view.NewFingerprinter(cfg.Fingerprint)
	if err != nil {
		return err
	}
	opts := []explorer.Option{explorer.WithFingerprinter(fp)}

	var obs *metrics.Observer
	if cfg.Metrics.Enabled {
		obs = metrics.NewObserver()
		opts = append(opts, explorer.WithObserver(obs))
	}
	sup := explorer.NewSupervisor(sess.device, g, x, cfg.ExplorerConfig(), logger.L(), opts...)

	printHeader(w, fmt.Sprintf("Exploring %s", app))
	started := time.Now()

	var summaries []explorer.RunSummary
	var runErr error
	eg, egCtx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(egCtx)
	defer stopServe()
	eg.Go(func() error {
		defer stopServe()
		summaries, runErr = sup.Run(egCtx, cfg.Explorer.MaxSteps)
		return nil
	})
	if obs != nil {
		srv := metrics.NewServer(cfg.Metrics.Addr, app, sup, obs, logger.L())
		printSetupSuccess(w, fmt.Sprintf("Metrics on http://%s/metrics", cfg.Metrics.Addr))
		eg.Go(func() error { return srv.ListenAndServe(serveCtx) })
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	finished := time.Now()

	printSummaries(w, summaries, g)
	if runErr != nil {
		log.Error("Exploration stopped", zap.Error(runErr))
	}

	if db != nil {
		ex := g.Export()
		run := store.Run{
			App:        app,
			StartedAt:  started,
			FinishedAt: finished,
			States:     len(ex.Nodes),
		}
		for _, s := range summaries {
			run.Steps += s.Steps
			run.Interrupted = run.Interrupted || s.Interrupted
		}
		// Reuse the first orchestrator run id so logs and store agree.
		if len(summaries) > 0 {
			run.ID = summaries[0].RunID
		}
		// Only edges appended by this invocation are new to the store.
		edges := ex.Edges
		if seeded <= len(edges) {
			edges = edges[seeded:]
		}
		// The store outlives a cancelled exploration.
		if _, err := db.SaveRun(context.WithoutCancel(ctx), run, ex.Nodes, edges); err != nil {
			return err
		}
		printSetupSuccess(w, fmt.Sprintf("Saved to %s", cfg.Store.Path))
	}

	if err := writeReports(w, cfg, reportDocument(app, g, sess, summaries)); err != nil {
		return err
	}
	return runErr
}

// applyExploreFlags copies explore-specific flags into cfg.
func applyExploreFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("max-steps") {
		cfg.Explorer.MaxSteps = c.Int("max-steps")
	}
	if c.IsSet("max-depth") {
		cfg.Explorer.MaxDepth = c.Int("max-depth")
	}
	if c.IsSet("oracle") {
		cfg.Oracle.Provider = c.String("oracle")
	}
	if c.IsSet("db") {
		cfg.Store.Path = c.String("db")
	}
	if c.IsSet("report-dir") {
		cfg.Report.Dir = c.String("report-dir")
	}
	if c.IsSet("format") {
		cfg.Report.Formats = c.StringSlice("format")
	}
	if c.IsSet("compress") {
		cfg.Report.Compress = c.Bool("compress")
	}
	if c.IsSet("metrics") {
		cfg.Metrics.Enabled = c.Bool("metrics")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
}

// newExtractor builds the action extractor and its oracle.
func newExtractor(ctx context.Context, cfg *config.Config) (*extract.Extractor, error) {
	var oracle extract.Oracle
	if cfg.Oracle.Provider == config.OracleHeuristic {
		oracle = extract.HeuristicOracle{}
	} else {
		client, err := llm.NewClient(ctx, cfg.LLMConfig(), logger.L())
		if err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
		oracle = extract.NewLLMOracle(client, cfg.Oracle.MaxRetries, logger.L())
	}
	return extract.New(oracle,
		extract.WithStrictFilters(cfg.Oracle.StrictFilters),
		extract.WithPrimaryFlow(cfg.Oracle.PrimaryFlow),
		extract.WithDescriptiveLimit(cfg.Oracle.DescriptiveLimit),
		extract.WithLogger(logger.L()),
	), nil
}

func reportDocument(app string, g *graph.Graph, sess *session, summaries []explorer.RunSummary) report.Document {
	doc := report.NewDocument(app, g)
	doc.Device = sess.info
	for _, s := range summaries {
		info := report.RunInfo{
			ID:          s.RunID,
			Steps:       s.Steps,
			States:      s.States,
			Interrupted: s.Interrupted,
			Duration:    s.Duration,
		}
		if s.Err != nil {
			info.Error = s.Err.Error()
		}
		doc.Runs = append(doc.Runs, info)
	}
	return doc
}

func writeReports(w io.Writer, cfg *config.Config, doc report.Document) error {
	if len(cfg.Report.Formats) == 0 || cfg.Report.Dir == "" {
		return nil
	}
	formats := make([]report.Format, 0, len(cfg.Report.Formats))
	for _, name := range cfg.Report.Formats {
		f, err := report.ParseFormat(name)
		if err != nil {
			return err
		}
		formats = append(formats, f)
	}
	paths, err := report.WriteAll(cfg.Report.Dir, formats, cfg.Report.Compress, doc)
	if err != nil {
		return fmt.Errorf("write reports: %w", err)
	}
	for _, p := range paths {
		printSetupSuccess(w, "Wrote "+p)
	}
	return nil
}

func printSummaries(w io.Writer, summaries []explorer.RunSummary, g *graph.Graph) {
	printHeader(w, "Summary")
	for i, s := range summaries {
		outcome := "completed"
		switch {
		case s.Interrupted:
			outcome = "interrupted"
		case s.Err != nil:
			outcome = s.Err.Error()
		}
		fmt.Fprintf(w, "  run %d %s%s%s: %d steps, %d states, %s (%s)\n",
			i+1, color(colorGray), s.RunID, color(colorReset),
			s.Steps, s.States, s.Duration.Round(time.Millisecond), outcome)
	}
	stats := g.Stats()
	fmt.Fprintf(w, "  %d states, %d transitions, %d self loops\n", stats.Nodes, stats.Edges, stats.SelfLoops)
}
