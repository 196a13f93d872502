package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/app-explorer/pkg/config"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
	"github.com/devicelab-dev/app-explorer/pkg/logger"
	"github.com/devicelab-dev/app-explorer/pkg/report"
	"github.com/devicelab-dev/app-explorer/pkg/store"
)

var exportCommand = &cli.Command{
	Name:  "export",
	Usage: "Write reports for a stored graph",
	Description: `Load the accumulated graph of an app from the database, or a previously
exported json/yaml file, and write it in the requested formats.

Examples:
  app-explorer -a com.example.app export
  app-explorer -a com.example.app export --format yaml --compress
  app-explorer export --from report/graph.json.zst --format html --out site`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "db",
			Usage: "SQLite database to read",
		},
		&cli.StringFlag{
			Name:  "from",
			Usage: "Exported json/yaml file (optionally .zst) to read instead of the database",
		},
		&cli.StringSliceFlag{
			Name:  "format",
			Usage: "Report formats (json, yaml, mermaid, html); repeatable",
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Output directory",
		},
		&cli.BoolFlag{
			Name:  "compress",
			Usage: "zstd-compress json, yaml and mermaid reports",
		},
	},
	Action: runExport,
}

var pathCommand = &cli.Command{
	Name:      "path",
	Usage:     "Print the shortest action sequence between two stored screens",
	ArgsUsage: "<from> <to>",
	Description: `Each screen is given by fingerprint or by a case-insensitive substring of
its label.

Examples:
  app-explorer -a com.example.app path Home "Notification settings"
  app-explorer -a com.example.app path fp_1a2b3c fp_4d5e6f`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "db",
			Usage: "SQLite database to read",
		},
	},
	Action: runPath,
}

func runExport(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if c.IsSet("db") {
		cfg.Store.Path = c.String("db")
	}
	if c.IsSet("format") {
		cfg.Report.Formats = c.StringSlice("format")
	}
	if c.IsSet("out") {
		cfg.Report.Dir = c.String("out")
	}
	if c.IsSet("compress") {
		cfg.Report.Compress = c.Bool("compress")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var doc report.Document
	if from := c.String("from"); from != "" {
		if doc, err = report.Read(from); err != nil {
			return err
		}
	} else {
		if doc, err = loadStoredDocument(c, cfg); err != nil {
			return err
		}
	}
	if cfg.Report.Dir == "" {
		return fmt.Errorf("no output directory (use --out)")
	}
	return writeReports(c.App.Writer, cfg, doc)
}

// loadStoredDocument builds a report document from the database.
func loadStoredDocument(c *cli.Context, cfg *config.Config) (report.Document, error) {
	g, db, err := loadStoredGraph(c, cfg)
	if err != nil {
		return report.Document{}, err
	}
	defer db.Close()

	doc := report.NewDocument(cfg.App.Package, g)
	runs, err := db.Runs(c.Context, cfg.App.Package)
	if err != nil {
		return doc, err
	}
	for _, r := range runs {
		doc.Runs = append(doc.Runs, report.RunInfo{
			ID:          r.ID,
			Steps:       r.Steps,
			States:      r.States,
			Interrupted: r.Interrupted,
			Duration:    r.FinishedAt.Sub(r.StartedAt),
		})
	}
	return doc, nil
}

func loadStoredGraph(c *cli.Context, cfg *config.Config) (*graph.Graph, *store.Store, error) {
	if cfg.App.Package == "" {
		return nil, nil, fmt.Errorf("app package is required (use --app)")
	}
	if cfg.Store.Path == "" {
		return nil, nil, fmt.Errorf("no database configured (use --db)")
	}
	db, err := store.Open(c.Context, cfg.Store.Path, logger.L())
	if err != nil {
		return nil, nil, err
	}
	ex, err := db.Load(c.Context, cfg.App.Package)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if len(ex.Nodes) == 0 {
		db.Close()
		return nil, nil, fmt.Errorf("no stored graph for %s in %s", cfg.App.Package, cfg.Store.Path)
	}
	g, err := graph.FromExport(ex)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return g, db, nil
}

func runPath(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected <from> and <to>, got %d arguments", c.NArg())
	}
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if c.IsSet("db") {
		cfg.Store.Path = c.String("db")
	}

	g, db, err := loadStoredGraph(c, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	w := c.App.Writer
	from, err := resolveState(w, g, c.Args().Get(0))
	if err != nil {
		return err
	}
	to, err := resolveState(w, g, c.Args().Get(1))
	if err != nil {
		return err
	}

	steps, ok := g.ShortestPath(from, to)
	if !ok {
		return fmt.Errorf("no recorded path from %s to %s", stateName(g, from), stateName(g, to))
	}
	if len(steps) == 0 {
		fmt.Fprintln(w, "already there")
		return nil
	}
	for i, s := range steps {
		fmt.Fprintf(w, "%d. %s  %s(%s -> %s)%s\n", i+1, s.Action,
			color(colorGray), stateName(g, s.From), stateName(g, s.To), color(colorReset))
	}
	return nil
}

// resolveState maps a fingerprint or label query to a fingerprint.
func resolveState(w io.Writer, g *graph.Graph, query string) (string, error) {
	if _, ok := g.Node(query); ok {
		return query, nil
	}
	matches := g.FindByLabel(query)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no screen matches %q", query)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = stateName(g, m)
		}
		printWarning(w, fmt.Sprintf("%q matches %d screens (%s), using the first", query, len(matches), strings.Join(names, ", ")))
		return matches[0], nil
	}
}

func stateName(g *graph.Graph, fp string) string {
	if n, ok := g.Node(fp); ok && n.Label != "" {
		return n.Label
	}
	return fp
}
