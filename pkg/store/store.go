// Package store persists exploration graphs in SQLite so that several runs
// against the same app accumulate into one model.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	app         TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	steps       INTEGER NOT NULL DEFAULT 0,
	states      INTEGER NOT NULL DEFAULT 0,
	interrupted INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS nodes (
	app         TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	depth       INTEGER NOT NULL DEFAULT 0,
	first_run   TEXT NOT NULL,
	PRIMARY KEY (app, fingerprint)
);
CREATE TABLE IF NOT EXISTS edges (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	app         TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	source      TEXT NOT NULL,
	action_key  TEXT NOT NULL,
	destination TEXT NOT NULL,
	reverse     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS edges_app ON edges(app, id);
`

// Run describes one exploration run.
type Run struct {
	ID          string
	App         string
	StartedAt   time.Time
	FinishedAt  time.Time
	Steps       int
	States      int
	Interrupted bool
}

// Store is a SQLite-backed graph store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; WAL lets readers proceed.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Debug("Store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun records run together with the nodes it saw and the edges it
// appended. Nodes already stored are merged: a non-empty label or
// description replaces the stored one and the smaller depth wins. It
// returns the run id, generated when run.ID is empty.
func (s *Store) SaveRun(ctx context.Context, run Run, nodes []graph.NodeRecord, edges []graph.EdgeRecord) (string, error) {
	if run.App == "" {
		return "", fmt.Errorf("save run: app is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, app, started_at, finished_at, steps, states, interrupted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.App, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.Steps, run.States, run.Interrupted); err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (app, fingerprint, label, description, depth, first_run)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (app, fingerprint) DO UPDATE SET
			label       = CASE WHEN excluded.label != '' THEN excluded.label ELSE nodes.label END,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE nodes.description END,
			depth       = MIN(nodes.depth, excluded.depth)
	`)
	if err != nil {
		return "", fmt.Errorf("prepare node insert: %w", err)
	}
	defer nodeStmt.Close()
	for _, n := range nodes {
		if _, err := nodeStmt.ExecContext(ctx, run.App, n.Fingerprint, n.Label, n.Description, n.Depth, run.ID); err != nil {
			return "", fmt.Errorf("inserting node %s: %w", n.Fingerprint, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (run_id, app, seq, source, action_key, destination, reverse)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()
	for _, e := range edges {
		if _, err := edgeStmt.ExecContext(ctx, run.ID, run.App, e.Seq, e.Source, e.ActionKey, e.Destination, e.Reverse); err != nil {
			return "", fmt.Errorf("inserting edge %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("Run saved",
		zap.String("run", run.ID),
		zap.String("app", run.App),
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", len(edges)),
	)
	return run.ID, nil
}

// Load returns the accumulated graph of app: nodes in first-seen order
// and edges in insertion order, renumbered from 1.
func (s *Store) Load(ctx context.Context, app string) (graph.Export, error) {
	out := graph.Export{Nodes: []graph.NodeRecord{}, Edges: []graph.EdgeRecord{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, label, description, depth FROM nodes
		WHERE app = ? ORDER BY rowid
	`, app)
	if err != nil {
		return out, fmt.Errorf("querying nodes: %w", err)
	}
	for rows.Next() {
		var n graph.NodeRecord
		if err := rows.Scan(&n.Fingerprint, &n.Label, &n.Description, &n.Depth); err != nil {
			rows.Close()
			return out, fmt.Errorf("scanning node: %w", err)
		}
		out.Nodes = append(out.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT source, action_key, destination, reverse FROM edges
		WHERE app = ? ORDER BY id
	`, app)
	if err != nil {
		return out, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e graph.EdgeRecord
		if err := rows.Scan(&e.Source, &e.ActionKey, &e.Destination, &e.Reverse); err != nil {
			return out, fmt.Errorf("scanning edge: %w", err)
		}
		action, err := core.ParseActionKey(e.ActionKey)
		if err != nil {
			return out, fmt.Errorf("stored edge: %w", err)
		}
		e.Seq = len(out.Edges) + 1
		e.Action = action.String()
		out.Edges = append(out.Edges, e)
	}
	return out, rows.Err()
}

// Runs lists the runs recorded for app, oldest first.
func (s *Store) Runs(ctx context.Context, app string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app, started_at, finished_at, steps, states, interrupted FROM runs
		WHERE app = ? ORDER BY started_at, rowid
	`, app)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.App, &started, &finished, &r.Steps, &r.States, &r.Interrupted); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Apps lists the apps that have stored graphs.
func (s *Store) Apps(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT app FROM runs ORDER BY app`)
	if err != nil {
		return nil, fmt.Errorf("querying apps: %w", err)
	}
	defer rows.Close()

	var apps []string
	for rows.Next() {
		var app string
		if err := rows.Scan(&app); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}
