package layout

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Store persists learned graphs per routine file in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and creates) the layout database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS layout_nodes (
			routine TEXT NOT NULL,
			idx INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			PRIMARY KEY (routine, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS layout_edges (
			routine TEXT NOT NULL,
			src INTEGER NOT NULL,
			dst INTEGER NOT NULL,
			PRIMARY KEY (routine, src, dst)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("layout schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored graph for routine.
func (s *Store) Save(ctx context.Context, routine string, g *Graph) error {
	snap := g.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteTx(ctx, tx, routine); err != nil {
		return err
	}
	for i, n := range snap.Nodes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO layout_nodes(routine, idx, x, y) VALUES(?, ?, ?, ?)`,
			routine, i, n.X, n.Y); err != nil {
			return fmt.Errorf("save node %d: %w", i, err)
		}
	}
	for _, e := range snap.Edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO layout_edges(routine, src, dst) VALUES(?, ?, ?)`,
			routine, e.From, e.To); err != nil {
			return fmt.Errorf("save edge %d->%d: %w", e.From, e.To, err)
		}
	}
	return tx.Commit()
}

// Load restores the graph stored for routine into g. It reports false
// when nothing was stored, leaving g untouched.
func (s *Store) Load(ctx context.Context, routine string, g *Graph) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y FROM layout_nodes WHERE routine = ? ORDER BY idx`, routine)
	if err != nil {
		return false, err
	}
	var snap Snapshot
	for rows.Next() {
		var p state.Position
		if err := rows.Scan(&p.X, &p.Y); err != nil {
			rows.Close()
			return false, err
		}
		snap.Nodes = append(snap.Nodes, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	if len(snap.Nodes) == 0 {
		return false, nil
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT src, dst FROM layout_edges WHERE routine = ?`, routine)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.From, &e.To); err != nil {
			return false, err
		}
		snap.Edges = append(snap.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	g.Restore(snap)
	return true, nil
}

// Delete removes the stored graph for routine.
func (s *Store) Delete(ctx context.Context, routine string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteTx(ctx, tx, routine); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteTx(ctx context.Context, tx *sql.Tx, routine string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM layout_nodes WHERE routine = ?`, routine); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM layout_edges WHERE routine = ?`, routine)
	return err
}

// Routines lists routines with a stored graph.
func (s *Store) Routines(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT routine FROM layout_nodes ORDER BY routine`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
