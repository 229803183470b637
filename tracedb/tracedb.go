// Package tracedb exports dispatch cache snapshots into a SQLite database
// for offline analysis across runs.
package tracedb

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/chazu/vcall/snapshot"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_id      TEXT    NOT NULL,
	taken_at      INTEGER NOT NULL,
	threshold     INTEGER NOT NULL,
	cache_bits    INTEGER NOT NULL,
	resolver_calls INTEGER NOT NULL,
	dispatch_hits INTEGER NOT NULL,
	cache_hits    INTEGER NOT NULL,
	promotions    INTEGER NOT NULL,
	cache_entries INTEGER NOT NULL,
	hit_rate      REAL    NOT NULL,
	cache_full    INTEGER NOT NULL,
	lost_rewrites INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS stubs (
	run_id   INTEGER NOT NULL REFERENCES runs(id),
	kind     TEXT    NOT NULL,
	base     INTEGER NOT NULL,
	token    INTEGER NOT NULL,
	expected INTEGER NOT NULL,
	impl     INTEGER NOT NULL,
	counter  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	bucket INTEGER NOT NULL,
	pos    INTEGER NOT NULL,
	type   INTEGER NOT NULL,
	token  INTEGER NOT NULL,
	target INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cells (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	name   TEXT    NOT NULL,
	token  INTEGER NOT NULL,
	state  TEXT    NOT NULL
);
`

// DB is an open trace database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the trace database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracedb: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracedb: create schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// WriteSnapshot stores s as a new run and returns the run ID.
func (d *DB) WriteSnapshot(ctx context.Context, s *snapshot.Snapshot) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("tracedb: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (cache_id, taken_at, threshold, cache_bits, resolver_calls, dispatch_hits, cache_hits, promotions, cache_entries, hit_rate, cache_full, lost_rewrites)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.CacheID, s.TakenAt, s.Options.PromotionThreshold, s.Options.CacheBits,
		int64(s.Stats.ResolverCalls), int64(s.Stats.DispatchHits), int64(s.Stats.CacheHits),
		int64(s.Stats.Promotions), s.Stats.CacheEntries, s.Stats.HitRate,
		int64(s.Stats.CacheFull), int64(s.Stats.LostRewrites))
	if err != nil {
		return 0, fmt.Errorf("tracedb: insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("tracedb: run id: %w", err)
	}

	for _, st := range s.Stubs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stubs (run_id, kind, base, token, expected, impl, counter) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, st.Kind, int64(st.Base), int64(st.Token), int64(st.ExpectedType), int64(st.Impl), st.Counter); err != nil {
			return 0, fmt.Errorf("tracedb: insert stub: %w", err)
		}
	}
	for _, ch := range s.Buckets {
		for pos, e := range ch.Entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entries (run_id, bucket, pos, type, token, target) VALUES (?, ?, ?, ?, ?, ?)`,
				runID, ch.Bucket, pos, int64(e.Type), int64(e.Token), int64(e.Target)); err != nil {
				return 0, fmt.Errorf("tracedb: insert entry: %w", err)
			}
		}
	}
	for _, c := range s.Cells {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cells (run_id, name, token, state) VALUES (?, ?, ?, ?)`,
			runID, c.Name, int64(c.Token), c.State); err != nil {
			return 0, fmt.Errorf("tracedb: insert cell: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("tracedb: commit: %w", err)
	}
	return runID, nil
}

// Run summarises one stored snapshot.
type Run struct {
	ID            int64
	CacheID       string
	TakenAt       int64
	ResolverCalls int64
	Promotions    int64
	HitRate       float64
	CacheFull     int64
	LostRewrites  int64
}

// Runs lists stored runs, oldest first.
func (d *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, cache_id, taken_at, resolver_calls, promotions, hit_rate, cache_full, lost_rewrites FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("tracedb: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.CacheID, &r.TakenAt, &r.ResolverCalls, &r.Promotions, &r.HitRate, &r.CacheFull, &r.LostRewrites); err != nil {
			return nil, fmt.Errorf("tracedb: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CellStates counts the call sites of a run by state.
func (d *DB) CellStates(ctx context.Context, runID int64) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM cells WHERE run_id = ? GROUP BY state`, runID)
	if err != nil {
		return nil, fmt.Errorf("tracedb: query cells: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("tracedb: scan cell state: %w", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}
