package tracedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chazu/vcall/snapshot"
)

func sampleSnapshot(id string, promotions uint64) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		CacheID: id,
		TakenAt: 1700000000,
		Options: snapshot.Options{PromotionThreshold: 100, CacheBits: 12},
		Stats: snapshot.Stats{
			ResolverCalls: 10,
			DispatchHits:  90,
			Promotions:    promotions,
			CacheEntries:  3,
			HitRate:       90,
			CacheFull:     4,
			LostRewrites:  1,
		},
		Stubs: []snapshot.Stub{
			{Kind: "lookup", Base: 0x1000, Size: 32, Token: 1},
			{Kind: "dispatch", Base: 0x2000, Size: 32, ExpectedType: 0x10, Impl: 0x99},
			{Kind: "resolve", Base: 0x3000, Size: 64, Token: 1, Counter: -1},
		},
		Buckets: []snapshot.Chain{
			{Bucket: 5, Entries: []snapshot.Entry{{Type: 0x10, Token: 1, Target: 0x99}, {Type: 0x20, Token: 1, Target: 0x98}}},
			{Bucket: 9, Entries: []snapshot.Entry{{Type: 0x30, Token: 1, Target: 0x97}}},
		},
		Cells: []snapshot.Cell{
			{Name: "a", Token: 1, State: "dispatch"},
			{Name: "b", Token: 1, State: "resolve"},
			{Name: "c", Token: 2, State: "resolve"},
			{Name: "d", Token: 3, State: "lookup"},
		},
	}
}

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWriteSnapshot(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	id1, err := db.WriteSnapshot(ctx, sampleSnapshot("first", 0))
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	id2, err := db.WriteSnapshot(ctx, sampleSnapshot("second", 2))
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("run ids %d, %d not increasing", id1, id2)
	}

	runs, err := db.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Runs = %d, want 2", len(runs))
	}
	if runs[0].CacheID != "first" || runs[1].CacheID != "second" {
		t.Errorf("run order = %q, %q", runs[0].CacheID, runs[1].CacheID)
	}
	if runs[1].Promotions != 2 || runs[1].ResolverCalls != 10 || runs[1].HitRate != 90 ||
		runs[1].CacheFull != 4 || runs[1].LostRewrites != 1 {
		t.Errorf("run = %+v", runs[1])
	}

	states, err := db.CellStates(ctx, id1)
	if err != nil {
		t.Fatalf("CellStates: %v", err)
	}
	want := map[string]int{"dispatch": 1, "resolve": 2, "lookup": 1}
	for state, n := range want {
		if states[state] != n {
			t.Errorf("cells in %s = %d, want %d", state, states[state], n)
		}
	}

	var entries int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE run_id = ?`, id2).Scan(&entries); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if entries != 3 {
		t.Errorf("entries = %d, want 3", entries)
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.WriteSnapshot(context.Background(), sampleSnapshot("kept", 1)); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	runs, err := db.Runs(context.Background())
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].CacheID != "kept" {
		t.Errorf("runs after reopen = %+v", runs)
	}
}

func TestCellStatesUnknownRun(t *testing.T) {
	db := openTemp(t)
	states, err := db.CellStates(context.Background(), 42)
	if err != nil {
		t.Fatalf("CellStates: %v", err)
	}
	if len(states) != 0 {
		t.Errorf("states = %v, want empty", states)
	}
}
