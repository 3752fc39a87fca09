package eventlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "validator.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return path, db
}

func insertEvent(t *testing.T, db *sql.DB, evType, requestID string, uid any, payload string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO events (type, source, request_id, miner_uid, payload) VALUES (?, 'validator', ?, ?, ?)`,
		evType, requestID, uid, payload,
	)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func TestOpenAppliesSchema(t *testing.T) {
	_, db := openTestDB(t)
	insertEvent(t, db, "resync", "", nil, "membership now 4")
	if _, err := db.Exec(`INSERT INTO emissions (uids, weights, ok, message) VALUES ('[0,1]', '[100,200]', 1, 'ok')`); err != nil {
		t.Fatalf("insert emission: %v", err)
	}
}

func TestReaderMissingDatabase(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "absent.db")); err == nil {
		t.Fatal("NewReader on a missing file returned nil error")
	}
}

func TestQueryEventsFilters(t *testing.T) {
	path, db := openTestDB(t)
	insertEvent(t, db, "request_completed", "req-1", 3, "5 results")
	insertEvent(t, db, "request_completed", "req-2", 7, "5 results")
	insertEvent(t, db, "resync", "", nil, "membership now 4")
	insertEvent(t, db, "scores_updated", "req-1", nil, "2 rewards")

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	all, err := r.QueryEvents(ctx, QueryOpts{})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("unfiltered query = %d events, want 4", len(all))
	}
	if all[0].Type != "scores_updated" {
		t.Fatalf("first event = %q, want newest first", all[0].Type)
	}

	byRequest, err := r.QueryEvents(ctx, QueryOpts{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("QueryEvents by request: %v", err)
	}
	if len(byRequest) != 2 {
		t.Fatalf("request filter = %d events, want 2", len(byRequest))
	}

	uid := 7
	byMiner, err := r.QueryEvents(ctx, QueryOpts{MinerUID: &uid})
	if err != nil {
		t.Fatalf("QueryEvents by miner: %v", err)
	}
	if len(byMiner) != 1 || byMiner[0].RequestID != "req-2" {
		t.Fatalf("miner filter = %+v, want the req-2 completion", byMiner)
	}

	limited, err := r.QueryEvents(ctx, QueryOpts{EventType: "request_completed", Limit: 1})
	if err != nil {
		t.Fatalf("QueryEvents limited: %v", err)
	}
	if len(limited) != 1 || limited[0].RequestID != "req-2" {
		t.Fatalf("type+limit filter = %+v, want newest completion", limited)
	}
}

func TestQueryEventsNullMinerUID(t *testing.T) {
	path, db := openTestDB(t)
	insertEvent(t, db, "resync", "", nil, "")

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = r.Close() }()

	events, err := r.QueryEvents(context.Background(), QueryOpts{})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 1 || events[0].MinerUID != -1 {
		t.Fatalf("events = %+v, want single event with MinerUID -1", events)
	}
}

func TestQueryEmissions(t *testing.T) {
	path, db := openTestDB(t)
	for i, ok := range []int{1, 0, 1} {
		if _, err := db.Exec(
			`INSERT INTO emissions (uids, weights, ok, message) VALUES ('[0]', ?, ?, 'msg')`,
			"[100]", ok,
		); err != nil {
			t.Fatalf("insert emission %d: %v", i, err)
		}
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = r.Close() }()

	emissions, err := r.QueryEmissions(context.Background(), 2)
	if err != nil {
		t.Fatalf("QueryEmissions: %v", err)
	}
	if len(emissions) != 2 {
		t.Fatalf("limited query = %d emissions, want 2", len(emissions))
	}
	if !emissions[0].OK || emissions[1].OK {
		t.Fatalf("emissions order wrong: %+v, want newest first", emissions)
	}
}
