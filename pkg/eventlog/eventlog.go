// Package eventlog provides access to the validator's SQLite audit log: a
// read-write handle for the dispatch loop and a read-only Reader for
// recnet-dash and the status CLI.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"recnet/pkg/protocol"
)

// Event represents a single row from the audit log.
type Event struct {
	ID        int64
	Type      string
	Source    string
	RequestID string
	MinerUID  int // -1 when no miner is associated with the event
	Payload   string
	CreatedAt time.Time
}

// Emission represents one recorded weight emission cycle.
type Emission struct {
	ID        int64
	UIDs      string // JSON int array
	Weights   string // JSON uint16 array
	OK        bool
	Message   string
	CreatedAt time.Time
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// RequestID filters events to a single dispatch request.
	RequestID string

	// MinerUID filters to events about one miner; nil means no filter.
	MinerUID *int

	// EventType filters to a specific event type (e.g. "resync",
	// "request_completed", "emission_submitted").
	EventType string

	// After filters events created at or after this time.
	After *time.Time

	// Before filters events created at or before this time.
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Open opens (or creates) the audit database read-write with WAL and applies
// the schema.
func Open(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// Reader provides read-only access to the audit log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the audit database in read-only mode with WAL so reads
// never block the running validator.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// QueryEvents retrieves events matching the filter, newest first. Returns an
// empty slice when nothing matches.
func (r *Reader) QueryEvents(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e            Event
			uid          sql.NullInt64
			createdAtStr string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.RequestID, &uid, &e.Payload, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.MinerUID = -1
		if uid.Valid {
			e.MinerUID = int(uid.Int64)
		}
		if e.CreatedAt, err = parseCreatedAt(createdAtStr); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// QueryEmissions retrieves the most recent emission cycles, newest first.
func (r *Reader) QueryEmissions(ctx context.Context, limit int) ([]Emission, error) {
	query := "SELECT id, uids, weights, ok, message, created_at FROM emissions ORDER BY id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query emissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Emission
	for rows.Next() {
		var (
			em           Emission
			okInt        int
			createdAtStr string
		)
		if err := rows.Scan(&em.ID, &em.UIDs, &em.Weights, &okInt, &em.Message, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan emission: %w", err)
		}
		em.OK = okInt != 0
		if em.CreatedAt, err = parseCreatedAt(createdAtStr); err != nil {
			return nil, err
		}
		out = append(out, em)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emissions: %w", err)
	}
	return out, nil
}

// parseCreatedAt handles the timestamp formats SQLite emits for
// CURRENT_TIMESTAMP columns.
func parseCreatedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse created_at: %w", err)
		}
	}
	return t, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, source, request_id, miner_uid, payload, created_at FROM events WHERE 1=1"

	if opts.RequestID != "" {
		conditions = append(conditions, "request_id = ?")
		args = append(args, opts.RequestID)
	}
	if opts.MinerUID != nil {
		conditions = append(conditions, "miner_uid = ?")
		args = append(args, *opts.MinerUID)
	}
	if opts.EventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.EventType)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.Format("2006-01-02 15:04:05"))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.Format("2006-01-02 15:04:05"))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}

// DefaultDBPath returns the default path to the validator's audit database.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".recnet", "validator.db")
}
