package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the launch journal: an SQLite record of workload launches, reaped
// children and supervisor lifecycle events.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The controller reads while the supervisor writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

func (db *DB) initSchema() error {
	schema := `
	-- Workload launch attempts
	CREATE TABLE IF NOT EXISTS launches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		intermediate_pid INTEGER,
		workload_pid INTEGER,
		argv TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error_kind TEXT,
		error TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Reaped children
	CREATE TABLE IF NOT EXISTS exits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pid INTEGER NOT NULL,
		status TEXT NOT NULL,
		launched INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Supervisor lifecycle events
	CREATE TABLE IF NOT EXISTS supervisor_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_launches_timestamp ON launches(timestamp);
	CREATE INDEX IF NOT EXISTS idx_exits_pid ON exits(pid);
	CREATE INDEX IF NOT EXISTS idx_supervisor_events_timestamp ON supervisor_events(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Launch outcomes
const (
	OutcomeLaunched = "launched"
	OutcomeFailed   = "failed"
)

// Launch represents one launch attempt
type Launch struct {
	ID              int64
	Source          string
	IntermediatePID int
	WorkloadPID     int
	Argv            []string
	Outcome         string
	ErrorKind       string
	Error           string
	Timestamp       time.Time
}

// LogLaunch records a launch attempt. argv is stored as a JSON array so
// arguments containing spaces read back unchanged.
func (db *DB) LogLaunch(l Launch) error {
	argv, err := json.Marshal(l.Argv)
	if err != nil {
		return fmt.Errorf("failed to encode argv: %w", err)
	}
	return db.execWithRetry(
		`INSERT INTO launches (source, intermediate_pid, workload_pid, argv, outcome, error_kind, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Source, l.IntermediatePID, l.WorkloadPID, string(argv), l.Outcome, l.ErrorKind, l.Error, time.Now(),
	)
}

// Exit represents a reaped child
type Exit struct {
	ID        int64
	PID       int
	Status    string
	Launched  bool
	Timestamp time.Time
}

// LogExit records a reaped child and whether it was a workload we launched
func (db *DB) LogExit(pid int, status string, launched bool) error {
	return db.execWithRetry(
		`INSERT INTO exits (pid, status, launched, timestamp) VALUES (?, ?, ?, ?)`,
		pid, status, launched, time.Now(),
	)
}

// SupervisorEvent represents a supervisor lifecycle event
type SupervisorEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// LogSupervisorEvent logs a supervisor lifecycle event to the database
func (db *DB) LogSupervisorEvent(eventType, details string) error {
	return db.execWithRetry(
		`INSERT INTO supervisor_events (event_type, details, timestamp) VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
}

// execWithRetry retries briefly while a reader holds the database locked.
// PID 1 must not stall on the journal, so it gives up after three tries.
func (db *DB) execWithRetry(query string, args ...any) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(query, args...)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to write journal after %d retries: database locked", maxRetries)
}

// GetRecentLaunches retrieves recent launch attempts, newest first
func (db *DB) GetRecentLaunches(limit int) ([]Launch, error) {
	rows, err := db.conn.Query(
		`SELECT id, source, intermediate_pid, workload_pid, argv, outcome,
		        COALESCE(error_kind, ''), COALESCE(error, ''), timestamp
		 FROM launches
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var launches []Launch
	for rows.Next() {
		var l Launch
		var argv string
		if err := rows.Scan(&l.ID, &l.Source, &l.IntermediatePID, &l.WorkloadPID, &argv,
			&l.Outcome, &l.ErrorKind, &l.Error, &l.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(argv), &l.Argv); err != nil {
			return nil, fmt.Errorf("failed to decode argv of launch %d: %w", l.ID, err)
		}
		launches = append(launches, l)
	}
	return launches, rows.Err()
}

// GetRecentExits retrieves recently reaped children, newest first
func (db *DB) GetRecentExits(limit int) ([]Exit, error) {
	rows, err := db.conn.Query(
		`SELECT id, pid, status, launched, timestamp
		 FROM exits
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exits []Exit
	for rows.Next() {
		var e Exit
		if err := rows.Scan(&e.ID, &e.PID, &e.Status, &e.Launched, &e.Timestamp); err != nil {
			return nil, err
		}
		exits = append(exits, e)
	}
	return exits, rows.Err()
}

// GetRecentSupervisorEvents retrieves recent supervisor events, newest first
func (db *DB) GetRecentSupervisorEvents(limit int) ([]SupervisorEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, event_type, COALESCE(details, ''), timestamp
		 FROM supervisor_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SupervisorEvent
	for rows.Next() {
		var e SupervisorEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
