// Package storage keeps a ledger of sessions and their engine events in a
// SQLite database under the store directory.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/san-kum/aiwater/internal/dynamo"
)

const dbName = "ledger.db"

var ErrNotFound = errors.New("storage: session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	events     INTEGER NOT NULL DEFAULT 0,
	total_cost REAL    NOT NULL DEFAULT 0,
	mass       REAL    NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL REFERENCES sessions(id),
	kind       TEXT    NOT NULL,
	at         INTEGER NOT NULL,
	cost       REAL    NOT NULL,
	duration   REAL    NOT NULL,
	rate       REAL    NOT NULL,
	baseline   REAL    NOT NULL,
	mass       REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS events_session ON events(session_id, id);
`

type Store struct {
	baseDir string
	db      *sql.DB
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Init creates the store directory, opens the database and applies the
// schema. It must be called before any other method.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return err
	}
	dsn := filepath.Join(s.baseDir, dbName) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps the ledger free of SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type SessionMetadata struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Events    int       `json:"events"`
	TotalCost float64   `json:"totalCost"`
	Mass      float64   `json:"mass"`
}

// Record appends ev to the ledger, creating its session on first sight.
// Only admitted events count towards the session's events and cost.
func (s *Store) Record(ctx context.Context, ev dynamo.Event) error {
	if s.db == nil {
		return fmt.Errorf("storage is not initialised")
	}
	if ev.SessionID == "" {
		return fmt.Errorf("event has no session id")
	}

	at := ev.Time.UTC().UnixNano()
	var admitted int
	var cost float64
	if ev.Kind == dynamo.EventAdmitted {
		admitted, cost = 1, ev.Cost
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		ev.SessionID, at, at); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, events = events + ?, total_cost = total_cost + ?, mass = MAX(mass, ?) WHERE id = ?`,
		at, admitted, cost, ev.Mass, ev.SessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, kind, at, cost, duration, rate, baseline, mass) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, string(ev.Kind), at, ev.Cost, ev.Duration, ev.Rate, ev.Baseline, ev.Mass); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// List returns all sessions, most recently started first. A store that was
// never initialised lists nothing.
func (s *Store) List(ctx context.Context) ([]SessionMetadata, error) {
	if s.db == nil {
		return []SessionMetadata{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, updated_at, events, total_cost, mass FROM sessions ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]SessionMetadata, 0)
	for rows.Next() {
		meta, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *meta)
	}
	return sessions, rows.Err()
}

func (s *Store) Load(ctx context.Context, sessionID string) (*SessionMetadata, error) {
	if s.db == nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, updated_at, events, total_cost, mass FROM sessions WHERE id = ?`, sessionID)
	meta, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return meta, err
}

// LoadEvents returns the session's events in the order they were recorded.
func (s *Store) LoadEvents(ctx context.Context, sessionID string) ([]dynamo.Event, error) {
	if _, err := s.Load(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, at, cost, duration, rate, baseline, mass FROM events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]dynamo.Event, 0)
	for rows.Next() {
		var (
			kind string
			at   int64
			ev   dynamo.Event
		)
		if err := rows.Scan(&kind, &at, &ev.Cost, &ev.Duration, &ev.Rate, &ev.Baseline, &ev.Mass); err != nil {
			return nil, err
		}
		ev.Kind = dynamo.EventKind(kind)
		ev.SessionID = sessionID
		ev.Time = time.Unix(0, at).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*SessionMetadata, error) {
	var (
		meta             SessionMetadata
		started, updated int64
	)
	if err := sc.Scan(&meta.ID, &started, &updated, &meta.Events, &meta.TotalCost, &meta.Mass); err != nil {
		return nil, err
	}
	meta.StartedAt = time.Unix(0, started).UTC()
	meta.UpdatedAt = time.Unix(0, updated).UTC()
	return &meta, nil
}
