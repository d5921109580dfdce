package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Event type constants: process events
const (
	EventProcessStarted = "process.started"
	EventProcessStopped = "process.stopped"
	EventCircuitOpened  = "circuit.opened"
	EventCircuitClosed  = "circuit.closed"
)

// Event type constants: conversation events
const (
	EventMessageReceived = "message.received"
	EventGreetingSent    = "greeting.sent"
	EventTurnStarted     = "turn.started"
	EventTurnCompleted   = "turn.completed"
	EventTurnFailed      = "turn.failed"
	EventReplySent       = "reply.sent"
	EventReplyFailed     = "reply.failed"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == MemoryPath {
		dsn = path
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates the events table.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_type_id ON events(event_type, id);
	`)
	return err
}

// DeriveOffset returns the next Telegram polling offset derived from the
// recorded message.received events. Returns 0 if none were recorded.
func DeriveOffset(database *sql.DB) (int64, error) {
	var offset int64
	err := database.QueryRow(
		`SELECT COALESCE(MAX(CAST(json_extract(payload, '$.update_id') AS INTEGER)) + 1, 0)
		 FROM events WHERE event_type = ?`,
		EventMessageReceived,
	).Scan(&offset)
	return offset, err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// Event is a stored journal row.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  *int64
	Type      string
	Payload   map[string]any
}

// EventsByType returns all events of one type, oldest first.
func EventsByType(db *sql.DB, eventType string) ([]Event, error) {
	rows, err := db.Query(
		`SELECT id, timestamp, parent_id, event_type, payload FROM events WHERE event_type = ? ORDER BY id`,
		eventType,
	)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestRoot returns the id of the most recent process.started event for role.
func LatestRoot(db *sql.DB, role string) (int64, error) {
	var id int64
	err := db.QueryRow(
		`SELECT id FROM events WHERE event_type = ?
		 AND json_extract(payload, '$.role') = ?
		 ORDER BY id DESC LIMIT 1`,
		EventProcessStarted, role,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no %s process.started event found", role)
	}
	return id, err
}

// Subtree returns rootID and all of its descendants, oldest first.
func Subtree(db *sql.DB, rootID int64) ([]Event, error) {
	rows, err := db.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			parent  sql.NullInt64
			payload sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &parent, &ev.Type, &payload); err != nil {
			return nil, err
		}
		if parent.Valid {
			p := parent.Int64
			ev.ParentID = &p
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of event %d: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Journal is an append-only audit trail backed by the events table.
type Journal struct {
	DB *sql.DB
}

func (j *Journal) LogEvent(parentID *int64, eventType string, payload map[string]any) (int64, error) {
	return LogEvent(j.DB, parentID, eventType, payload)
}
