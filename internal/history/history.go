// Package history persists an append-only log of composed commands and
// their outcomes to a local sqlite database. It is an audit trail, not
// session state: sessions themselves stay in memory.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/linasec/lina/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL,
	request    TEXT    NOT NULL,
	tool       TEXT    NOT NULL DEFAULT '',
	command    TEXT    NOT NULL DEFAULT '',
	risk_tier  TEXT    NOT NULL DEFAULT '',
	outcome    TEXT    NOT NULL DEFAULT '',
	created_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_session
	ON interactions (session_id, id);
`

// Entry is one recorded interaction.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Request   string    `json:"request"`
	Tool      string    `json:"tool"`
	Command   string    `json:"command"`
	RiskTier  string    `json:"risk_tier"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the sqlite handle. Safe for concurrent use; database/sql
// serializes access to the single sqlite connection pool.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and ensures the
// schema exists. An empty path disables persistence and returns a nil
// Store, which all methods tolerate.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one interaction. Errors are logged and swallowed so a
// broken audit log never blocks the request path.
func (s *Store) Record(ctx context.Context, e Entry) {
	if s == nil {
		return
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (session_id, request, tool, command, risk_tier, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Request, e.Tool, e.Command, e.RiskTier, e.Outcome,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		logger.Global().Warn("history: record failed: %v", err)
	}
}

// Recent returns up to limit interactions for a session, newest first.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, request, tool, command, risk_tier, outcome, created_at
		 FROM interactions WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Request, &e.Tool, &e.Command, &e.RiskTier, &e.Outcome, &created); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
