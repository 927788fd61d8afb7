package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/boat-builder/viva"
)

var _ Store = &SQLiteStore{}

// SQLiteStore persists session state in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath and initializes the schema if
// it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS histories (
		session_id TEXT PRIMARY KEY,
		messages TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tool_outcomes (
		session_id TEXT NOT NULL,
		tool_use_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, tool_use_id)
	);
	CREATE TABLE IF NOT EXISTS exchanges (
		session_id TEXT NOT NULL,
		exchange_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, exchange_id)
	);`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveHistory stores the session's full turn history wholesale.
func (s *SQLiteStore) SaveHistory(ctx context.Context, sessionID string, msgs []viva.Message) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	query := `
	INSERT INTO histories (session_id, messages, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(payload), time.Now()); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// LoadHistory returns the stored history, or nil when the session has none.
func (s *SQLiteStore) LoadHistory(ctx context.Context, sessionID string) ([]viva.Message, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT messages FROM histories WHERE session_id = ?", sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var msgs []viva.Message
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return msgs, nil
}

// SaveToolOutcome upserts one tool outcome. A superseding write keeps the
// original created_at so arrival order survives.
func (s *SQLiteStore) SaveToolOutcome(ctx context.Context, sessionID, toolUseID string, outcome viva.ToolOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode tool outcome: %w", err)
	}

	query := `
	INSERT INTO tool_outcomes (session_id, tool_use_id, outcome, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id, tool_use_id) DO UPDATE SET outcome = excluded.outcome, updated_at = excluded.updated_at
	`
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, sessionID, toolUseID, string(payload), now, now); err != nil {
		return fmt.Errorf("failed to save tool outcome: %w", err)
	}
	return nil
}

// LoadToolOutcomes returns all recorded outcomes for the session keyed by
// tool_use id.
func (s *SQLiteStore) LoadToolOutcomes(ctx context.Context, sessionID string) (map[string]viva.ToolOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tool_use_id, outcome FROM tool_outcomes WHERE session_id = ? ORDER BY created_at", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make(map[string]viva.ToolOutcome)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var outcome viva.ToolOutcome
		if err := json.Unmarshal([]byte(payload), &outcome); err != nil {
			return nil, fmt.Errorf("failed to decode tool outcome %s: %w", id, err)
		}
		outcomes[id] = outcome
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return outcomes, nil
}

// SaveExchange upserts one recorded API exchange by its id.
func (s *SQLiteStore) SaveExchange(ctx context.Context, sessionID string, ex viva.Exchange) error {
	payload, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("failed to encode exchange: %w", err)
	}

	query := `
	INSERT INTO exchanges (session_id, exchange_id, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id, exchange_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, sessionID, ex.ID, string(payload), now, now); err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}
	return nil
}

// LoadExchanges returns the session's exchange log in first-arrival order.
func (s *SQLiteStore) LoadExchanges(ctx context.Context, sessionID string) ([]viva.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT body FROM exchanges WHERE session_id = ? ORDER BY created_at, exchange_id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var out []viva.Exchange
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var ex viva.Exchange
		if err := json.Unmarshal([]byte(payload), &ex); err != nil {
			return nil, fmt.Errorf("failed to decode exchange: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// ClearSession removes all persisted state for the session.
func (s *SQLiteStore) ClearSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, table := range []string{"histories", "tool_outcomes", "exchanges"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table), sessionID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}
