package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatherlabs/gather/pkg/llm"

	_ "modernc.org/sqlite"
)

const turnTable = "conversation_turns"

// SQLiteStore persists conversation turns in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at path and returns
// a store with the schema ensured.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_call_id TEXT,
		tool_calls TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL
	)`, turnTable)
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session
		ON %s (session_id, seq)`, turnTable, turnTable)
	if _, err := db.Exec(idx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

// Append adds a turn to the session history.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.SessionID == "" {
		turn.SessionID = sessionID
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	var toolCalls, metadata []byte
	var err error
	if len(turn.ToolCalls) > 0 {
		if toolCalls, err = json.Marshal(turn.ToolCalls); err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
	}
	if len(turn.Metadata) > 0 {
		if metadata, err = json.Marshal(turn.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	// seq is allocated under the same statement to keep append order
	// stable even when ids and timestamps collide.
	stmt := fmt.Sprintf(`INSERT INTO %s
		(id, session_id, seq, role, content, tool_call_id, tool_calls, metadata, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM %s WHERE session_id = ?), ?, ?, ?, ?, ?, ?)`,
		turnTable, turnTable)
	_, err = s.db.ExecContext(ctx, stmt,
		turn.ID, sessionID, sessionID, string(turn.Role), turn.Content,
		turn.ToolCallID, nullableText(toolCalls), nullableText(metadata),
		turn.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Turns retrieves all turns for a session in append order.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	stmt := fmt.Sprintf(`SELECT id, session_id, role, content, tool_call_id, tool_calls, metadata, created_at
		FROM %s WHERE session_id = ? ORDER BY seq ASC`, turnTable)
	rows, err := s.db.QueryContext(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var turn Turn
		var role string
		var toolCallID, toolCalls, metadata sql.NullString
		var createdAt int64
		if err := rows.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content,
			&toolCallID, &toolCalls, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = llm.Role(role)
		turn.ToolCallID = toolCallID.String
		turn.CreatedAt = time.UnixMilli(createdAt).UTC()
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &turn.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}

// Clear removes all turns for a session.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, turnTable)
	if _, err := s.db.ExecContext(ctx, stmt, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableText(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
