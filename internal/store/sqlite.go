package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"edgechat/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SessionStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		title       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role          TEXT NOT NULL,
		content       TEXT,
		thinking      TEXT,
		tool_calls    TEXT,
		tool_call_id  TEXT,
		tool_name     TEXT,
		timestamp     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess domain.Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess domain.Session) error {
	sess.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title=?, updated_at=? WHERE id=?`,
		sess.Title, sess.UpdatedAt, sess.ID,
	)
	return err
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]domain.SessionInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.title, s.created_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
		        COALESCE((SELECT m.content FROM messages m
		                  WHERE m.session_id = s.id AND m.role = 'user'
		                  ORDER BY m.timestamp ASC LIMIT 1), '')
		 FROM sessions s ORDER BY s.updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []domain.SessionInfo
	for rows.Next() {
		var info domain.SessionInfo
		var createdAt time.Time
		if err := rows.Scan(&info.SessionID, &info.Title, &createdAt,
			&info.MessageCount, &info.Preview); err != nil {
			return nil, err
		}
		info.CreatedAt = createdAt.UnixMilli()
		if len(info.Preview) > 80 {
			info.Preview = info.Preview[:80]
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	// Messages cascade when foreign keys are enforced; delete explicitly so
	// the log is cleared even without PRAGMA foreign_keys.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = domain.NowMillis()
	}

	var toolCalls string
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err == nil {
			toolCalls = string(data)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, thinking, tool_calls, tool_call_id, tool_name, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, msg.Role, msg.Content, msg.Thinking, toolCalls,
		msg.ToolCallID, msg.ToolName, msg.Timestamp,
	)
	if err != nil {
		return err
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID,
	)
	return nil
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 200
	}

	// Get last N messages, ordered oldest first
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, thinking, tool_calls, tool_call_id, tool_name, timestamp
		 FROM messages WHERE session_id = ?
		 ORDER BY timestamp DESC, rowid DESC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var content, thinking, toolCalls, toolCallID, toolName sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &content, &thinking,
			&toolCalls, &toolCallID, &toolName, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Content = content.String
		m.Thinking = thinking.String
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		if toolCalls.String != "" {
			var tcs []domain.ToolCall
			if err := json.Unmarshal([]byte(toolCalls.String), &tcs); err == nil {
				m.ToolCalls = tcs
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
