package domain

import (
	"context"
	"time"
)

// SessionStore handles persistent storage of chat sessions and their raw
// message logs. The log is append-only; the display layer recomputes merged
// turns from it on every read.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s Session) error
	ListSessions(ctx context.Context, limit int) ([]SessionInfo, error)
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	LoadMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	Close() error
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionInfo summarizes a session for listing.
type SessionInfo struct {
	SessionID    string `json:"sessionId"`
	Title        string `json:"title"`
	CreatedAt    int64  `json:"createdAt"` // Unix milliseconds
	MessageCount int    `json:"messageCount"`
	Preview      string `json:"preview,omitempty"` // first user message, truncated
}
