package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"edgechat/internal/display"
	"edgechat/internal/domain"

	"github.com/google/uuid"
)

const defaultTitle = "New session"

// Manager owns the authoritative chat log: session lifecycle, appends, and
// the display projection read by channels.
type Manager struct {
	store  domain.SessionStore
	logger *slog.Logger
	mu     sync.RWMutex
}

func NewManager(store domain.SessionStore, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// GetOrCreate returns the session id, creating the session if needed.
// An empty id requests a fresh session.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// Fast path: read lock (most calls hit here)
	m.mu.RLock()
	sess, err := m.store.GetSession(ctx, sessionID)
	m.mu.RUnlock()
	if err != nil {
		return "", err
	}
	if sess != nil {
		return sess.ID, nil
	}

	// Slow path: write lock, double-check
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err = m.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess != nil {
		return sess.ID, nil
	}

	if err := m.store.CreateSession(ctx, domain.Session{ID: sessionID, Title: defaultTitle}); err != nil {
		return "", err
	}

	m.logger.Info("created new session", "session", sessionID)
	return sessionID, nil
}

func (m *Manager) Append(ctx context.Context, sessionID string, msg domain.Message) error {
	return m.store.AppendMessage(ctx, sessionID, msg)
}

// History returns the raw message log, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	return m.store.LoadMessages(ctx, sessionID, limit)
}

// DisplayHistory returns the log as merged display turns: tool records
// dropped, fragmented assistant turns coalesced.
func (m *Manager) DisplayHistory(ctx context.Context, sessionID string, limit int) ([]domain.DisplayMessage, error) {
	msgs, err := m.store.LoadMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return display.MergeForDisplay(msgs), nil
}

func (m *Manager) List(ctx context.Context, limit int) ([]domain.SessionInfo, error) {
	return m.store.ListSessions(ctx, limit)
}

// Clear deletes a session and its messages, effectively starting fresh.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		m.logger.Warn("failed to clear session", "session", sessionID, "err", err)
		return err
	}
	m.logger.Info("session cleared", "session", sessionID)
	return nil
}

// UpdateTitle sets the session title from the first user message, once.
func (m *Manager) UpdateTitle(ctx context.Context, sessionID string, firstUserMsg string) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		return
	}
	if sess.Title != "" && sess.Title != defaultTitle {
		return
	}
	sess.Title = generateTitle(firstUserMsg)
	if err := m.store.UpdateSession(ctx, *sess); err != nil {
		m.logger.Warn("failed to update session title", "session", sessionID, "err", err)
	}
}

func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return defaultTitle
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 60 {
		cut := strings.LastIndex(msg[:60], " ")
		if cut < 20 {
			cut = 60
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
