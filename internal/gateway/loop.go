// Package gateway runs the message loop between user channels and the
// external assistant backend: persist what the user said, forward it, persist
// the assistant's records verbatim, and hand channels the merged display view.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"edgechat/internal/assistant"
	"edgechat/internal/display"
	"edgechat/internal/domain"
	"edgechat/internal/metrics"
	"edgechat/internal/session"
)

const (
	defaultHistoryLimit = 200
	defaultConcurrency  = 3
)

// Loop consumes inbound bus messages and produces merged assistant turns.
type Loop struct {
	assistant    assistant.Client
	sessions     *session.Manager
	bus          domain.MessageBus
	logger       *slog.Logger
	concurrency  int
	historyLimit int
}

type LoopConfig struct {
	Assistant    assistant.Client
	Sessions     *session.Manager
	Bus          domain.MessageBus
	Logger       *slog.Logger
	Concurrency  int // max parallel messages (default 3)
	HistoryLimit int
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Loop{
		assistant:    cfg.Assistant,
		sessions:     cfg.Sessions,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
		concurrency:  cfg.Concurrency,
		historyLimit: cfg.HistoryLimit,
	}
}

// Run consumes inbound messages and processes them with bounded concurrency.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("gateway loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("gateway loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, gateway loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// ProcessDirect processes a message synchronously and returns the merged
// assistant turn, bypassing the bus.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, sessionID string) (domain.DisplayMessage, error) {
	return l.handleMessage(ctx, domain.InboundMessage{
		Channel:   channel,
		SessionID: sessionID,
		SenderID:  "user",
		Content:   content,
		Timestamp: time.Now(),
	})
}

// processMessage handles one inbound message and routes the merged turn back
// through the bus.
func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"session", msg.SessionID,
		"content_len", len(msg.Content),
	)

	turn, err := l.handleMessage(ctx, msg)
	if err != nil {
		l.logger.Error("message processing failed", "error", err)
		turn = domain.DisplayMessage{
			Role:      domain.RoleAssistant,
			Content:   fmt.Sprintf("Sorry, I encountered an error: %s", err.Error()),
			Timestamp: domain.NowMillis(),
		}
	}

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel:   msg.Channel,
		SessionID: msg.SessionID,
		Turn:      turn,
		Format:    "markdown",
	})
}

// handleMessage is the main flow: persist user record → call assistant →
// persist assistant records → return the merged display tail.
func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) (domain.DisplayMessage, error) {
	metrics.MessagesTotal.Inc()

	sessionID, err := l.sessions.GetOrCreate(ctx, msg.SessionID)
	if err != nil {
		return domain.DisplayMessage{}, fmt.Errorf("session error: %w", err)
	}

	history, err := l.sessions.History(ctx, sessionID, l.historyLimit)
	if err != nil {
		l.logger.Warn("failed to load history, continuing without it", "error", err)
		history = nil
	}

	userRecord := domain.Message{
		Role:      domain.RoleUser,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UnixMilli(),
	}
	if msg.Timestamp.IsZero() {
		userRecord.Timestamp = domain.NowMillis()
	}
	if err := l.sessions.Append(ctx, sessionID, userRecord); err != nil {
		return domain.DisplayMessage{}, fmt.Errorf("save user message: %w", err)
	}

	start := time.Now()
	records, err := l.assistant.Chat(ctx, sessionID, msg.Content)
	metrics.AssistantRequestsTotal.Inc()
	metrics.AssistantLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.DisplayMessage{}, fmt.Errorf("assistant: %w", err)
	}

	// Persist the records as delivered, only repairing bodies that arrive
	// doubled end-to-end in a single string. Fragmentation across records is
	// left intact for the display merger.
	for _, rec := range records {
		rec.Content = display.CollapseDoubled(rec.Content)
		if err := l.sessions.Append(ctx, sessionID, rec); err != nil {
			l.logger.Warn("failed to save assistant record", "error", err, "session", sessionID)
		}
	}

	// Auto-generate title from the first user message.
	if len(history) == 0 {
		l.sessions.UpdateTitle(ctx, sessionID, msg.Content)
	}

	turns, err := l.sessions.DisplayHistory(ctx, sessionID, l.historyLimit)
	if err != nil {
		return domain.DisplayMessage{}, fmt.Errorf("display history: %w", err)
	}

	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleAssistant {
			metrics.MergedTurnsTotal.Inc()
			return turns[i], nil
		}
	}
	return domain.DisplayMessage{}, fmt.Errorf("assistant produced no displayable turn")
}
