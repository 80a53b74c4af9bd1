package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"edgechat/internal/domain"
	"edgechat/internal/session"
	"edgechat/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// stubAssistant returns canned records, or an error.
type stubAssistant struct {
	records   []domain.Message
	err       error
	callCount int
}

func (s *stubAssistant) Name() string { return "stub" }

func (s *stubAssistant) Chat(_ context.Context, _, _ string) ([]domain.Message, error) {
	s.callCount++
	return s.records, s.err
}

func (s *stubAssistant) Healthy(_ context.Context) error { return nil }

func testSessions(t *testing.T) *session.Manager {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return session.NewManager(st, testLogger())
}

func TestProcessDirect_MergesFragmentedTurn(t *testing.T) {
	stub := &stubAssistant{
		records: []domain.Message{
			{Role: domain.RoleTool, Content: "[]", ToolCallID: "tc1"},
			{Role: domain.RoleAssistant, Thinking: "looking up devices",
				ToolCalls: []domain.ToolCall{{ID: "tc1", Name: "list_devices"}}},
			{Role: domain.RoleAssistant, Content: "You have no devices yet."},
		},
	}
	sessions := testSessions(t)
	l := NewLoop(LoopConfig{Assistant: stub, Sessions: sessions, Logger: testLogger()})

	turn, err := l.ProcessDirect(context.Background(), "show devices", "cli", "s1")
	if err != nil {
		t.Fatalf("ProcessDirect failed: %v", err)
	}
	if turn.Content != "You have no devices yet." {
		t.Errorf("unexpected content: %q", turn.Content)
	}
	if turn.Thinking != "looking up devices" {
		t.Errorf("thinking not carried into merged turn: %q", turn.Thinking)
	}
	if len(turn.ToolCalls) != 1 {
		t.Errorf("tool calls not carried into merged turn: %+v", turn.ToolCalls)
	}
	if stub.callCount != 1 {
		t.Errorf("expected 1 assistant call, got %d", stub.callCount)
	}
}

func TestProcessDirect_PersistsRawLog(t *testing.T) {
	stub := &stubAssistant{
		records: []domain.Message{
			{Role: domain.RoleAssistant, Thinking: "t"},
			{Role: domain.RoleAssistant, Content: "done"},
		},
	}
	sessions := testSessions(t)
	l := NewLoop(LoopConfig{Assistant: stub, Sessions: sessions, Logger: testLogger()})

	if _, err := l.ProcessDirect(context.Background(), "go", "cli", "s1"); err != nil {
		t.Fatal(err)
	}

	// The stored log keeps the fragmentation; only the display view merges.
	raw, err := sessions.History(context.Background(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 3 { // user + 2 assistant fragments
		t.Fatalf("expected 3 raw records, got %d", len(raw))
	}

	turns, err := sessions.DisplayHistory(context.Background(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 { // user + merged assistant
		t.Fatalf("expected 2 display turns, got %d", len(turns))
	}
}

func TestProcessDirect_CollapsesDoubledBody(t *testing.T) {
	stub := &stubAssistant{
		records: []domain.Message{
			{Role: domain.RoleAssistant, Content: "All good.All good."},
		},
	}
	sessions := testSessions(t)
	l := NewLoop(LoopConfig{Assistant: stub, Sessions: sessions, Logger: testLogger()})

	turn, err := l.ProcessDirect(context.Background(), "status", "cli", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content != "All good." {
		t.Errorf("doubled body not collapsed: %q", turn.Content)
	}
}

func TestProcessDirect_AssistantError(t *testing.T) {
	stub := &stubAssistant{err: fmt.Errorf("backend down")}
	sessions := testSessions(t)
	l := NewLoop(LoopConfig{Assistant: stub, Sessions: sessions, Logger: testLogger()})

	if _, err := l.ProcessDirect(context.Background(), "hi", "cli", "s1"); err == nil {
		t.Error("expected error when the backend fails")
	}
}

func TestProcessDirect_SetsSessionTitle(t *testing.T) {
	stub := &stubAssistant{
		records: []domain.Message{{Role: domain.RoleAssistant, Content: "hi"}},
	}
	sessions := testSessions(t)
	l := NewLoop(LoopConfig{Assistant: stub, Sessions: sessions, Logger: testLogger()})

	if _, err := l.ProcessDirect(context.Background(), "greenhouse temperature", "cli", "s1"); err != nil {
		t.Fatal(err)
	}

	infos, err := sessions.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Title != "greenhouse temperature" {
		t.Errorf("expected title from first user message, got %+v", infos)
	}
}
