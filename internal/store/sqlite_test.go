package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"edgechat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_CreateAndGetSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, domain.Session{ID: "s1", Title: "Devices"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil || sess.Title != "Devices" {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestSQLiteStore_GetSession_NotFound(t *testing.T) {
	s := testStore(t)

	sess, err := s.GetSession(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Errorf("expected nil for missing session, got %+v", sess)
	}
}

func TestSQLiteStore_AppendAndLoadMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, domain.Session{ID: "s1"}); err != nil {
		t.Fatal(err)
	}

	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "show devices", Timestamp: 1000},
		{Role: domain.RoleAssistant, Thinking: "checking", ToolCalls: []domain.ToolCall{{ID: "tc1", Name: "list_devices"}}, Timestamp: 1001},
		{Role: domain.RoleTool, Content: "[]", ToolCallID: "tc1", ToolName: "list_devices", Timestamp: 1002},
		{Role: domain.RoleAssistant, Content: "No devices found.", Timestamp: 1003},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, "s1", m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	loaded, err := s.LoadMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(loaded))
	}
	if loaded[0].Content != "show devices" || loaded[3].Content != "No devices found." {
		t.Error("messages not in chronological order")
	}
	if loaded[1].ID == "" {
		t.Error("expected store-assigned message id")
	}
	if len(loaded[1].ToolCalls) != 1 || loaded[1].ToolCalls[0].Name != "list_devices" {
		t.Errorf("tool calls not round-tripped: %+v", loaded[1].ToolCalls)
	}
}

func TestSQLiteStore_LoadMessages_Limit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, domain.Session{ID: "s1"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := s.AppendMessage(ctx, "s1", domain.Message{
			Role: domain.RoleUser, Content: "m", Timestamp: int64(1000 + i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := s.LoadMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	// Limit keeps the most recent messages, still oldest first.
	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].Timestamp != 1003 || loaded[1].Timestamp != 1004 {
		t.Errorf("expected the two newest in order, got %d, %d", loaded[0].Timestamp, loaded[1].Timestamp)
	}
}

func TestSQLiteStore_ListSessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, domain.Session{ID: "s1", Title: "First"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, "s1", domain.Message{Role: domain.RoleUser, Content: "hello there", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, "s1", domain.Message{Role: domain.RoleAssistant, Content: "hi", Timestamp: 1001}); err != nil {
		t.Fatal(err)
	}

	infos, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 session, got %d", len(infos))
	}
	info := infos[0]
	if info.SessionID != "s1" || info.MessageCount != 2 {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Preview != "hello there" {
		t.Errorf("preview should be the first user message, got %q", info.Preview)
	}
}

func TestSQLiteStore_DeleteSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, domain.Session{ID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, "s1", domain.Message{Role: domain.RoleUser, Content: "x", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Error("session should be gone")
	}
	msgs, err := s.LoadMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages should be gone, got %d", len(msgs))
	}
}

func TestImportJSONL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	data := strings.Join([]string{
		`{"role":"user","content":"hi","timestamp":1000}`,
		``,
		`not json`,
		`{"role":"assistant","content":"hello","timestamp":1001}`,
	}, "\n")

	n, err := s.ImportJSONL(ctx, "imported", strings.NewReader(data))
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported messages, got %d", n)
	}

	msgs, err := s.LoadMessages(ctx, "imported", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Content != "hello" {
		t.Errorf("unexpected imported log: %+v", msgs)
	}
}
