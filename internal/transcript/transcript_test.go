package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"edgechat/internal/domain"
)

func TestLoad_ParsesMessages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.yaml")
	content := `sessionId: s1
title: Greenhouse check
messages:
  - role: user
    content: temperature?
  - role: assistant
    thinking: reading the sensor
  - role: assistant
    content: 21 degrees.
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tr.SessionID != "s1" || tr.Title != "Greenhouse check" {
		t.Errorf("header: got %q %q", tr.SessionID, tr.Title)
	}
	if len(tr.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(tr.Messages))
	}
	if tr.Messages[1].Thinking != "reading the sensor" {
		t.Errorf("thinking: got %q", tr.Messages[1].Thinking)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/log.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	orig := &Transcript{
		SessionID: "s2",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hi", Timestamp: 1000},
			{Role: domain.RoleAssistant, Content: "hello", Timestamp: 1001},
		},
	}
	if err := Save(path, orig); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Messages) != 2 || loaded.Messages[1].Content != "hello" {
		t.Fatalf("round trip lost data: %+v", loaded.Messages)
	}
}

func TestRender_MergesFragments(t *testing.T) {
	tr := &Transcript{
		Title: "Demo",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "list devices"},
			{Role: domain.RoleAssistant, Thinking: "querying",
				ToolCalls: []domain.ToolCall{{ID: "t1", Name: "list_devices"}}},
			{Role: domain.RoleTool, Content: "[]", ToolCallID: "t1"},
			{Role: domain.RoleAssistant, Content: "No devices found."},
		},
	}

	var sb strings.Builder
	if err := Render(&sb, tr); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := sb.String()

	if !strings.Contains(out, "# Demo") {
		t.Errorf("missing title: %s", out)
	}
	if !strings.Contains(out, "No devices found.") {
		t.Errorf("missing assistant content: %s", out)
	}
	if strings.Contains(out, "[]") {
		t.Errorf("tool result should not be rendered: %s", out)
	}
	// The tool record sits between the fragments, so the thinking record and
	// the content record render as separate turns.
	if strings.Count(out, "Assistant:") != 2 {
		t.Errorf("expected 2 assistant turns, got: %s", out)
	}
}

func TestRender_MergedTurnCarriesAll(t *testing.T) {
	tr := &Transcript{
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Thinking: "planning",
				ToolCalls: []domain.ToolCall{{ID: "t1", Name: "reboot"}}},
			{Role: domain.RoleAssistant, Content: "Rebooting the device now."},
		},
	}

	var sb strings.Builder
	if err := Render(&sb, tr); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := sb.String()

	if strings.Count(out, "Assistant:") != 1 {
		t.Errorf("fragments should merge into one turn: %s", out)
	}
	if !strings.Contains(out, "(thinking) planning") ||
		!strings.Contains(out, "(tool) reboot") ||
		!strings.Contains(out, "Rebooting the device now.") {
		t.Errorf("merged turn should carry thinking, tools and content: %s", out)
	}
}
