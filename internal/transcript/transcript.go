package transcript

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"edgechat/internal/display"
	"edgechat/internal/domain"

	"gopkg.in/yaml.v3"
)

// Transcript is an exported raw message log, stored as YAML for offline
// inspection. The log keeps backend fragmentation as-is; rendering runs it
// through the display merger.
type Transcript struct {
	SessionID string           `yaml:"sessionId,omitempty"`
	Title     string           `yaml:"title,omitempty"`
	Messages  []domain.Message `yaml:"messages"`
}

// Load reads a transcript file.
func Load(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript %s: %w", path, err)
	}

	var t Transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return &t, nil
}

// Save writes a transcript file.
func Save(path string, t *Transcript) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Render writes the transcript's coalesced display turns to w.
func Render(w io.Writer, t *Transcript) error {
	if t.Title != "" {
		fmt.Fprintf(w, "# %s\n\n", t.Title)
	}

	turns := display.MergeForDisplay(t.Messages)
	for _, turn := range turns {
		ts := ""
		if turn.Timestamp > 0 {
			ts = " [" + time.UnixMilli(turn.Timestamp).Format("2006-01-02 15:04:05") + "]"
		}
		fmt.Fprintf(w, "%s%s:\n", roleLabel(turn.Role), ts)
		if turn.Thinking != "" {
			fmt.Fprintf(w, "  (thinking) %s\n", indentCont(turn.Thinking))
		}
		for _, tc := range turn.ToolCalls {
			fmt.Fprintf(w, "  (tool) %s\n", tc.Name)
		}
		if turn.Content != "" {
			fmt.Fprintf(w, "  %s\n", indentCont(turn.Content))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func roleLabel(role string) string {
	switch role {
	case domain.RoleUser:
		return "User"
	case domain.RoleAssistant:
		return "Assistant"
	case domain.RoleSystem:
		return "System"
	default:
		return role
	}
}

// indentCont indents continuation lines of a multi-line value to match the
// two-space body indent.
func indentCont(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}
