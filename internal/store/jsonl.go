package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"edgechat/internal/domain"
)

// ImportJSONL reads an exported chat log (one JSON message per line) into
// the given session, skipping malformed lines. Returns the number of
// messages imported.
func (s *SQLiteStore) ImportJSONL(ctx context.Context, sessionID string, r io.Reader) (int, error) {
	if err := s.CreateSession(ctx, domain.Session{ID: sessionID}); err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256*1024), 10*1024*1024) // tool outputs can be large

	imported := 0
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("skipping malformed line", "line", line, "err", err)
			continue
		}
		if msg.Role == "" {
			s.logger.Warn("skipping line without role", "line", line)
			continue
		}

		if err := s.AppendMessage(ctx, sessionID, msg); err != nil {
			return imported, fmt.Errorf("append message (line %d): %w", line, err)
		}
		imported++
	}
	if err := sc.Err(); err != nil {
		return imported, fmt.Errorf("read import stream: %w", err)
	}
	return imported, nil
}
