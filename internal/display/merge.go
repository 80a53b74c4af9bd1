package display

import "edgechat/internal/domain"

// presence holds the three facts the merge-eligibility heuristic looks at,
// computed once per record.
type presence struct {
	thinking bool
	tools    bool
	content  bool
}

func presenceOf(m domain.Message) presence {
	return presence{
		thinking: m.Thinking != "",
		tools:    len(m.ToolCalls) > 0,
		content:  m.Content != "",
	}
}

// shouldMerge decides whether two adjacent assistant records are fragments
// of one logical turn. The backend typically splits a turn into a
// "thinking + tool calls" record followed by a "final content" record; this
// recovers that grouping without a shared correlation id.
//
// The heuristic is purely structural: two genuinely distinct consecutive
// assistant turns (say, a tool-only turn followed by an unrelated
// content-only turn) can be misclassified as one. Keep the heuristic behind
// this function so a correlation-id scheme could replace it later without
// touching the merge loop.
func shouldMerge(first, second presence) bool {
	if first.thinking || first.tools {
		// Merge while the first record lacks content (a split response still
		// being completed), or when the second supplies the content that
		// finishes the turn.
		return !first.content || second.content
	}
	if (second.thinking || second.tools) && first.content {
		// Content-only fragment followed by its trailing reasoning/tool record.
		return true
	}
	return false
}

// runBuilder accumulates one assistant run. It is a value: every step
// returns a new builder rather than mutating in place.
type runBuilder struct {
	acc       domain.Message
	fragments []string
}

func startRun(m domain.Message) runBuilder {
	b := runBuilder{acc: m}
	if m.Content != "" {
		b.fragments = []string{m.Content}
	}
	return b
}

// absorb folds the next record of the run into the builder. Content joins
// the fragment list; thinking and tool calls are adopted only if the
// accumulator has none yet. The accumulator's Content field itself stays
// as the run's first record left it until finish.
func (b runBuilder) absorb(m domain.Message) runBuilder {
	next := b
	if m.Content != "" {
		frags := b.fragments[:len(b.fragments):len(b.fragments)]
		next.fragments = append(frags, m.Content)
	}
	if next.acc.Thinking == "" && m.Thinking != "" {
		next.acc.Thinking = m.Thinking
	}
	if len(next.acc.ToolCalls) == 0 && len(m.ToolCalls) > 0 {
		next.acc.ToolCalls = m.ToolCalls
	}
	return next
}

// finish reduces the fragment list into the merged record's content with a
// left fold over Combine, starting from the empty string.
func (b runBuilder) finish() domain.Message {
	content := ""
	for _, f := range b.fragments {
		content = Combine(content, f)
	}
	msg := b.acc
	msg.Content = content
	return msg
}

// MergeForDisplay produces the ordered display sequence from the raw message
// log in one left-to-right pass: tool-role records are dropped, user and
// system records pass through, and consecutive assistant records that
// shouldMerge groups together collapse into a single turn.
//
// The input is never mutated. The result is deterministic for a given input
// and idempotent: feeding the output back in changes nothing further.
func MergeForDisplay(messages []domain.Message) []domain.DisplayMessage {
	out := make([]domain.DisplayMessage, 0, len(messages))

	for i := 0; i < len(messages); {
		msg := messages[i]

		if msg.Role == domain.RoleTool {
			i++
			continue
		}
		if msg.Role != domain.RoleAssistant {
			out = append(out, msg)
			i++
			continue
		}

		run := startRun(msg)
		j := i + 1
		for j < len(messages) && messages[j].Role == domain.RoleAssistant &&
			shouldMerge(presenceOf(run.acc), presenceOf(messages[j])) {
			run = run.absorb(messages[j])
			j++
		}

		// A run with nothing to show (no content, thinking, or tool calls)
		// would render as an empty bubble; drop it.
		merged := run.finish()
		if merged.Content != "" || merged.Thinking != "" || len(merged.ToolCalls) > 0 {
			out = append(out, merged)
		}
		i = j
	}

	return out
}
