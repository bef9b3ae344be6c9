package llm

import "unicode/utf8"

// TokenCounter estimates token counts. Providers may plug in a vendor tokenizer.
type TokenCounter interface {
	CountText(text string) int
	CountMessages(messages []Message) int
}

// MessageOverheadTokens approximates the per-message framing cost (role, separators).
const MessageOverheadTokens = 4

// HeuristicCounter estimates roughly four characters per token.
type HeuristicCounter struct{}

var _ TokenCounter = HeuristicCounter{}

// CountText returns ceil(runes/4). Multi-byte characters count once.
func (HeuristicCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// CountMessages sums the text estimate plus per-message overhead.
// Messages with a pre-computed TokenCount use it as-is.
func (h HeuristicCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		if m.TokenCount > 0 {
			total += m.TokenCount
			continue
		}
		total += h.CountText(m.Content) + MessageOverheadTokens
		if m.FunctionCall != nil {
			total += h.CountText(m.FunctionCall.Name) + h.CountText(m.FunctionCall.Arguments)
		}
	}
	return total
}

// ContextWindow tracks prompt size against a model's context limit.
type ContextWindow struct {
	Limit   int
	Reserve int // tokens kept free for the completion
	Counter TokenCounter
}

// NewContextWindow creates a window using the heuristic counter.
func NewContextWindow(limit, reserve int) *ContextWindow {
	return &ContextWindow{Limit: limit, Reserve: reserve, Counter: HeuristicCounter{}}
}

func (w *ContextWindow) budget() int {
	b := w.Limit - w.Reserve
	if b < 0 {
		return 0
	}
	return b
}

// Fits reports whether messages fit in the window.
func (w *ContextWindow) Fits(messages []Message) bool {
	return w.Counter.CountMessages(messages) <= w.budget()
}

// Remaining returns the tokens left after messages, never negative.
func (w *ContextWindow) Remaining(messages []Message) int {
	r := w.budget() - w.Counter.CountMessages(messages)
	if r < 0 {
		return 0
	}
	return r
}

// Trim drops the oldest non-system messages until the rest fits.
// System messages are always kept and stay in front; relative order is preserved.
func (w *ContextWindow) Trim(messages []Message) []Message {
	if w.Fits(messages) {
		return messages
	}

	var system, rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	used := w.Counter.CountMessages(system)
	budget := w.budget()
	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := w.Counter.CountMessages(rest[i : i+1])
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	out := make([]Message, 0, len(system)+len(rest)-start)
	out = append(out, system...)
	return append(out, rest[start:]...)
}
