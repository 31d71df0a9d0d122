package memory

import "sync"

// messageOverhead is the estimated per-message token cost of role and
// structural framing, added on top of content length.
const messageOverhead = 10

// toolResultCharsPerToken is denser than the ~4 chars/token prose
// heuristic: escaped, punctuation-heavy JSON tokenizes smaller per
// character than ordinary English text.
const toolResultCharsPerToken = 3

// toolResultTruncateSuffix marks a tail tool_result that had to be cut
// down to make room, so the model isn't misled into thinking the full
// output was seen.
const toolResultTruncateSuffix = "\n…(truncated)"

// Message is one role-tagged turn in working memory.
type Message struct {
	Role    string // "system", "user", "assistant", "tool"
	Content string
}

func (m Message) tokens() int {
	if m.Role == "tool" {
		return (len(m.Content)+toolResultCharsPerToken-1)/toolResultCharsPerToken + messageOverhead
	}
	return EstimateTokens(m.Content) + messageOverhead
}

// WorkingMemory is the ordered sequence of role-tagged messages an agent
// loop iteration sends to a provider. Appending past the token ceiling
// evicts the oldest non-system message first; once only the system
// message and the final user/assistant pair remain and the ceiling is
// still exceeded, the newest tool_result is truncated instead of ever
// evicting that final pair.
type WorkingMemory struct {
	mu       sync.Mutex
	messages []Message
	ceiling  int
	tokens   int
}

// NewWorkingMemory creates a WorkingMemory bounded to ceiling tokens.
func NewWorkingMemory(ceiling int) *WorkingMemory {
	return &WorkingMemory{ceiling: ceiling}
}

// Append adds a message and evicts as needed to respect the ceiling.
func (w *WorkingMemory) Append(msg Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
	w.tokens += msg.tokens()
	w.evict()
}

// Messages returns a copy of the current message sequence.
func (w *WorkingMemory) Messages() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// TokenCount returns the current estimated token total.
func (w *WorkingMemory) TokenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tokens
}

// Clear empties the message sequence.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = nil
	w.tokens = 0
}

func (w *WorkingMemory) evict() {
	for w.tokens > w.ceiling {
		if idx, ok := w.oldestEvictableIndex(); ok {
			removed := w.messages[idx]
			w.messages = append(w.messages[:idx], w.messages[idx+1:]...)
			w.tokens -= removed.tokens()
			continue
		}
		if w.truncateTailToolResult() {
			continue
		}
		break // final user/assistant pair is preserved even over budget
	}
}

// oldestEvictableIndex returns the index of the oldest non-system
// message, provided more than the final protected user/assistant pair
// would remain afterward; it reports false once down to just the
// system message (if any) plus that final pair.
func (w *WorkingMemory) oldestEvictableIndex() (int, bool) {
	firstNonSystem := 0
	if len(w.messages) > 0 && w.messages[0].Role == "system" {
		firstNonSystem = 1
	}
	nonSystemCount := len(w.messages) - firstNonSystem
	if nonSystemCount <= 2 {
		return 0, false
	}
	return firstNonSystem, true
}

// truncateTailToolResult finds the newest tool_result message and
// shortens its content, returning whether it shrank anything.
func (w *WorkingMemory) truncateTailToolResult() bool {
	for i := len(w.messages) - 1; i >= 0; i-- {
		m := &w.messages[i]
		if m.Role != "tool" {
			continue
		}
		half := len(m.Content) / 2
		if half < 1 || len(m.Content) <= len(toolResultTruncateSuffix) {
			continue
		}
		before := m.tokens()
		m.Content = m.Content[:half] + toolResultTruncateSuffix
		w.tokens -= before - m.tokens()
		return true
	}
	return false
}
