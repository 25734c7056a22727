package llm

import "sync"

// DefaultMaxHistory is the truncation window applied to outbound requests
// when no override is configured.
const DefaultMaxHistory = 10

// History holds the ordered messages of a conversation. Storage keeps
// everything; truncation and empty-message filtering apply only to the
// views handed to providers.
type History struct {
	mu       sync.Mutex
	messages []Message
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Append(msg Message) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Snapshot returns a copy of the full stored history.
func (h *History) Snapshot() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// TruncatedView returns the window sent to a provider: empty messages are
// dropped, a leading system message always survives, and the rest is the
// most recent tail up to max total messages.
func (h *History) TruncatedView(max int) []Message {
	return TruncateMessages(h.Snapshot(), max)
}

// DropEmptyMessages filters messages with no usable content. Backends
// reject empty blocks, so this runs on every outbound request.
func DropEmptyMessages(messages []Message) []Message {
	var valid []Message
	for _, msg := range messages {
		if msg.IsEmpty() {
			continue
		}
		valid = append(valid, msg)
	}
	return valid
}

// TruncateMessages filters empty messages and trims the history to at most
// max entries, keeping a leading system message if one exists.
func TruncateMessages(messages []Message, max int) []Message {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	valid := DropEmptyMessages(messages)
	if len(valid) <= max {
		return valid
	}

	if valid[0].Role == RoleSystem {
		rest := valid[1:]
		keep := max - 1
		out := make([]Message, 0, max)
		out = append(out, valid[0])
		out = append(out, rest[len(rest)-keep:]...)
		return out
	}
	return valid[len(valid)-max:]
}
