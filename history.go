package viva

// History holds the ordered turn history for one session. It has a single
// logical writer: all mutations happen on the session's handling loop, so no
// locking is needed here. Append only grows the history; ReplaceAll is the
// one operation allowed to shrink or reorder it, and Clear resets it
// entirely.
type History struct {
	messages []Message
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Len() int {
	return len(h.messages)
}

// Append adds a message to the end of the history.
func (h *History) Append(msg Message) {
	h.messages = append(h.messages, msg)
}

// Last returns the most recent message, or ErrEmptyHistory if there is none.
func (h *History) Last() (Message, error) {
	if len(h.messages) == 0 {
		return Message{}, ErrEmptyHistory
	}
	return h.messages[len(h.messages)-1], nil
}

// ReplaceAll swaps the entire history for the given messages. The agent run
// calls this on completion with its returned turn history.
func (h *History) ReplaceAll(msgs []Message) {
	h.messages = append([]Message{}, msgs...)
}

// Clear drops all messages.
func (h *History) Clear() {
	h.messages = nil
}

// All returns a copy of the history in order.
func (h *History) All() []Message {
	return append([]Message{}, h.messages...)
}
