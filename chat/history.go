package chat

import "sync"

// MaxHistoryMessages is the number of messages retained per chat.
const MaxHistoryMessages = 10

// History keeps recent messages per chat id. When a new user message
// mentions a different participant than the previous one, the chat is
// restarted from scratch so participants never see each other's
// context.
type History struct {
	mu       sync.Mutex
	messages map[string][]Message
}

func NewHistory() *History {
	return &History{messages: make(map[string][]Message)}
}

func (h *History) Add(chatID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing := h.messages[chatID]

	if msg.Role == RoleUser {
		if prev, ok := lastUserMessage(existing); ok {
			current := ParsePrompt(msg.Content).ParticipantID
			previous := ParsePrompt(prev.Content).ParticipantID
			if current != previous {
				existing = nil
			}
		}
	}

	existing = append(existing, msg)
	if len(existing) > MaxHistoryMessages {
		existing = existing[len(existing)-MaxHistoryMessages:]
	}
	h.messages[chatID] = existing
}

// Messages returns a copy of the retained messages for a chat.
func (h *History) Messages(chatID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing := h.messages[chatID]
	out := make([]Message, len(existing))
	copy(out, existing)
	return out
}

// Clear removes the history of one chat and reports whether it existed.
func (h *History) Clear(chatID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.messages[chatID]; !ok {
		return false
	}
	delete(h.messages, chatID)
	return true
}

func (h *History) ClearAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = make(map[string][]Message)
}

func lastUserMessage(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i], true
		}
	}
	return Message{}, false
}
