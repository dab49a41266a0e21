package chat

import (
	"strings"

	"github.com/matheus3301/chatsync/internal/message"
)

// FilterMessages keeps messages matching the sender filter whose content
// contains query, case-insensitively. A blank query matches everything.
func FilterMessages(msgs []message.Message, sender SenderFilter, query string) []message.Message {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		switch sender {
		case FilterUser:
			if !m.IsFromUser() {
				continue
			}
		case FilterBot:
			if m.IsFromUser() {
				continue
			}
		}
		if q != "" && !strings.Contains(strings.ToLower(m.Content()), q) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// GetFilteredMessages applies the current sender filter and search query
// to the loaded messages. It never calls the backend.
func (s *Store) GetFilteredMessages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterMessages(s.messages, s.senderFilter, s.searchQuery)
}
