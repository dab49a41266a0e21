package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/outbox"
)

// MessageView is the read-only message record handed to renderers.
type MessageView struct {
	ID        int64      `json:"id"`
	Pending   bool       `json:"pending,omitempty"`
	Content   string     `json:"content"`
	Sender    string     `json:"sender"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	CanRetry  bool       `json:"canRetry"`
	CanDelete bool       `json:"canDelete"`
	CanRecall bool       `json:"canRecall"`
}

func messageView(m message.Message) MessageView {
	v := MessageView{
		ID:        m.ID(),
		Pending:   m.IsPending(),
		Content:   m.Content(),
		Sender:    string(m.Sender()),
		Type:      string(m.Type()),
		Status:    string(m.Status()),
		Timestamp: m.Timestamp(),
		CanRetry:  m.CanRetry(),
		CanDelete: m.CanDelete(),
		CanRecall: m.CanRecall(),
	}
	if at, ok := m.UpdatedAt(); ok {
		v.UpdatedAt = &at
	}
	return v
}

func messageViews(msgs []message.Message) []MessageView {
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = messageView(m)
	}
	return out
}

// QueueEntry is an offline queue entry with its exhaustion flag.
type QueueEntry struct {
	outbox.QueuedMessage
	Exhausted bool `json:"exhausted"`
}

func queueEntries(entries []outbox.QueuedMessage) []QueueEntry {
	out := make([]QueueEntry, len(entries))
	for i, e := range entries {
		out[i] = QueueEntry{QueuedMessage: e, Exhausted: e.Exhausted()}
	}
	return out
}

// StateView mirrors chat.State.
type StateView struct {
	Messages     []MessageView `json:"messages"`
	Loading      bool          `json:"loading"`
	Error        string        `json:"error,omitempty"`
	HasMore      bool          `json:"hasMore"`
	CurrentPage  int           `json:"currentPage"`
	SearchQuery  string        `json:"searchQuery"`
	SenderFilter string        `json:"senderFilter"`
	Draft        string        `json:"draft"`
	UnreadCount  int           `json:"unreadCount"`
	IsAtBottom   bool          `json:"isAtBottom"`
	IsOnline     bool          `json:"isOnline"`
	OfflineQueue []QueueEntry  `json:"offlineQueue"`
}

func stateView(st chat.State) StateView {
	return StateView{
		Messages:     messageViews(st.Messages),
		Loading:      st.Loading,
		Error:        st.Error,
		HasMore:      st.HasMore,
		CurrentPage:  st.CurrentPage,
		SearchQuery:  st.SearchQuery,
		SenderFilter: string(st.SenderFilter),
		Draft:        st.Draft,
		UnreadCount:  st.UnreadCount,
		IsAtBottom:   st.IsAtBottom,
		IsOnline:     st.IsOnline,
		OfflineQueue: queueEntries(st.OfflineQueue),
	}
}

type Empty struct{}

type SendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

type SendMessageResponse struct {
	Message MessageView `json:"message"`
	State   StateView   `json:"state"`
}

// IDRequest targets one message by id.
type IDRequest struct {
	ID int64 `json:"id"`
}

// ActionResponse reports whether an action changed anything, and the
// state afterwards.
type ActionResponse struct {
	Applied bool         `json:"applied"`
	Message *MessageView `json:"message,omitempty"`
	State   StateView    `json:"state"`
}

type MessagesResponse struct {
	Messages []MessageView `json:"messages"`
}

type SearchRequest struct {
	Query  string `json:"query"`
	Sender string `json:"sender,omitempty"`
}

type SetSearchQueryRequest struct {
	Query string `json:"query"`
}

type SetSenderFilterRequest struct {
	Filter string `json:"filter"`
}

type SetAtBottomRequest struct {
	AtBottom bool `json:"atBottom"`
}

type SetDraftRequest struct {
	Text string `json:"text"`
}

type QueueResponse struct {
	Entries   []QueueEntry `json:"entries"`
	Retryable int          `json:"retryable"`
	Exhausted int          `json:"exhausted"`
}

type DrainResponse struct {
	Attempted int       `json:"attempted"`
	Sent      int       `json:"sent"`
	Aborted   bool      `json:"aborted"`
	Skipped   bool      `json:"skipped"`
	State     StateView `json:"state"`
}

// WatchRequest selects events by kind prefix. Empty means every event.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// Event is one store change notification.
type Event struct {
	ID         string          `json:"id"`
	Profile    string          `json:"profile"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
