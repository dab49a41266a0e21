package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/status"
)

// wireMessage is the JSON shape used by the backend API.
type wireMessage struct {
	ID        int64      `json:"id"`
	Content   string     `json:"content"`
	Sender    Sender     `json:"sender"`
	Timestamp time.Time  `json:"timestamp"`
	Status    string     `json:"status,omitempty"`
	Type      Type       `json:"type,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Pending   bool       `json:"pending,omitempty"`
}

// MarshalJSON encodes the message in the backend wire format. Provisional
// ids are flagged with "pending" so they survive a round trip.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.ID(),
		Content:   m.content,
		Sender:    m.sender,
		Timestamp: m.timestamp,
		Status:    string(m.status),
		Type:      m.typ,
		Pending:   m.IsPending(),
	}
	if at, ok := m.UpdatedAt(); ok {
		w.UpdatedAt = &at
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes and validates a wire message. A missing status
// means sent and a missing type means text.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Status == "" {
		w.Status = string(status.Sent)
	}
	if w.Type == "" {
		w.Type = Text
	}
	st, err := status.Parse(w.Status)
	if err != nil {
		return &ValidationError{Field: "status", Reason: err.Error()}
	}

	var id Identity = Confirmed{ServerID: w.ID}
	if w.Pending {
		id = Pending{LocalID: w.ID}
	}
	p := Params{
		Identity:  id,
		Content:   w.Content,
		Sender:    w.Sender,
		Type:      w.Type,
		Timestamp: w.Timestamp,
		Status:    st,
	}
	if w.UpdatedAt != nil {
		p.UpdatedAt = *w.UpdatedAt
	}
	parsed, err := New(p)
	if err != nil {
		return fmt.Errorf("decode message %d: %w", w.ID, err)
	}
	*m = parsed
	return nil
}
