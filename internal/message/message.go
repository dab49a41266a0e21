package message

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/status"
)

// RecalledPlaceholder replaces the content of a recalled message.
const RecalledPlaceholder = "This message has been recalled"

// recentWindow is how long a message counts as recent.
const recentWindow = 2 * time.Minute

// Sender identifies who authored a message.
type Sender string

const (
	User Sender = "user"
	Bot  Sender = "bot"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == User || s == Bot
}

// Type is the payload kind of a message.
type Type string

const (
	Text  Type = "text"
	Image Type = "image"
	File  Type = "file"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case Text, Image, File:
		return true
	}
	return false
}

// ValidationError is returned when message construction arguments are invalid.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message %s: %s", e.Field, e.Reason)
}

// Params holds the construction arguments for a Message.
type Params struct {
	Identity  Identity
	Content   string
	Sender    Sender
	Type      Type
	Timestamp time.Time
	Status    status.Status
	UpdatedAt time.Time // zero means unset
}

// Message is an immutable chat message value. Every mutation returns a copy.
type Message struct {
	identity  Identity
	content   string
	sender    Sender
	typ       Type
	timestamp time.Time
	status    status.Status
	updatedAt time.Time
}

// New validates p and builds a Message.
func New(p Params) (Message, error) {
	if p.Identity == nil {
		return Message{}, &ValidationError{Field: "id", Reason: "identity is required"}
	}
	if p.Content == "" {
		return Message{}, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if !p.Sender.Valid() {
		return Message{}, &ValidationError{Field: "sender", Reason: fmt.Sprintf("unknown sender %q", p.Sender)}
	}
	if !p.Type.Valid() {
		return Message{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", p.Type)}
	}
	if !p.Status.Valid() {
		return Message{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", p.Status)}
	}
	return Message{
		identity:  p.Identity,
		content:   p.Content,
		sender:    p.Sender,
		typ:       p.Type,
		timestamp: p.Timestamp,
		status:    p.Status,
		updatedAt: p.UpdatedAt,
	}, nil
}

// ID returns the integer id of either identity phase.
func (m Message) ID() int64 {
	if m.identity == nil {
		return 0
	}
	return m.identity.Value()
}

func (m Message) Identity() Identity   { return m.identity }
func (m Message) Content() string      { return m.content }
func (m Message) Sender() Sender       { return m.sender }
func (m Message) Type() Type           { return m.typ }
func (m Message) Timestamp() time.Time { return m.timestamp }
func (m Message) Status() status.Status {
	return m.status
}

// UpdatedAt returns the last status or content change, if any.
func (m Message) UpdatedAt() (time.Time, bool) {
	return m.updatedAt, !m.updatedAt.IsZero()
}

// IsPending reports whether the message still carries a provisional id.
func (m Message) IsPending() bool {
	_, ok := m.identity.(Pending)
	return ok
}

func (m Message) IsFromUser() bool { return m.sender == User }
func (m Message) IsFromBot() bool  { return m.sender == Bot }
func (m Message) IsSending() bool  { return m.status == status.Sending }
func (m Message) IsSent() bool     { return m.status == status.Sent }
func (m Message) IsFailed() bool   { return m.status == status.Failed }
func (m Message) IsRecalled() bool { return m.status == status.Recalled }

// CanRetry reports whether a user message failed and may be resent.
func (m Message) CanRetry() bool {
	return m.IsFromUser() && m.IsFailed()
}

// CanDelete reports whether the message may be deleted.
func (m Message) CanDelete() bool {
	return m.IsFromUser()
}

// CanRecall reports whether a delivered user message may be recalled.
func (m Message) CanRecall() bool {
	return m.IsFromUser() && m.IsSent()
}

// IsRecent reports whether the message was created within two minutes of now.
func (m Message) IsRecent(now time.Time) bool {
	return m.timestamp.After(now.Add(-recentWindow))
}

// WithStatus returns a copy moved to s. The move must be in the status
// transition table.
func (m Message) WithStatus(s status.Status, now time.Time) (Message, error) {
	next, err := status.Transition(m.status, s)
	if err != nil {
		return m, err
	}
	m.status = next
	m.updatedAt = now
	return m, nil
}

// WithContent returns a copy with new content.
func (m Message) WithContent(content string, now time.Time) (Message, error) {
	if content == "" {
		return m, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	m.content = content
	m.updatedAt = now
	return m, nil
}

// Confirm swaps the provisional id for the server id, adopts the server
// timestamp and marks the message sent. It fails on a confirmed message.
func (m Message) Confirm(serverID int64, serverTime time.Time, now time.Time) (Message, error) {
	if !m.IsPending() {
		return m, fmt.Errorf("message %d already confirmed", m.ID())
	}
	sent, err := m.WithStatus(status.Sent, now)
	if err != nil {
		return m, err
	}
	sent.identity = Confirmed{ServerID: serverID}
	if !serverTime.IsZero() {
		sent.timestamp = serverTime
	}
	return sent, nil
}

// Recall replaces the content with RecalledPlaceholder and marks the
// message recalled.
func (m Message) Recall(now time.Time) (Message, error) {
	recalled, err := m.WithStatus(status.Recalled, now)
	if err != nil {
		return m, err
	}
	recalled.content = RecalledPlaceholder
	return recalled, nil
}
