package message

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/status"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mustNew(t *testing.T, p Params) Message {
	t.Helper()
	m, err := New(p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func userMsg(t *testing.T, st status.Status) Message {
	t.Helper()
	return mustNew(t, Params{
		Identity:  Pending{LocalID: 7},
		Content:   "hi",
		Sender:    User,
		Type:      Text,
		Timestamp: t0,
		Status:    st,
	})
}

func TestNewAccessors(t *testing.T) {
	m := mustNew(t, Params{
		Identity:  Confirmed{ServerID: 42},
		Content:   "hello",
		Sender:    Bot,
		Type:      Image,
		Timestamp: t0,
		Status:    status.Sent,
	})

	if m.ID() != 42 {
		t.Errorf("ID() = %d, want 42", m.ID())
	}
	if m.Content() != "hello" {
		t.Errorf("Content() = %q, want hello", m.Content())
	}
	if m.Sender() != Bot {
		t.Errorf("Sender() = %q, want bot", m.Sender())
	}
	if m.Type() != Image {
		t.Errorf("Type() = %q, want image", m.Type())
	}
	if !m.Timestamp().Equal(t0) {
		t.Errorf("Timestamp() = %v, want %v", m.Timestamp(), t0)
	}
	if m.Status() != status.Sent {
		t.Errorf("Status() = %q, want sent", m.Status())
	}
	if _, ok := m.UpdatedAt(); ok {
		t.Error("UpdatedAt() should be unset on a fresh message")
	}
	if m.IsPending() {
		t.Error("IsPending() = true for a confirmed id")
	}
}

func TestNewValidation(t *testing.T) {
	valid := Params{Identity: Pending{LocalID: 1}, Content: "x", Sender: User, Type: Text, Status: status.Sending}

	tests := []struct {
		name  string
		mut   func(p *Params)
		field string
	}{
		{"empty content", func(p *Params) { p.Content = "" }, "content"},
		{"unknown sender", func(p *Params) { p.Sender = "admin" }, "sender"},
		{"empty sender", func(p *Params) { p.Sender = "" }, "sender"},
		{"unknown type", func(p *Params) { p.Type = "video" }, "type"},
		{"unknown status", func(p *Params) { p.Status = "delivered" }, "status"},
		{"missing identity", func(p *Params) { p.Identity = nil }, "id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mut(&p)
			_, err := New(p)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("New() error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		sender                        Sender
		st                            status.Status
		canRetry, canDelete, canRecall bool
	}{
		{User, status.Sending, false, true, false},
		{User, status.Sent, false, true, true},
		{User, status.Failed, true, true, false},
		{User, status.Recalled, false, true, false},
		{Bot, status.Sending, false, false, false},
		{Bot, status.Sent, false, false, false},
		{Bot, status.Failed, false, false, false},
		{Bot, status.Recalled, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.sender)+"/"+string(tt.st), func(t *testing.T) {
			m := mustNew(t, Params{Identity: Confirmed{ServerID: 1}, Content: "x", Sender: tt.sender, Type: Text, Status: tt.st})
			if m.CanRetry() != tt.canRetry {
				t.Errorf("CanRetry() = %v, want %v", m.CanRetry(), tt.canRetry)
			}
			if m.CanDelete() != tt.canDelete {
				t.Errorf("CanDelete() = %v, want %v", m.CanDelete(), tt.canDelete)
			}
			if m.CanRecall() != tt.canRecall {
				t.Errorf("CanRecall() = %v, want %v", m.CanRecall(), tt.canRecall)
			}
		})
	}
}

func TestWithStatusReturnsCopy(t *testing.T) {
	orig := userMsg(t, status.Sending)
	now := t0.Add(time.Minute)

	failed, err := orig.WithStatus(status.Failed, now)
	if err != nil {
		t.Fatal(err)
	}
	if orig.Status() != status.Sending {
		t.Errorf("original mutated: status = %q", orig.Status())
	}
	if failed.Status() != status.Failed {
		t.Errorf("status = %q, want failed", failed.Status())
	}
	at, ok := failed.UpdatedAt()
	if !ok || !at.Equal(now) {
		t.Errorf("UpdatedAt() = %v, %v; want %v", at, ok, now)
	}

	if _, err := failed.WithStatus(status.Recalled, now); err == nil {
		t.Error("failed -> recalled should be refused")
	}
}

func TestConfirm(t *testing.T) {
	m := userMsg(t, status.Sending)
	serverTime := t0.Add(5 * time.Second)

	c, err := m.Confirm(42, serverTime, t0.Add(6*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if c.ID() != 42 || c.IsPending() {
		t.Errorf("id = %d pending = %v, want 42 confirmed", c.ID(), c.IsPending())
	}
	if _, ok := c.Identity().(Confirmed); !ok {
		t.Errorf("identity = %T, want Confirmed", c.Identity())
	}
	if c.Status() != status.Sent {
		t.Errorf("status = %q, want sent", c.Status())
	}
	if !c.Timestamp().Equal(serverTime) {
		t.Errorf("timestamp = %v, want server time %v", c.Timestamp(), serverTime)
	}
	if c.Sender() != m.Sender() || c.Type() != m.Type() {
		t.Error("sender/type changed on confirm")
	}

	// The id may be rewritten only once.
	if _, err := c.Confirm(43, serverTime, serverTime); err == nil {
		t.Error("second Confirm() should fail")
	}
}

func TestRecall(t *testing.T) {
	m := mustNew(t, Params{Identity: Confirmed{ServerID: 9}, Content: "oops", Sender: User, Type: Text, Timestamp: t0, Status: status.Sent})

	r, err := m.Recall(t0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Content() != RecalledPlaceholder {
		t.Errorf("content = %q, want placeholder", r.Content())
	}
	if r.Status() != status.Recalled {
		t.Errorf("status = %q, want recalled", r.Status())
	}
	if m.Content() != "oops" {
		t.Error("original content mutated")
	}

	failed := userMsg(t, status.Failed)
	if _, err := failed.Recall(t0); err == nil {
		t.Error("recall of a failed message should be refused")
	}
}

func TestIsRecent(t *testing.T) {
	m := userMsg(t, status.Sent)
	if !m.IsRecent(t0.Add(time.Minute)) {
		t.Error("1 minute old message should be recent")
	}
	if m.IsRecent(t0.Add(3 * time.Minute)) {
		t.Error("3 minute old message should not be recent")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	updated := t0.Add(time.Hour)
	tests := []struct {
		name string
		m    Message
	}{
		{"confirmed without updatedAt", mustNew(t, Params{Identity: Confirmed{ServerID: 42}, Content: "hi", Sender: User, Type: Text, Timestamp: t0, Status: status.Sent})},
		{"confirmed with updatedAt", mustNew(t, Params{Identity: Confirmed{ServerID: 5}, Content: "pic", Sender: Bot, Type: Image, Timestamp: t0, Status: status.Recalled, UpdatedAt: updated})},
		{"pending", userMsg(t, status.Failed)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.m)
			if err != nil {
				t.Fatal(err)
			}
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if got.ID() != tt.m.ID() || got.Content() != tt.m.Content() || got.Sender() != tt.m.Sender() ||
				got.Status() != tt.m.Status() || got.Type() != tt.m.Type() || !got.Timestamp().Equal(tt.m.Timestamp()) {
				t.Errorf("round trip = %+v, want %+v", got, tt.m)
			}
			if got.IsPending() != tt.m.IsPending() {
				t.Errorf("pending = %v, want %v", got.IsPending(), tt.m.IsPending())
			}
			wantAt, wantOK := tt.m.UpdatedAt()
			gotAt, gotOK := got.UpdatedAt()
			if gotOK != wantOK || !gotAt.Equal(wantAt) {
				t.Errorf("updatedAt = %v,%v want %v,%v", gotAt, gotOK, wantAt, wantOK)
			}
		})
	}
}

func TestUnmarshalServerDefaults(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"id":42,"content":"hi","sender":"user","timestamp":"2024-01-01T00:00:00Z"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Status() != status.Sent {
		t.Errorf("status = %q, want sent default", m.Status())
	}
	if m.Type() != Text {
		t.Errorf("type = %q, want text default", m.Type())
	}
	if m.IsPending() {
		t.Error("server message decoded as pending")
	}
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	inputs := []string{
		`{"id":1,"content":"","sender":"user","timestamp":"2024-01-01T00:00:00Z"}`,
		`{"id":1,"content":"x","sender":"robot","timestamp":"2024-01-01T00:00:00Z"}`,
		`{"id":1,"content":"x","sender":"user","status":"delivered","timestamp":"2024-01-01T00:00:00Z"}`,
	}
	for _, in := range inputs {
		var m Message
		err := json.Unmarshal([]byte(in), &m)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Unmarshal(%s) error = %v, want *ValidationError", in, err)
		}
	}
}
