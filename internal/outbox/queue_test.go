package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
)

func pendingMsg(t *testing.T, localID int64, content string) message.Message {
	t.Helper()
	m, err := message.New(message.Params{
		Identity:  message.Pending{LocalID: localID},
		Content:   content,
		Sender:    message.User,
		Type:      message.Text,
		Timestamp: time.Now(),
		Status:    status.Failed,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func persisted(t *testing.T, kv store.KV) []QueuedMessage {
	t.Helper()
	raw, ok := kv.Get(StorageKey)
	if !ok {
		t.Fatal("queue not persisted")
	}
	var out []QueuedMessage
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestAddDefaults(t *testing.T) {
	kv := store.NewMemory()
	fixed := time.UnixMilli(1_700_000_000_000)
	q := New(kv, nil, WithClock(func() time.Time { return fixed }))

	e := q.Add(pendingMsg(t, 7, "hi"), 0)
	if e.ID == "" {
		t.Error("Add() returned an empty id")
	}
	if e.Content != "hi" || e.Type != message.Text {
		t.Errorf("entry = %+v", e)
	}
	if e.RetryCount != 0 || e.MaxRetries != DefaultMaxRetries {
		t.Errorf("retry = %d/%d, want 0/%d", e.RetryCount, e.MaxRetries, DefaultMaxRetries)
	}
	if e.LocalID != 7 {
		t.Errorf("LocalID = %d, want 7", e.LocalID)
	}
	if !e.EnqueuedAt().Equal(fixed) {
		t.Errorf("EnqueuedAt() = %v, want %v", e.EnqueuedAt(), fixed)
	}

	got := persisted(t, kv)
	if len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("persisted = %+v", got)
	}
}

func TestAddUniqueIDs(t *testing.T) {
	q := New(store.NewMemory(), nil)
	a := q.Add(pendingMsg(t, 1, "a"), 3)
	b := q.Add(pendingMsg(t, 2, "b"), 3)
	if a.ID == b.ID {
		t.Errorf("duplicate queue id %q", a.ID)
	}
}

func TestGetAllIsCopy(t *testing.T) {
	q := New(store.NewMemory(), nil)
	q.Add(pendingMsg(t, 1, "a"), 3)

	all := q.GetAll()
	all[0].Content = "mutated"
	all[0].RetryCount = 99

	again := q.GetAll()
	if again[0].Content != "a" || again[0].RetryCount != 0 {
		t.Errorf("GetAll() exposed internal state: %+v", again[0])
	}
}

func TestMarkRetryClampsAndNotifiesOnce(t *testing.T) {
	var exhausted []QueuedMessage
	q := New(store.NewMemory(), nil, WithOnExhausted(func(e QueuedMessage) {
		exhausted = append(exhausted, e)
	}))
	e := q.Add(pendingMsg(t, 1, "a"), 2)

	for i := 0; i < 4; i++ {
		if !q.MarkRetry(e.ID) {
			t.Fatalf("MarkRetry() #%d = false", i)
		}
	}

	got := q.GetAll()[0]
	if got.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2 (clamped)", got.RetryCount)
	}
	if len(exhausted) != 1 {
		t.Fatalf("onExhausted called %d times, want 1", len(exhausted))
	}
	if exhausted[0].ID != e.ID || exhausted[0].RetryCount != 2 {
		t.Errorf("onExhausted got %+v", exhausted[0])
	}
}

func TestRetryableAndFailedPartition(t *testing.T) {
	q := New(store.NewMemory(), nil)
	a := q.Add(pendingMsg(t, 1, "a"), 1)
	b := q.Add(pendingMsg(t, 2, "b"), 3)
	q.MarkRetry(a.ID)

	retryable := q.GetRetryableMessages()
	if len(retryable) != 1 || retryable[0].ID != b.ID {
		t.Errorf("GetRetryableMessages() = %+v", retryable)
	}
	failed := q.GetFailedMessages()
	if len(failed) != 1 || failed[0].ID != a.ID {
		t.Errorf("GetFailedMessages() = %+v", failed)
	}
	if n := q.GetPendingCount(); n != 2 {
		t.Errorf("GetPendingCount() = %d, want 2", n)
	}
}

func TestUnknownIDs(t *testing.T) {
	q := New(store.NewMemory(), nil)
	if q.MarkRetry("missing") {
		t.Error("MarkRetry(missing) = true")
	}
	if q.Remove("missing") {
		t.Error("Remove(missing) = true")
	}
}

func TestRemoveKeepsOrder(t *testing.T) {
	kv := store.NewMemory()
	q := New(kv, nil)
	a := q.Add(pendingMsg(t, 1, "a"), 3)
	b := q.Add(pendingMsg(t, 2, "b"), 3)
	c := q.Add(pendingMsg(t, 3, "c"), 3)

	if !q.Remove(b.ID) {
		t.Fatal("Remove(b) = false")
	}
	got := persisted(t, kv)
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != c.ID {
		t.Errorf("persisted after remove = %+v", got)
	}
}

func TestEveryMutationPersists(t *testing.T) {
	kv := store.NewMemory()
	q := New(kv, nil)

	e := q.Add(pendingMsg(t, 1, "a"), 3)
	q.MarkRetry(e.ID)
	q.Remove(e.ID)
	q.Clear()

	if w := kv.Writes(); w != 4 {
		t.Errorf("KV writes = %d, want 4", w)
	}
	if got := persisted(t, kv); len(got) != 0 {
		t.Errorf("persisted after Clear = %+v", got)
	}
}

func TestRestoreFromKV(t *testing.T) {
	kv := store.NewMemory()
	first := New(kv, nil)
	e := first.Add(pendingMsg(t, 9, "survives"), 3)
	first.MarkRetry(e.ID)

	second := New(kv, nil)
	all := second.GetAll()
	if len(all) != 1 {
		t.Fatalf("restored %d entries, want 1", len(all))
	}
	if all[0].ID != e.ID || all[0].RetryCount != 1 || all[0].Content != "survives" {
		t.Errorf("restored = %+v", all[0])
	}
}

func TestCorruptDataIgnored(t *testing.T) {
	kv := store.NewMemory()
	kv.Set(StorageKey, "{not json")

	q := New(kv, nil)
	if n := q.GetPendingCount(); n != 0 {
		t.Errorf("GetPendingCount() = %d, want 0", n)
	}
}

func TestFindByLocalID(t *testing.T) {
	q := New(store.NewMemory(), nil)
	e := q.Add(pendingMsg(t, 42, "x"), 3)

	got, ok := q.FindByLocalID(42)
	if !ok || got.ID != e.ID {
		t.Errorf("FindByLocalID(42) = %+v, %v", got, ok)
	}
	if _, ok := q.FindByLocalID(0); ok {
		t.Error("FindByLocalID(0) should miss")
	}
	if _, ok := q.FindByLocalID(43); ok {
		t.Error("FindByLocalID(43) should miss")
	}
}

func TestHas(t *testing.T) {
	q := New(store.NewMemory(), nil)
	e := q.Add(pendingMsg(t, 1, "x"), 0)
	if !q.Has(e.ID) {
		t.Error("Has() = false for a queued entry")
	}
	q.Remove(e.ID)
	if q.Has(e.ID) {
		t.Error("Has() = true after Remove")
	}
}
