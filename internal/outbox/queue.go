// Package outbox holds outbound messages that could not be delivered while
// offline, with a per-entry retry ceiling.
package outbox

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

const (
	// StorageKey is the KV key holding the serialized queue.
	StorageKey = "offline_message_queue"
	// DefaultMaxRetries is the retry ceiling used when none is given.
	DefaultMaxRetries = 3
)

// QueuedMessage is an outbound message awaiting automatic delivery.
type QueuedMessage struct {
	ID         string       `json:"id"`
	LocalID    int64        `json:"localId,omitempty"`
	Content    string       `json:"content"`
	Type       message.Type `json:"type"`
	Timestamp  int64        `json:"timestamp"`
	RetryCount int          `json:"retryCount"`
	MaxRetries int          `json:"maxRetries"`
}

// Exhausted reports whether the entry has used up its retries.
func (q QueuedMessage) Exhausted() bool {
	return q.RetryCount >= q.MaxRetries
}

// EnqueuedAt returns the enqueue time.
func (q QueuedMessage) EnqueuedAt() time.Time {
	return time.UnixMilli(q.Timestamp)
}

// Option configures a Queue.
type Option func(*Queue)

// WithOnExhausted registers fn to run once for each entry that reaches its
// retry ceiling. fn is called without the queue lock held.
func WithOnExhausted(fn func(QueuedMessage)) Option {
	return func(q *Queue) { q.onExhausted = fn }
}

// WithClock overrides the time source used for enqueue timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is the Outbound Queue. It is the only writer of StorageKey.
type Queue struct {
	mu          sync.Mutex
	kv          store.KV
	entries     []QueuedMessage
	logger      *zap.Logger
	onExhausted func(QueuedMessage)
	now         func() time.Time
}

// New creates a queue and restores any entries persisted under StorageKey.
// Corrupt data is logged and discarded.
func New(kv store.KV, logger *zap.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		kv:     kv,
		logger: logger.Named("outbox"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.load()
	return q
}

func (q *Queue) load() {
	raw, ok := q.kv.Get(StorageKey)
	if !ok || raw == "" {
		return
	}
	var entries []QueuedMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		q.logger.Error("discarding unreadable offline queue", zap.Error(err))
		return
	}
	for i := range entries {
		if entries[i].RetryCount > entries[i].MaxRetries {
			entries[i].RetryCount = entries[i].MaxRetries
		}
	}
	q.entries = entries
	q.logger.Info("restored offline queue", zap.Int("entries", len(entries)))
}

// persist writes the whole queue. Callers hold q.mu.
func (q *Queue) persist() {
	data, err := json.Marshal(q.entries)
	if err != nil {
		q.logger.Error("encode offline queue", zap.Error(err))
		return
	}
	q.kv.Set(StorageKey, string(data))
}

// Add enqueues m with the given retry ceiling. A ceiling below 1 means
// DefaultMaxRetries. Pending messages record their local id.
func (q *Queue) Add(m message.Message, maxRetries int) QueuedMessage {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	entry := QueuedMessage{
		ID:         uuid.NewString(),
		Content:    m.Content(),
		Type:       m.Type(),
		Timestamp:  q.now().UnixMilli(),
		MaxRetries: maxRetries,
	}
	if m.IsPending() {
		entry.LocalID = m.ID()
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.persist()
	q.mu.Unlock()

	q.logger.Debug("queued message", zap.String("queue_id", entry.ID), zap.Int64("message_id", entry.LocalID))
	return entry
}

// GetAll returns a copy of every entry in FIFO order.
func (q *Queue) GetAll() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedMessage, len(q.entries))
	copy(out, q.entries)
	return out
}

// GetRetryableMessages returns entries with retries left, in FIFO order.
func (q *Queue) GetRetryableMessages() []QueuedMessage {
	return q.filter(func(e QueuedMessage) bool { return !e.Exhausted() })
}

// GetFailedMessages returns exhausted entries.
func (q *Queue) GetFailedMessages() []QueuedMessage {
	return q.filter(QueuedMessage.Exhausted)
}

func (q *Queue) filter(keep func(QueuedMessage) bool) []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []QueuedMessage
	for _, e := range q.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// GetPendingCount returns the number of entries, exhausted ones included.
func (q *Queue) GetPendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// MarkRetry records a failed delivery attempt for id. It reports whether
// the id existed. The count never exceeds the entry's ceiling.
func (q *Queue) MarkRetry(id string) bool {
	q.mu.Lock()
	i := q.index(id)
	if i < 0 {
		q.mu.Unlock()
		return false
	}
	entry := &q.entries[i]
	if entry.Exhausted() {
		q.mu.Unlock()
		return true
	}
	entry.RetryCount++
	exhausted := entry.Exhausted()
	snapshot := *entry
	q.persist()
	q.mu.Unlock()

	if exhausted {
		q.logger.Warn("queued message exhausted its retries",
			zap.String("queue_id", snapshot.ID),
			zap.Int("max_retries", snapshot.MaxRetries))
		if q.onExhausted != nil {
			q.onExhausted(snapshot)
		}
	}
	return true
}

// Remove deletes id and reports whether it existed.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return false
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	q.persist()
	return true
}

// Has reports whether id is still queued.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index(id) >= 0
}

// FindByLocalID returns the entry created for the pending message localID.
func (q *Queue) FindByLocalID(localID int64) (QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if localID == 0 {
		return QueuedMessage{}, false
	}
	for _, e := range q.entries {
		if e.LocalID == localID {
			return e, true
		}
	}
	return QueuedMessage{}, false
}

// Clear removes every entry.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = []QueuedMessage{}
	q.persist()
}

func (q *Queue) index(id string) int {
	for i, e := range q.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
