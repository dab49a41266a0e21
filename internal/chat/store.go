// Package chat is the message synchronization core: the ordered message
// list, optimistic sends, the offline queue drain and paging.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/draft"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/network"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultPageSize is the page size used when Config.PageSize is unset.
	DefaultPageSize = 20
	// DrainFailedError is the store error set when a queue drain aborts.
	DrainFailedError = "Failed to send some offline messages"
)

// API is the subset of the Backend API the store drives.
type API interface {
	ListMessages(ctx context.Context, p backend.ListParams) (*backend.Page, error)
	CreateMessage(ctx context.Context, content string, typ message.Type) (message.Message, error)
	UpdateStatus(ctx context.Context, id int64, st status.Status) (message.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	RecallMessage(ctx context.Context, id int64) (message.Message, error)
	SearchMessages(ctx context.Context, p backend.SearchParams) ([]message.Message, error)
}

// IDSource hands out provisional message ids.
type IDSource interface {
	NextID() (int64, error)
}

// SenderFilter narrows the filtered view by sender.
type SenderFilter string

const (
	FilterAll  SenderFilter = "all"
	FilterUser SenderFilter = "user"
	FilterBot  SenderFilter = "bot"
)

// ParseSenderFilter accepts all, user or bot. Empty means all.
func ParseSenderFilter(v string) (SenderFilter, error) {
	switch f := SenderFilter(v); f {
	case FilterAll, FilterUser, FilterBot:
		return f, nil
	case "":
		return FilterAll, nil
	}
	return "", fmt.Errorf("unknown sender filter %q", v)
}

// Deps are the collaborators a Store is built from.
type Deps struct {
	API     API
	IDs     IDSource
	Queue   *outbox.Queue
	Drafts  *draft.Keeper
	Monitor *network.Monitor
}

// Config tunes a Store. Zero fields take defaults.
type Config struct {
	PageSize   int
	MaxRetries int
	// DrainLimiter paces sequential queue sends. Nil means unpaced.
	DrainLimiter *rate.Limiter
	Clock        func() time.Time
	Bus          *bus.Bus
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// State is a point-in-time copy of the store.
type State struct {
	Messages     []message.Message
	Loading      bool
	Error        string
	HasMore      bool
	CurrentPage  int
	SearchQuery  string
	SenderFilter SenderFilter
	Draft        string
	UnreadCount  int
	IsAtBottom   bool
	IsOnline     bool
	OfflineQueue []outbox.QueuedMessage
}

// Store owns the message list. Every method is safe for concurrent use;
// the lock is never held across a backend call.
type Store struct {
	api     API
	ids     IDSource
	queue   *outbox.Queue
	drafts  *draft.Keeper
	monitor *network.Monitor

	pageSize   int
	maxRetries int
	limiter    *rate.Limiter
	now        func() time.Time
	bus        *bus.Bus
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu           sync.Mutex
	messages     []message.Message
	loading      bool
	errMsg       string
	hasMore      bool
	currentPage  int
	searchQuery  string
	senderFilter SenderFilter
	draft        string
	unreadCount  int
	isAtBottom   bool
	isOnline     bool
	draining     bool
	loadSeq      uint64
	moreInFlight bool
	closed       bool

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// New builds the store, restores the draft and subscribes to the monitor.
// A queue drain starts whenever the monitor reports online.
func New(d Deps, cfg Config) *Store {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = outbox.DefaultMaxRetries
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if d.Monitor == nil {
		d.Monitor = network.NewMonitor(true, cfg.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		api:          d.API,
		ids:          d.IDs,
		queue:        d.Queue,
		drafts:       d.Drafts,
		monitor:      d.Monitor,
		pageSize:     cfg.PageSize,
		maxRetries:   cfg.MaxRetries,
		limiter:      cfg.DrainLimiter,
		now:          cfg.Clock,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.Named("chat"),
		hasMore:      true,
		currentPage:  1,
		senderFilter: FilterAll,
		isAtBottom:   true,
		isOnline:     d.Monitor.IsOnline(),
		ctx:          ctx,
		cancel:       cancel,
	}
	if s.drafts != nil {
		s.draft = s.drafts.Load()
	}
	s.metrics.Online(s.isOnline)
	s.metrics.QueueDepth(s.queue.GetPendingCount())
	s.unsubscribe = s.monitor.Subscribe(s.onNetwork)
	return s
}

// Close detaches from the monitor, cancels background drains and waits
// for them.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.cancel()
	s.wg.Wait()
}

func (s *Store) onNetwork(online bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.isOnline = online
	if online {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.metrics.Online(online)
	s.publish(bus.NetworkChanged, online)
	if !online {
		return
	}
	go func() {
		defer s.wg.Done()
		s.ProcessOfflineQueue(s.ctx)
	}()
}

// State returns a snapshot. OfflineQueue is read through from the queue.
func (s *Store) State() State {
	s.mu.Lock()
	st := State{
		Messages:     append([]message.Message(nil), s.messages...),
		Loading:      s.loading,
		Error:        s.errMsg,
		HasMore:      s.hasMore,
		CurrentPage:  s.currentPage,
		SearchQuery:  s.searchQuery,
		SenderFilter: s.senderFilter,
		Draft:        s.draft,
		UnreadCount:  s.unreadCount,
		IsAtBottom:   s.isAtBottom,
		IsOnline:     s.isOnline,
	}
	s.mu.Unlock()
	st.OfflineQueue = s.queue.GetAll()
	return st
}

// Message returns the message with id, if loaded.
func (s *Store) Message(id int64) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByIDLocked(id)
	if i < 0 {
		return message.Message{}, false
	}
	return s.messages[i], true
}

// SetSearchQuery sets the text the filtered view matches against.
func (s *Store) SetSearchQuery(q string) {
	s.mu.Lock()
	s.searchQuery = q
	s.mu.Unlock()
}

// SetSenderFilter sets the sender the filtered view keeps.
func (s *Store) SetSenderFilter(f SenderFilter) {
	s.mu.Lock()
	s.senderFilter = f
	s.mu.Unlock()
}

// SetDraftMessage records the composer text and persists it.
func (s *Store) SetDraftMessage(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
	if s.drafts != nil {
		s.drafts.Save(text)
	}
}

// SetIsAtBottom records whether the renderer shows the newest message.
// Reaching the bottom clears the unread count.
func (s *Store) SetIsAtBottom(atBottom bool) {
	s.mu.Lock()
	s.isAtBottom = atBottom
	if atBottom {
		s.unreadCount = 0
	}
	s.mu.Unlock()
}

// ResetUnreadCount zeroes the unread counter.
func (s *Store) ResetUnreadCount() {
	s.mu.Lock()
	s.unreadCount = 0
	s.mu.Unlock()
}

// ClearOfflineQueue drops every queued message, exhausted ones included.
func (s *Store) ClearOfflineQueue() {
	s.queue.Clear()
	s.queueChanged()
}

// SetError sets the store-level error. Empty clears it.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
	if msg != "" {
		s.publish(bus.StoreError, msg)
	}
}

func (s *Store) publish(kind string, payload any) {
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: s.now(), Payload: payload})
}

func (s *Store) queueChanged() {
	n := s.queue.GetPendingCount()
	s.metrics.QueueDepth(n)
	s.publish(bus.QueueChanged, n)
}

// appendLocked adds m at the end and counts it unread when the renderer
// is scrolled away from the bottom.
func (s *Store) appendLocked(m message.Message) {
	s.messages = append(s.messages, m)
	if !s.isAtBottom {
		s.unreadCount++
	}
}

func (s *Store) indexByIDLocked(id int64) int {
	for i, m := range s.messages {
		if m.ID() == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexByIdentityLocked(ident message.Identity) int {
	for i, m := range s.messages {
		if m.Identity() == ident {
			return i
		}
	}
	return -1
}

// update replaces the message carrying ident with fn's result. It reports
// false when the message is gone or fn refuses the change.
func (s *Store) update(ident message.Identity, fn func(message.Message) (message.Message, error)) (message.Message, bool) {
	s.mu.Lock()
	i := s.indexByIdentityLocked(ident)
	if i < 0 {
		s.mu.Unlock()
		return message.Message{}, false
	}
	next, err := fn(s.messages[i])
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("message update refused", zap.Int64("message_id", ident.Value()), zap.Error(err))
		return message.Message{}, false
	}
	s.messages[i] = next
	s.mu.Unlock()

	s.publish(bus.MessageUpdated, next)
	return next, true
}
