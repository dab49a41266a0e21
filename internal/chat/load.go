package chat

import (
	"context"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/message"
	"go.uber.org/zap"
)

// LoadInitialMessages replaces the list with the most recent page. A load
// more still in flight is superseded and its page is dropped.
func (s *Store) LoadInitialMessages(ctx context.Context) {
	seq := s.beginLoad()

	page, err := s.api.ListMessages(ctx, backend.ListParams{Page: 1, Limit: s.pageSize})
	if err != nil {
		s.failLoad("load messages", err, seq)
		return
	}

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		return
	}
	s.messages = page.Messages
	s.hasMore = page.HasMore
	s.currentPage = 1
	s.loading = false
	s.mu.Unlock()
	s.publish(bus.MessagesReplaced, len(page.Messages))
}

// LoadMoreMessages prepends the page before the oldest loaded message. It
// is a no-op while another load is running or when nothing older exists.
func (s *Store) LoadMoreMessages(ctx context.Context) bool {
	s.mu.Lock()
	if s.loading || s.moreInFlight || !s.hasMore {
		s.mu.Unlock()
		return false
	}
	s.loading = true
	s.moreInFlight = true
	s.loadSeq++
	seq := s.loadSeq
	next := s.currentPage + 1
	params := backend.ListParams{Page: next, Limit: s.pageSize}
	if len(s.messages) > 0 {
		params.Before = s.messages[0].Timestamp()
	}
	s.mu.Unlock()

	page, err := s.api.ListMessages(ctx, params)

	s.mu.Lock()
	s.moreInFlight = false
	s.mu.Unlock()
	if err != nil {
		s.failLoad("load more messages", err, seq)
		return true
	}

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		s.logger.Debug("older page superseded by a newer load")
		return true
	}
	merged := make([]message.Message, 0, len(page.Messages)+len(s.messages))
	merged = append(merged, page.Messages...)
	merged = append(merged, s.messages...)
	s.messages = merged
	s.hasMore = page.HasMore
	s.currentPage = next
	s.loading = false
	s.mu.Unlock()
	s.publish(bus.MessagesReplaced, len(merged))
	return true
}

// SearchMessages replaces the list with server search results. An empty
// sender searches both.
func (s *Store) SearchMessages(ctx context.Context, query string, sender message.Sender) {
	seq := s.beginLoad()

	found, err := s.api.SearchMessages(ctx, backend.SearchParams{Query: query, Sender: sender})
	if err != nil {
		s.failLoad("search messages", err, seq)
		return
	}

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		return
	}
	s.messages = found
	s.loading = false
	s.mu.Unlock()
	s.publish(bus.MessagesReplaced, len(found))
}

// DeleteMessageFromServer removes the message locally only after the
// backend confirms the delete. A failure sets the store error.
func (s *Store) DeleteMessageFromServer(ctx context.Context, id int64) bool {
	if err := s.api.DeleteMessage(ctx, id); err != nil {
		s.logger.Warn("delete failed", zap.Int64("message_id", id), zap.Error(err))
		s.SetError(err.Error())
		return false
	}

	s.mu.Lock()
	i := s.indexByIDLocked(id)
	if i >= 0 {
		s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
	}
	s.mu.Unlock()
	if i >= 0 {
		s.publish(bus.MessageRemoved, id)
	}
	return true
}

// RecallMessage recalls a sent user message once the backend confirms it.
// Messages that cannot be recalled are ignored and report false.
func (s *Store) RecallMessage(ctx context.Context, id int64) bool {
	m, ok := s.Message(id)
	if !ok || !m.CanRecall() {
		return false
	}

	if _, err := s.api.RecallMessage(ctx, id); err != nil {
		s.logger.Warn("recall failed", zap.Int64("message_id", id), zap.Error(err))
		s.SetError(err.Error())
		return false
	}

	_, ok = s.update(m.Identity(), func(cur message.Message) (message.Message, error) {
		return cur.Recall(s.now())
	})
	return ok
}

// beginLoad marks a replacing load in flight, clears the last error and
// returns the load's sequence number. Only the latest load may apply its
// result or clear loading.
func (s *Store) beginLoad() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = true
	s.errMsg = ""
	s.loadSeq++
	return s.loadSeq
}

func (s *Store) failLoad(op string, err error, seq uint64) {
	s.logger.Warn(op+" failed", zap.Error(err))
	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		return
	}
	s.loading = false
	s.errMsg = err.Error()
	s.mu.Unlock()
	s.publish(bus.StoreError, err.Error())
}
