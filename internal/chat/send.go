package chat

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

// SendMessage appends an optimistic user message and delivers it. Offline,
// the message is queued and marked failed without touching the backend.
// Online failures mark it failed for manual retry. Only construction
// errors are returned; no message is appended in that case.
func (s *Store) SendMessage(ctx context.Context, content string, typ message.Type) (message.Message, error) {
	if typ == "" {
		typ = message.Text
	}
	localID, err := s.ids.NextID()
	if err != nil {
		return message.Message{}, fmt.Errorf("provisional id: %w", err)
	}
	m, err := message.New(message.Params{
		Identity:  message.Pending{LocalID: localID},
		Content:   content,
		Sender:    message.User,
		Type:      typ,
		Timestamp: s.now(),
		Status:    status.Sending,
	})
	if err != nil {
		return message.Message{}, err
	}

	s.mu.Lock()
	s.appendLocked(m)
	s.mu.Unlock()
	s.publish(bus.MessageAppended, m)

	return s.deliver(ctx, m), nil
}

// RetryMessage resends a failed user message in place. Unknown ids and
// messages that cannot be retried are ignored and report false. The
// message moves to sending before its queue entry is dropped, so a queue
// drain cannot pick the same message up concurrently.
func (s *Store) RetryMessage(ctx context.Context, id int64) (message.Message, bool) {
	m, ok := s.Message(id)
	if !ok || !m.CanRetry() {
		return message.Message{}, false
	}

	sending, ok := s.update(m.Identity(), func(cur message.Message) (message.Message, error) {
		if !cur.CanRetry() {
			return cur, fmt.Errorf("message %d is %s", cur.ID(), cur.Status())
		}
		return cur.WithStatus(status.Sending, s.now())
	})
	if !ok {
		return message.Message{}, false
	}

	if sending.IsPending() {
		if entry, queued := s.queue.FindByLocalID(sending.ID()); queued {
			s.queue.Remove(entry.ID)
			s.queueChanged()
		}
	}
	return s.deliver(ctx, sending), true
}

// deliver runs the send path for a message already in the sending state.
func (s *Store) deliver(ctx context.Context, m message.Message) message.Message {
	log := s.logger.With(zap.Int64("message_id", m.ID()))

	if !s.monitor.IsOnline() {
		if !m.IsPending() {
			// Queued entries are replayed as creates, which would duplicate a
			// message the server already holds.
			log.Info("offline retry of a server message, leaving it failed")
			return s.markFailed(m)
		}
		entry := s.queue.Add(m, s.maxRetries)
		log.Info("offline, message queued", zap.String("queue_id", entry.ID))
		s.metrics.Send(metrics.OutcomeQueued)
		s.queueChanged()
		return s.markFailed(m)
	}

	var (
		server message.Message
		err    error
	)
	if m.IsPending() {
		server, err = s.api.CreateMessage(ctx, m.Content(), m.Type())
	} else {
		server, err = s.api.UpdateStatus(ctx, m.ID(), status.Sent)
	}
	if err != nil {
		log.Warn("send failed", zap.Error(err))
		s.metrics.Send(metrics.OutcomeFailed)
		return s.markFailed(m)
	}

	s.metrics.Send(metrics.OutcomeSent)
	var next message.Message
	var ok bool
	if m.IsPending() {
		next, ok = s.update(m.Identity(), func(cur message.Message) (message.Message, error) {
			return cur.Confirm(server.ID(), server.Timestamp(), s.now())
		})
	} else {
		next, ok = s.update(m.Identity(), func(message.Message) (message.Message, error) {
			return server, nil
		})
	}
	if !ok {
		// The list was replaced while the request was in flight.
		return server
	}
	log.Debug("message sent", zap.Int64("server_id", next.ID()))
	return next
}

// markFailed moves m to failed. When the store refuses, because another
// send already moved the message on, the store's copy is returned. A
// message no longer in the list is returned as handed in.
func (s *Store) markFailed(m message.Message) message.Message {
	failed, ok := s.update(m.Identity(), func(cur message.Message) (message.Message, error) {
		return cur.WithStatus(status.Failed, s.now())
	})
	if ok {
		return failed
	}
	if cur, found := s.lookup(m.Identity()); found {
		return cur
	}
	return m
}

func (s *Store) lookup(ident message.Identity) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByIdentityLocked(ident)
	if i < 0 {
		return message.Message{}, false
	}
	return s.messages[i], true
}

// DrainResult summarizes one ProcessOfflineQueue run.
type DrainResult struct {
	Attempted int
	Sent      int
	// Aborted is set when a send failed and the rest of the batch was left
	// untouched.
	Aborted bool
	// Skipped is set when another drain was already running.
	Skipped bool
}

// ProcessOfflineQueue sends retryable queue entries one at a time in FIFO
// order. The first failure bumps that entry's retry count, sets the store
// error and stops the batch. A drain already in progress makes this a no-op.
func (s *Store) ProcessOfflineQueue(ctx context.Context) DrainResult {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return DrainResult{Skipped: true}
	}
	s.draining = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	entries := s.queue.GetRetryableMessages()
	if len(entries) == 0 {
		return DrainResult{}
	}
	s.logger.Info("draining offline queue", zap.Int("entries", len(entries)))

	var res DrainResult
	for _, entry := range entries {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				s.logger.Debug("queue drain interrupted", zap.Error(err))
				break
			}
		}
		log := s.logger.With(zap.String("queue_id", entry.ID), zap.Int64("message_id", entry.LocalID))

		c := s.claim(entry)
		if c == claimBusy {
			log.Debug("queued message is being sent elsewhere, skipping")
			continue
		}
		if !s.queue.Has(entry.ID) {
			// A manual retry took the entry after the batch was read.
			if c == claimHeld {
				s.release(entry)
			}
			log.Debug("queue entry gone, skipping")
			continue
		}
		res.Attempted++

		server, err := s.api.CreateMessage(ctx, entry.Content, entry.Type)
		if err != nil {
			s.queue.MarkRetry(entry.ID)
			if c == claimHeld {
				s.release(entry)
			}
			s.metrics.Drain(metrics.OutcomeFailed)
			log.Warn("queued send failed, stopping drain", zap.Error(err))
			s.SetError(DrainFailedError)
			res.Aborted = true
			break
		}

		s.queue.Remove(entry.ID)
		s.metrics.Drain(metrics.OutcomeSent)
		res.Sent++
		s.reconcile(entry, server)
		log.Info("queued message delivered", zap.Int64("server_id", server.ID()))
	}

	s.queueChanged()
	return res
}

type claimResult int

const (
	// claimNone: the entry has no loaded local message to guard.
	claimNone claimResult = iota
	claimHeld
	// claimBusy: the local message is not failed, so another send owns it.
	claimBusy
)

// claim moves the local message of a queued entry from failed to sending
// for the duration of a drain send. While it is sending, RetryMessage
// refuses it.
func (s *Store) claim(entry outbox.QueuedMessage) claimResult {
	if entry.LocalID == 0 {
		return claimNone
	}
	s.mu.Lock()
	i := s.indexByIdentityLocked(message.Pending{LocalID: entry.LocalID})
	if i < 0 {
		s.mu.Unlock()
		return claimNone
	}
	cur := s.messages[i]
	if !cur.IsFailed() {
		s.mu.Unlock()
		return claimBusy
	}
	next, err := cur.WithStatus(status.Sending, s.now())
	if err != nil {
		s.mu.Unlock()
		return claimBusy
	}
	s.messages[i] = next
	s.mu.Unlock()

	s.publish(bus.MessageUpdated, next)
	return claimHeld
}

// release hands a claimed message back as failed.
func (s *Store) release(entry outbox.QueuedMessage) {
	s.update(message.Pending{LocalID: entry.LocalID}, func(cur message.Message) (message.Message, error) {
		return cur.WithStatus(status.Failed, s.now())
	})
}

// reconcile confirms the local message a delivered queue entry came from.
func (s *Store) reconcile(entry outbox.QueuedMessage, server message.Message) {
	if entry.LocalID == 0 {
		return
	}
	s.update(message.Pending{LocalID: entry.LocalID}, func(cur message.Message) (message.Message, error) {
		if cur.IsFailed() {
			var err error
			if cur, err = cur.WithStatus(status.Sending, s.now()); err != nil {
				return cur, err
			}
		}
		return cur.Confirm(server.ID(), server.Timestamp(), s.now())
	})
}
