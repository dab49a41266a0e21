// Package api exposes the chat store over gRPC to local clients.
package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/message"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const watchBuffer = 256

// ChatService adapts a chat.Store to the Chat gRPC service. Mutating calls
// answer with the state after the action.
type ChatService struct {
	store   *chat.Store
	bus     *bus.Bus
	profile string
	logger  *zap.Logger
}

// NewChatService returns a service over store that streams events from b.
func NewChatService(store *chat.Store, b *bus.Bus, profile string, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{store: store, bus: b, profile: profile, logger: logger}
}

func (s *ChatService) state() StateView {
	return stateView(s.store.State())
}

func (s *ChatService) GetState(_ context.Context, _ *Empty) (*StateView, error) {
	v := s.state()
	return &v, nil
}

func (s *ChatService) GetFilteredMessages(_ context.Context, _ *Empty) (*MessagesResponse, error) {
	return &MessagesResponse{Messages: messageViews(s.store.GetFilteredMessages())}, nil
}

func (s *ChatService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	m, err := s.store.SendMessage(ctx, req.Content, message.Type(req.Type))
	if err != nil {
		var verr *message.ValidationError
		if errors.As(err, &verr) {
			return nil, status.Error(codes.InvalidArgument, verr.Error())
		}
		s.logger.Error("send message", zap.Error(err))
		return nil, status.Errorf(codes.Internal, "send message: %v", err)
	}
	return &SendMessageResponse{Message: messageView(m), State: s.state()}, nil
}

func (s *ChatService) RetryMessage(ctx context.Context, req *IDRequest) (*ActionResponse, error) {
	if _, ok := s.store.Message(req.ID); !ok {
		return nil, status.Errorf(codes.NotFound, "message %d not loaded", req.ID)
	}
	m, ok := s.store.RetryMessage(ctx, req.ID)
	resp := &ActionResponse{Applied: ok}
	if ok {
		v := messageView(m)
		resp.Message = &v
	}
	resp.State = s.state()
	return resp, nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, req *IDRequest) (*ActionResponse, error) {
	ok := s.store.DeleteMessageFromServer(ctx, req.ID)
	return &ActionResponse{Applied: ok, State: s.state()}, nil
}

func (s *ChatService) RecallMessage(ctx context.Context, req *IDRequest) (*ActionResponse, error) {
	if _, ok := s.store.Message(req.ID); !ok {
		return nil, status.Errorf(codes.NotFound, "message %d not loaded", req.ID)
	}
	ok := s.store.RecallMessage(ctx, req.ID)
	resp := &ActionResponse{Applied: ok}
	if m, found := s.store.Message(req.ID); found && ok {
		v := messageView(m)
		resp.Message = &v
	}
	resp.State = s.state()
	return resp, nil
}

func (s *ChatService) LoadInitial(ctx context.Context, _ *Empty) (*StateView, error) {
	s.store.LoadInitialMessages(ctx)
	v := s.state()
	return &v, nil
}

func (s *ChatService) LoadMore(ctx context.Context, _ *Empty) (*ActionResponse, error) {
	ok := s.store.LoadMoreMessages(ctx)
	return &ActionResponse{Applied: ok, State: s.state()}, nil
}

func (s *ChatService) Search(ctx context.Context, req *SearchRequest) (*StateView, error) {
	var sender message.Sender
	if req.Sender != "" {
		sender = message.Sender(req.Sender)
		if !sender.Valid() {
			return nil, status.Errorf(codes.InvalidArgument, "unknown sender %q", req.Sender)
		}
	}
	s.store.SearchMessages(ctx, req.Query, sender)
	v := s.state()
	return &v, nil
}

func (s *ChatService) SetSearchQuery(_ context.Context, req *SetSearchQueryRequest) (*StateView, error) {
	s.store.SetSearchQuery(req.Query)
	v := s.state()
	return &v, nil
}

func (s *ChatService) SetSenderFilter(_ context.Context, req *SetSenderFilterRequest) (*StateView, error) {
	f, err := chat.ParseSenderFilter(req.Filter)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.store.SetSenderFilter(f)
	v := s.state()
	return &v, nil
}

func (s *ChatService) SetAtBottom(_ context.Context, req *SetAtBottomRequest) (*StateView, error) {
	s.store.SetIsAtBottom(req.AtBottom)
	v := s.state()
	return &v, nil
}

func (s *ChatService) SetDraft(_ context.Context, req *SetDraftRequest) (*StateView, error) {
	s.store.SetDraftMessage(req.Text)
	v := s.state()
	return &v, nil
}

func (s *ChatService) ListQueue(_ context.Context, _ *Empty) (*QueueResponse, error) {
	entries := queueEntries(s.store.State().OfflineQueue)
	resp := &QueueResponse{Entries: entries}
	for _, e := range entries {
		if e.Exhausted {
			resp.Exhausted++
		} else {
			resp.Retryable++
		}
	}
	return resp, nil
}

func (s *ChatService) ClearQueue(_ context.Context, _ *Empty) (*StateView, error) {
	s.store.ClearOfflineQueue()
	v := s.state()
	return &v, nil
}

func (s *ChatService) ProcessQueue(ctx context.Context, _ *Empty) (*DrainResponse, error) {
	res := s.store.ProcessOfflineQueue(ctx)
	return &DrainResponse{
		Attempted: res.Attempted,
		Sent:      res.Sent,
		Aborted:   res.Aborted,
		Skipped:   res.Skipped,
		State:     s.state(),
	}, nil
}

// Watch streams bus events matching req.Prefix until the client goes away.
func (s *ChatService) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, watchBuffer)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(s.envelope(evt)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *ChatService) envelope(evt bus.Event) *Event {
	out := &Event{
		ID:         uuid.New().String(),
		Profile:    s.profile,
		Kind:       evt.Kind,
		OccurredAt: evt.Timestamp,
	}
	payload := evt.Payload
	if m, ok := payload.(message.Message); ok {
		payload = messageView(m)
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.logger.Warn("encode event payload", zap.String("kind", evt.Kind), zap.Error(err))
		} else {
			out.Payload = raw
		}
	}
	return out
}
