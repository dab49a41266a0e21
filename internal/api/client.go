package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a typed caller for the Chat service.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// Dial connects to a daemon's unix socket. The connection is lazy; the
// first call surfaces an unreachable daemon.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection. Close leaves it open.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(CodecName))
}

func call[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetState(ctx context.Context) (*StateView, error) {
	return call[StateView](ctx, c, "GetState", &Empty{})
}

func (c *Client) GetFilteredMessages(ctx context.Context) (*MessagesResponse, error) {
	return call[MessagesResponse](ctx, c, "GetFilteredMessages", &Empty{})
}

func (c *Client) SendMessage(ctx context.Context, content, typ string) (*SendMessageResponse, error) {
	return call[SendMessageResponse](ctx, c, "SendMessage", &SendMessageRequest{Content: content, Type: typ})
}

func (c *Client) RetryMessage(ctx context.Context, id int64) (*ActionResponse, error) {
	return call[ActionResponse](ctx, c, "RetryMessage", &IDRequest{ID: id})
}

func (c *Client) DeleteMessage(ctx context.Context, id int64) (*ActionResponse, error) {
	return call[ActionResponse](ctx, c, "DeleteMessage", &IDRequest{ID: id})
}

func (c *Client) RecallMessage(ctx context.Context, id int64) (*ActionResponse, error) {
	return call[ActionResponse](ctx, c, "RecallMessage", &IDRequest{ID: id})
}

func (c *Client) LoadInitial(ctx context.Context) (*StateView, error) {
	return call[StateView](ctx, c, "LoadInitial", &Empty{})
}

func (c *Client) LoadMore(ctx context.Context) (*ActionResponse, error) {
	return call[ActionResponse](ctx, c, "LoadMore", &Empty{})
}

func (c *Client) Search(ctx context.Context, query, sender string) (*StateView, error) {
	return call[StateView](ctx, c, "Search", &SearchRequest{Query: query, Sender: sender})
}

func (c *Client) SetSearchQuery(ctx context.Context, query string) (*StateView, error) {
	return call[StateView](ctx, c, "SetSearchQuery", &SetSearchQueryRequest{Query: query})
}

func (c *Client) SetSenderFilter(ctx context.Context, filter string) (*StateView, error) {
	return call[StateView](ctx, c, "SetSenderFilter", &SetSenderFilterRequest{Filter: filter})
}

func (c *Client) SetAtBottom(ctx context.Context, atBottom bool) (*StateView, error) {
	return call[StateView](ctx, c, "SetAtBottom", &SetAtBottomRequest{AtBottom: atBottom})
}

func (c *Client) SetDraft(ctx context.Context, text string) (*StateView, error) {
	return call[StateView](ctx, c, "SetDraft", &SetDraftRequest{Text: text})
}

func (c *Client) ListQueue(ctx context.Context) (*QueueResponse, error) {
	return call[QueueResponse](ctx, c, "ListQueue", &Empty{})
}

func (c *Client) ClearQueue(ctx context.Context) (*StateView, error) {
	return call[StateView](ctx, c, "ClearQueue", &Empty{})
}

func (c *Client) ProcessQueue(ctx context.Context) (*DrainResponse, error) {
	return call[DrainResponse](ctx, c, "ProcessQueue", &Empty{})
}

// WatchStream receives events until the context ends or the daemon stops.
type WatchStream struct {
	stream grpc.ClientStream
}

func (w *WatchStream) Recv() (*Event, error) {
	evt := new(Event)
	if err := w.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Watch subscribes to events whose kind starts with prefix.
func (c *Client) Watch(ctx context.Context, prefix string) (*WatchStream, error) {
	stream, err := c.conn.NewStream(ctx, &watchStream, fullMethod("Watch"), grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Prefix: prefix}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}
