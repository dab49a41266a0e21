package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "chatsync.v1.Chat"

// ChatServer is the server side of the Chat service.
type ChatServer interface {
	GetState(context.Context, *Empty) (*StateView, error)
	GetFilteredMessages(context.Context, *Empty) (*MessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	RetryMessage(context.Context, *IDRequest) (*ActionResponse, error)
	DeleteMessage(context.Context, *IDRequest) (*ActionResponse, error)
	RecallMessage(context.Context, *IDRequest) (*ActionResponse, error)
	LoadInitial(context.Context, *Empty) (*StateView, error)
	LoadMore(context.Context, *Empty) (*ActionResponse, error)
	Search(context.Context, *SearchRequest) (*StateView, error)
	SetSearchQuery(context.Context, *SetSearchQueryRequest) (*StateView, error)
	SetSenderFilter(context.Context, *SetSenderFilterRequest) (*StateView, error)
	SetAtBottom(context.Context, *SetAtBottomRequest) (*StateView, error)
	SetDraft(context.Context, *SetDraftRequest) (*StateView, error)
	ListQueue(context.Context, *Empty) (*QueueResponse, error)
	ClearQueue(context.Context, *Empty) (*StateView, error)
	ProcessQueue(context.Context, *Empty) (*DrainResponse, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

var _ ChatServer = (*ChatService)(nil)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(ChatServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServer), ctx, req.(*Req))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServer).Watch(in, stream)
}

var watchStream = grpc.StreamDesc{
	StreamName:    "Watch",
	Handler:       watchHandler,
	ServerStreams: true,
}

// ServiceDesc describes the Chat service. Messages travel with the JSON
// codec, so there is no generated protobuf code behind it.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetState", ChatServer.GetState),
		unary("GetFilteredMessages", ChatServer.GetFilteredMessages),
		unary("SendMessage", ChatServer.SendMessage),
		unary("RetryMessage", ChatServer.RetryMessage),
		unary("DeleteMessage", ChatServer.DeleteMessage),
		unary("RecallMessage", ChatServer.RecallMessage),
		unary("LoadInitial", ChatServer.LoadInitial),
		unary("LoadMore", ChatServer.LoadMore),
		unary("Search", ChatServer.Search),
		unary("SetSearchQuery", ChatServer.SetSearchQuery),
		unary("SetSenderFilter", ChatServer.SetSenderFilter),
		unary("SetAtBottom", ChatServer.SetAtBottom),
		unary("SetDraft", ChatServer.SetDraft),
		unary("ListQueue", ChatServer.ListQueue),
		unary("ClearQueue", ChatServer.ClearQueue),
		unary("ProcessQueue", ChatServer.ProcessQueue),
	},
	Streams:  []grpc.StreamDesc{watchStream},
	Metadata: "chatsync/v1/chat",
}

func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ServiceDesc, srv)
}
