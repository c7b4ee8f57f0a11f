package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.SyncService"

// Method names.
const (
	MethodStart                 = "Start"
	MethodStop                  = "Stop"
	MethodSetActiveConversation = "SetActiveConversation"
	MethodReconnect             = "Reconnect"
	MethodCreateConversation    = "CreateConversation"
	MethodSendMessage           = "SendMessage"
	MethodMarkRead              = "MarkRead"
	MethodSetTyping             = "SetTyping"
	MethodListConversations     = "ListConversations"
	MethodListMessages          = "ListMessages"
	MethodGetConversationStatus = "GetConversationStatus"
	MethodGetStatus             = "GetStatus"
	MethodListOutbox            = "ListOutbox"
	StreamWatchEvents           = "WatchEvents"
)

// SyncServer is implemented by *SyncService. Requests and responses are
// google.protobuf.Struct values.
type SyncServer interface {
	Start(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetActiveConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTyping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConversationStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOutbox(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(SyncServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(SyncServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// FullMethod returns the gRPC path of a method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc describes SyncService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStart, SyncServer.Start),
		unary(MethodStop, SyncServer.Stop),
		unary(MethodSetActiveConversation, SyncServer.SetActiveConversation),
		unary(MethodReconnect, SyncServer.Reconnect),
		unary(MethodCreateConversation, SyncServer.CreateConversation),
		unary(MethodSendMessage, SyncServer.SendMessage),
		unary(MethodMarkRead, SyncServer.MarkRead),
		unary(MethodSetTyping, SyncServer.SetTyping),
		unary(MethodListConversations, SyncServer.ListConversations),
		unary(MethodListMessages, SyncServer.ListMessages),
		unary(MethodGetConversationStatus, SyncServer.GetConversationStatus),
		unary(MethodGetStatus, SyncServer.GetStatus),
		unary(MethodListOutbox, SyncServer.ListOutbox),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    StreamWatchEvents,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(SyncServer).WatchEvents(in, stream)
			},
		},
	},
	Metadata: "chatsync/v1/sync.proto",
}

// RegisterSyncServer registers srv on s.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}
