package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The Gate service exchanges google.protobuf.Struct messages, so it needs
// no generated code; this file plays the role protoc-gen-go-grpc would.

const ServiceName = "gateman.v1.Gate"

const (
	methodAdmit       = "/" + ServiceName + "/Admit"
	methodIssueBatch  = "/" + ServiceName + "/IssueBatch"
	methodDeleteEvent = "/" + ServiceName + "/DeleteEvent"
	methodStats       = "/" + ServiceName + "/Stats"
	methodWatchStats  = "/" + ServiceName + "/WatchStats"
)

type GateServer interface {
	Admit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchStats(*structpb.Struct, grpc.ServerStream) error
}

func unaryHandler(method string, call func(GateServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GateServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GateServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchStatsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GateServer).WatchStats(in, stream)
}

var GateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Admit", Handler: unaryHandler(methodAdmit, GateServer.Admit)},
		{MethodName: "IssueBatch", Handler: unaryHandler(methodIssueBatch, GateServer.IssueBatch)},
		{MethodName: "DeleteEvent", Handler: unaryHandler(methodDeleteEvent, GateServer.DeleteEvent)},
		{MethodName: "Stats", Handler: unaryHandler(methodStats, GateServer.Stats)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchStats", Handler: watchStatsHandler, ServerStreams: true},
	},
}

func RegisterGateServer(s grpc.ServiceRegistrar, srv GateServer) {
	s.RegisterService(&GateServiceDesc, srv)
}

// Client is a thin typed wrapper over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Admit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodAdmit, in, opts...)
}

func (c *Client) IssueBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodIssueBatch, in, opts...)
}

func (c *Client) DeleteEvent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodDeleteEvent, in, opts...)
}

func (c *Client) Stats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodStats, in, opts...)
}

// WatchStats opens the server stream; call Recv until it returns an error.
func (c *Client) WatchStats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*StatsStream, error) {
	stream, err := c.cc.NewStream(ctx, &GateServiceDesc.Streams[0], methodWatchStats, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &StatsStream{stream: stream}, nil
}

type StatsStream struct {
	stream grpc.ClientStream
}

func (s *StatsStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
