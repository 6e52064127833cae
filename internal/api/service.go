// Package api exposes the watch manager over gRPC. Messages are protobuf
// well-known types; their JSON shape is described by the types in
// messages.go.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "wallwatch.v1.WatchService"

const (
	methodListWatches  = "/" + ServiceName + "/ListWatches"
	methodStartWatch   = "/" + ServiceName + "/StartWatch"
	methodStopWatch    = "/" + ServiceName + "/StopWatch"
	methodListChanges  = "/" + ServiceName + "/ListChanges"
	methodWatchChanges = "/" + ServiceName + "/WatchChanges"
)

// WatchServiceServer is the server side of wallwatch.v1.WatchService.
type WatchServiceServer interface {
	ListWatches(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartWatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopWatch(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	ListChanges(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchChanges(*wrapperspb.Int64Value, grpc.ServerStreamingServer[structpb.Struct]) error
}

// WatchServiceDesc describes the service for grpc.Server.RegisterService.
var WatchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListWatches", Handler: unaryHandler(methodListWatches, WatchServiceServer.ListWatches)},
		{MethodName: "StartWatch", Handler: unaryHandler(methodStartWatch, WatchServiceServer.StartWatch)},
		{MethodName: "StopWatch", Handler: unaryHandler(methodStopWatch, WatchServiceServer.StopWatch)},
		{MethodName: "ListChanges", Handler: unaryHandler(methodListChanges, WatchServiceServer.ListChanges)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchChanges", Handler: watchChangesHandler, ServerStreams: true},
	},
	Metadata: "wallwatch/v1/watch.proto",
}

// RegisterWatchServiceServer registers srv on s.
func RegisterWatchServiceServer(s grpc.ServiceRegistrar, srv WatchServiceServer) {
	s.RegisterService(&WatchServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(WatchServiceServer, context.Context, *Req) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(WatchServiceServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		})
	}
}

func watchChangesHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.Int64Value)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(WatchServiceServer).WatchChanges(in, &grpc.GenericServerStream[wrapperspb.Int64Value, structpb.Struct]{ServerStream: stream})
}

// WatchServiceClient calls wallwatch.v1.WatchService and decodes replies.
type WatchServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewWatchServiceClient creates a client over cc.
func NewWatchServiceClient(cc grpc.ClientConnInterface) *WatchServiceClient {
	return &WatchServiceClient{cc: cc}
}

func (c *WatchServiceClient) ListWatches(ctx context.Context, opts ...grpc.CallOption) ([]WatchInfo, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListWatches, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	var resp ListWatchesResponse
	if err := decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Watches, nil
}

func (c *WatchServiceClient) StartWatch(ctx context.Context, req StartRequest, opts ...grpc.CallOption) (WatchInfo, error) {
	in, err := encode(req)
	if err != nil {
		return WatchInfo{}, err
	}
	return c.invokeInfo(ctx, methodStartWatch, in, opts)
}

func (c *WatchServiceClient) StopWatch(ctx context.Context, wallID int64, opts ...grpc.CallOption) (WatchInfo, error) {
	return c.invokeInfo(ctx, methodStopWatch, wrapperspb.Int64(wallID), opts)
}

func (c *WatchServiceClient) invokeInfo(ctx context.Context, method string, in any, opts []grpc.CallOption) (WatchInfo, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return WatchInfo{}, err
	}
	var info WatchInfo
	err := decode(out, &info)
	return info, err
}

func (c *WatchServiceClient) ListChanges(ctx context.Context, req ListChangesRequest, opts ...grpc.CallOption) (ChangePage, error) {
	in, err := encode(req)
	if err != nil {
		return ChangePage{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListChanges, in, out, opts...); err != nil {
		return ChangePage{}, err
	}
	var page ChangePage
	err = decode(out, &page)
	return page, err
}

// WatchChanges follows live events of wallID, or of every wall when wallID
// is zero. The stream ends when ctx is cancelled.
func (c *WatchServiceClient) WatchChanges(ctx context.Context, wallID int64, opts ...grpc.CallOption) (*EnvelopeStream, error) {
	stream, err := c.cc.NewStream(ctx, &WatchServiceDesc.Streams[0], methodWatchChanges, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.Int64Value, structpb.Struct]{ClientStream: stream}
	if err := x.SendMsg(wrapperspb.Int64(wallID)); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return &EnvelopeStream{stream: x}, nil
}

// EnvelopeStream yields decoded envelopes.
type EnvelopeStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks for the next envelope. It returns io.EOF when the server ends
// the stream.
func (s *EnvelopeStream) Recv() (Envelope, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	err = decode(msg, &env)
	return env, err
}
