package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"syncqueue/internal/events"
	"syncqueue/internal/models"
	"syncqueue/internal/service"
	"syncqueue/internal/worker"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	bridgeServiceName = "syncqueue.bridge.v1.SyncBridge"

	methodSync      = "/" + bridgeServiceName + "/Sync"
	methodEnqueue   = "/" + bridgeServiceName + "/Enqueue"
	methodStatus    = "/" + bridgeServiceName + "/Status"
	methodSubscribe = "/" + bridgeServiceName + "/Subscribe"

	defaultSubscriberBuffer = 64
)

// Bridge is the queue surface offered to host applications.
type Bridge interface {
	Enqueue(ctx context.Context, payload, descriptor json.RawMessage, shouldSync bool) (string, error)
	Sync() error
	Subscribe(listener events.Listener) (cancel func())
	Status(ctx context.Context) (service.Status, error)
}

// SyncBridgeServer is implemented by the gRPC side of the bridge.
type SyncBridgeServer interface {
	Sync(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Enqueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Subscribe(*emptypb.Empty, EventStream) error
}

// EventStream is the server side of a Subscribe call.
type EventStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func RegisterSyncBridgeServer(s grpc.ServiceRegistrar, srv SyncBridgeServer) {
	s.RegisterService(&syncBridgeServiceDesc, srv)
}

var syncBridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: bridgeServiceName,
	HandlerType: (*SyncBridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sync", Handler: syncHandler},
		{MethodName: "Enqueue", Handler: enqueueHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "syncqueue/bridge/v1/bridge.proto",
}

func syncHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncBridgeServer).Sync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSync}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncBridgeServer).Sync(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func enqueueHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncBridgeServer).Enqueue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodEnqueue}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncBridgeServer).Enqueue(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncBridgeServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncBridgeServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SyncBridgeServer).Subscribe(in, &eventStream{stream})
}

// BridgeService serves the bridge over gRPC.
type BridgeService struct {
	bridge Bridge
	buffer int
	log    zerolog.Logger
}

func NewBridgeService(bridge Bridge, logger *zerolog.Logger) *BridgeService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "bridge").Logger()
	}
	return &BridgeService{bridge: bridge, buffer: defaultSubscriberBuffer, log: l}
}

func (s *BridgeService) Sync(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.bridge.Sync(); err != nil {
		return nil, grpcError(err)
	}
	return &emptypb.Empty{}, nil
}

// Enqueue expects the fields data, request and should_sync. data and request
// may each be an embedded value or a string holding JSON.
func (s *BridgeService) Enqueue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()

	payload, err := fieldJSON(fields["data"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "data: %v", err)
	}
	descriptor, err := fieldJSON(fields["request"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "request: %v", err)
	}
	if descriptor == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	msgID, err := s.bridge.Enqueue(ctx, payload, descriptor, fields["should_sync"].GetBoolValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{"msg_id": msgID})
}

func (s *BridgeService) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.bridge.Status(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{
		"pending":     st.Pending,
		"syncing":     st.Syncing,
		"subscribers": st.Subscribers,
	})
}

func (s *BridgeService) Subscribe(_ *emptypb.Empty, stream EventStream) error {
	ch, cancel := subscribeBuffered(s.bridge, s.buffer, s.log)
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			msg, err := eventStruct(ev)
			if err != nil {
				s.log.Error().Err(err).Str("kind", ev.Kind()).Msg("failed to encode event")
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// subscribeBuffered adapts the synchronous listener callback to a channel.
// Events are dropped when the consumer falls behind by more than size.
func subscribeBuffered(bridge Bridge, size int, log zerolog.Logger) (<-chan *models.SyncEvent, func()) {
	ch := make(chan *models.SyncEvent, size)
	cancel := bridge.Subscribe(func(ev *models.SyncEvent) {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("kind", ev.Kind()).Msg("subscriber lagging, event dropped")
		}
	})
	return ch, cancel
}

func fieldJSON(v *structpb.Value) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return nil, nil
	}
	return json.Marshal(v.AsInterface())
}

func eventStruct(ev *models.SyncEvent) (*structpb.Struct, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidDescriptor):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, worker.ErrPoolFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, worker.ErrPoolClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("bridge: %v", err))
	}
}
