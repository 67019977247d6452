package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"syncqueue/internal/config"
	"syncqueue/internal/models"
	"syncqueue/internal/service"
	"syncqueue/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestGRPCServer_New(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := config.APIConfig{
		GRPC: config.APIGRPCConfig{
			Port: 0, // Random port
		},
	}

	s, err := NewGRPCServer(&cfg, newFakeBridge(), &logger)
	assert.NoError(t, err)
	assert.NotNil(t, s)
	assert.NotEmpty(t, s.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Shutdown(ctx)
}

func TestGRPCServer_TLSMisconfigured(t *testing.T) {
	cfg := config.APIConfig{
		GRPC: config.APIGRPCConfig{TLS: config.APITLSConfig{Enabled: true}},
	}
	_, err := NewGRPCServer(&cfg, nil, nil)
	assert.Error(t, err)
}

func TestBuildTLSConfig(t *testing.T) {
	t.Run("EmptyPaths", func(t *testing.T) {
		_, err := buildTLSConfig(config.APITLSConfig{Enabled: true})
		assert.Error(t, err)
	})

	t.Run("InvalidCert", func(t *testing.T) {
		_, err := buildTLSConfig(config.APITLSConfig{
			Enabled:  true,
			CertFile: "/nonexistent",
			KeyFile:  "/nonexistent",
		})
		assert.Error(t, err)
	})
}

func TestGRPCServer_Serve(_ *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := config.APIConfig{
		GRPC: config.APIGRPCConfig{Port: 0},
	}
	s, _ := NewGRPCServer(&cfg, newFakeBridge(), &logger)

	go func() {
		_ = s.Serve()
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Shutdown(ctx)
}

func TestHTTPServer_StartStop(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := config.APIConfig{
		HTTP: config.APIHTTPConfig{Enabled: true, Port: 0},
	}
	s := NewHTTPServer(&cfg, nil, nil, nil, &logger)

	go func() {
		_ = s.Start()
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestHTTPServer_Readyz_NoDB(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := config.APIConfig{
		HTTP: config.APIHTTPConfig{Enabled: true, Port: 0},
	}
	s := NewHTTPServer(&cfg, nil, nil, nil, &logger)

	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	w := httptest.NewRecorder()
	s.handleReadyz(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChainUnaryInterceptors(t *testing.T) {
	callCount := 0
	var calls []string

	interceptor1 := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		calls = append(calls, "interceptor1")
		return handler(ctx, req)
	}

	interceptor2 := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		calls = append(calls, "interceptor2")
		return handler(ctx, req)
	}

	handler := func(ctx context.Context, req any) (any, error) {
		callCount++
		calls = append(calls, "handler")
		return "result", nil
	}

	chained := ChainUnaryInterceptors(interceptor1, interceptor2)
	info := &grpc.UnaryServerInfo{FullMethod: "test"}

	result, err := chained(context.Background(), "request", info, handler)
	if err != nil {
		t.Fatalf("chained interceptor: %v", err)
	}

	if result != "result" {
		t.Fatalf("expected 'result', got %v", result)
	}

	if callCount != 1 {
		t.Fatalf("expected handler called once, got %d", callCount)
	}

	expected := []string{"interceptor1", "interceptor2", "handler"}
	if !reflect.DeepEqual(calls, expected) {
		t.Fatalf("expected calls %v, got %v", expected, calls)
	}
}

func TestChainStreamInterceptors(t *testing.T) {
	var calls []string
	record := func(name string) grpc.StreamServerInterceptor {
		return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			calls = append(calls, name)
			return handler(srv, ss)
		}
	}

	chained := ChainStreamInterceptors(record("first"), record("second"))
	err := chained(nil, nil, &grpc.StreamServerInfo{FullMethod: "test"}, func(any, grpc.ServerStream) error {
		calls = append(calls, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chained interceptor: %v", err)
	}

	expected := []string{"first", "second", "handler"}
	if !reflect.DeepEqual(calls, expected) {
		t.Fatalf("expected calls %v, got %v", expected, calls)
	}
}

func newBufconnClient(t *testing.T, cfg *config.APIConfig, bridge Bridge) *grpc.ClientConn {
	t.Helper()
	logger := zerolog.New(io.Discard)
	lis := bufconn.Listen(1 << 20)

	srv, err := newGRPCServer(cfg, lis, bridge, &logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBridge_Enqueue(t *testing.T) {
	bridge := newFakeBridge()
	conn := newBufconnClient(t, &config.APIConfig{}, bridge)

	in, err := structpb.NewStruct(map[string]any{
		"data":        `{"answers":[1]}`,
		"request":     map[string]any{"type": "course_assessment", "request": map[string]any{"path": "/v1/assess"}},
		"should_sync": true,
	})
	require.NoError(t, err)

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(context.Background(), methodEnqueue, in, out))
	assert.Equal(t, "msg-1", out.GetFields()["msg_id"].GetStringValue())

	require.Len(t, bridge.enqueued, 1)
	assert.Equal(t, `"{\"answers\":[1]}"`, bridge.enqueued[0].payload)
	assert.JSONEq(t, `{"type":"course_assessment","request":{"path":"/v1/assess"}}`, bridge.enqueued[0].descriptor)
	assert.True(t, bridge.enqueued[0].shouldSync)
}

func TestBridge_EnqueueErrors(t *testing.T) {
	bridge := newFakeBridge()
	conn := newBufconnClient(t, &config.APIConfig{}, bridge)

	empty := new(structpb.Struct)
	err := conn.Invoke(context.Background(), methodEnqueue, empty, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	bridge.enqueueErr = service.ErrInvalidDescriptor
	in, _ := structpb.NewStruct(map[string]any{"request": "[]"})
	err = conn.Invoke(context.Background(), methodEnqueue, in, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestBridge_SyncAndStatus(t *testing.T) {
	bridge := newFakeBridge()
	bridge.status = service.Status{Pending: 2, Subscribers: 1}
	conn := newBufconnClient(t, &config.APIConfig{}, bridge)

	require.NoError(t, conn.Invoke(context.Background(), methodSync, &emptypb.Empty{}, new(emptypb.Empty)))
	assert.Equal(t, 1, bridge.syncCalls)

	bridge.syncErr = worker.ErrPoolFull
	err := conn.Invoke(context.Background(), methodSync, &emptypb.Empty{}, new(emptypb.Empty))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(context.Background(), methodStatus, &emptypb.Empty{}, out))
	assert.Equal(t, float64(2), out.GetFields()["pending"].GetNumberValue())
	assert.False(t, out.GetFields()["syncing"].GetBoolValue())
}

func TestBridge_Subscribe(t *testing.T) {
	bridge := newFakeBridge()
	conn := newBufconnClient(t, &config.APIConfig{}, bridge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}, methodSubscribe)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&emptypb.Empty{}))
	require.NoError(t, stream.CloseSend())

	require.Eventually(t, func() bool { return bridge.publisher.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	bridge.publisher.Publish(models.ErrorEvent(models.EventErrorBadRequest))

	out := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(out))
	assert.Equal(t, "BAD_REQUEST", out.GetFields()["error"].GetStringValue())

	cancel()
	assert.Eventually(t, func() bool { return bridge.publisher.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBridge_Auth(t *testing.T) {
	cfg := &config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "k", Extra: "e", Permissions: []string{"read:status"}}},
		},
	}
	conn := newBufconnClient(t, cfg, newFakeBridge())

	err := conn.Invoke(context.Background(), methodStatus, &emptypb.Empty{}, new(structpb.Struct))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "k", "x-api-extra", "e")
	assert.NoError(t, conn.Invoke(ctx, methodStatus, &emptypb.Empty{}, new(structpb.Struct)))

	err = conn.Invoke(ctx, methodSync, &emptypb.Empty{}, new(emptypb.Empty))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
