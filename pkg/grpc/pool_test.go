package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

func TestPool_ReusesConnectionPerTarget(t *testing.T) {
	p := NewPool()
	defer p.Close()

	a, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	b, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	c, err := p.GetConnection("localhost:50052")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, p.Size())
}

func TestPool_ReplacesShutdownConnection(t *testing.T) {
	p := NewPool()
	defer p.Close()

	first, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, p.Size())
}

func TestPool_CloseEmptiesPool(t *testing.T) {
	p := NewPool()
	_, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Size())
}

func TestPool_LoggingInterceptor(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	core, logs := observer.New(zap.DebugLevel)
	p := NewPool(WithLogger(&logging.Logger{Logger: zap.New(core)}))
	defer p.Close()

	conn, err := p.GetConnection("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	_, err = healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	entries := logs.FilterMessage("rpc").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/grpc.health.v1.Health/Check", entries[0].ContextMap()["method"])
	assert.Equal(t, "OK", entries[0].ContextMap()["code"])
}
