package grpcserver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	cfgpkg "github.com/rzbill/logfan/internal/config"
	"github.com/rzbill/logfan/internal/runtime"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
)

const bufSize = 1 << 20

func dialer(t *testing.T, s *grpc.Server) func(context.Context, string) (net.Conn, error) {
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
}

func healthClient(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer(t, s.grpc)),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthOverGRPC(t *testing.T) {
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	require.NoError(t, err)
	defer rt.Close()

	c := healthClient(t, New(rt, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, svc := range []string{"", ServiceName} {
		res, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())
	}
}

type flakyChecker struct{ down atomic.Bool }

func (f *flakyChecker) CheckHealth(context.Context) error {
	if f.down.Load() {
		return errors.New("disk gone")
	}
	return nil
}

func TestHealthFollowsProbe(t *testing.T) {
	chk := &flakyChecker{}
	s := New(chk, nil)
	c := healthClient(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chk.down.Store(true)
	s.prober.probe(ctx)
	res, err := c.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, res.GetStatus())

	chk.down.Store(false)
	s.prober.probe(ctx)
	res, err = c.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())
}
