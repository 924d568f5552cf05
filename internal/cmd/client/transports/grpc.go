package transports

import (
	"context"

	"github.com/juju/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GrpcTransport probes the node's gRPC health service.
type GrpcTransport struct {
	addr string
	opts []grpc.DialOption
}

var _ HealthChecker = (*GrpcTransport)(nil)

// NewGrpcTransport targets addr with insecure credentials plus opts.
func NewGrpcTransport(addr string, opts ...grpc.DialOption) *GrpcTransport {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return &GrpcTransport{addr: addr, opts: opts}
}

// Health returns the serving status of the node.
func (t *GrpcTransport) Health(ctx context.Context) (string, error) {
	conn, err := grpc.NewClient(t.addr, t.opts...)
	if err != nil {
		return "", errors.Annotatef(err, "dial %s", t.addr)
	}
	defer func() { _ = conn.Close() }()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return "", errors.Annotate(err, "health check")
	}
	return res.GetStatus().String(), nil
}
