package grpcserver

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	logpkg "github.com/rzbill/logfan/pkg/log"
)

// DefaultProbeInterval is how often storage health is re-checked.
const DefaultProbeInterval = 5 * time.Second

// Server owns the gRPC server instance and its health service.
type Server struct {
	grpc   *grpc.Server
	lis    net.Listener
	prober *prober
	every  time.Duration
	logger logpkg.Logger
}

// New constructs a gRPC server and registers the standard health service.
// The status is probed once here and then every DefaultProbeInterval while
// serving.
func New(checker HealthChecker, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logpkg.Nop()
	}
	logger = logger.WithComponent("grpc")
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary(logger)))
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		every:  DefaultProbeInterval,
		logger: logger,
	}
	s.prober = &prober{checker: checker, srv: health.NewServer(), logger: logger, last: -1}
	s.prober.probe(context.Background())
	healthpb.RegisterHealthServer(s.grpc, s.prober.srv)
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "listen %s", addr)
	}
	s.lis = l
	s.logger.Info("grpc health listening", logpkg.Str("addr", l.Addr().String()))
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.prober.run(pctx, s.every)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.prober.srv.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func logUnary(logger logpkg.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []logpkg.Field{logpkg.Str("method", info.FullMethod), logpkg.Dur("elapsed", time.Since(start))}
		if err != nil {
			fields = append(fields, logpkg.Err(err))
		}
		logger.Debug("grpc call", fields...)
		return resp, err
	}
}
