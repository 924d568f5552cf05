package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rzbill/logfan/internal/auth"
	cfgpkg "github.com/rzbill/logfan/internal/config"
	"github.com/rzbill/logfan/internal/control"
	"github.com/rzbill/logfan/internal/dedup"
	"github.com/rzbill/logfan/internal/fanout"
	"github.com/rzbill/logfan/internal/filter"
	"github.com/rzbill/logfan/internal/logstream"
	"github.com/rzbill/logfan/internal/metrics"
	"github.com/rzbill/logfan/internal/normalize"
	"github.com/rzbill/logfan/internal/registry"
	"github.com/rzbill/logfan/internal/runtime"
	grpcserver "github.com/rzbill/logfan/internal/server/grpc"
	httpserver "github.com/rzbill/logfan/internal/server/http"
	"github.com/rzbill/logfan/internal/server/http/controllers"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

type Options struct {
	DataDir       string
	GRPCAddr      string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
}

// Node is one fully wired instance: storage, the fan-out engines, the
// control worker pool, the stream tailer and both servers.
type Node struct {
	Runtime   *runtime.Runtime
	Stream    *logstream.Stream
	Registry  *registry.Registry
	Engine    *fanout.Engine
	Lifecycle *fanout.Lifecycle
	Pool      *control.Pool
	Tailer    *logstream.Tailer
	HTTP      *httpserver.Server
	GRPC      *grpcserver.Server
	Gatherer  prometheus.Gatherer

	opts   Options
	logger logpkg.Logger
}

// Build opens storage under opts.DataDir and wires every component. The
// caller owns the returned Node and must Close it.
func Build(opts Options) (*Node, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotate(err, "config")
	}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(cfg.Log)
		if err != nil {
			return nil, errors.Annotate(err, "logger")
		}
		logger = l
	}

	promReg := metrics.NewRegistry()
	m := metrics.New(promReg)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       cfgpkg.StoreDir(opts.DataDir),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        cfg,
		Metrics:       m.Storage(),
	})
	if err != nil {
		return nil, errors.Annotate(err, "open storage")
	}
	n := &Node{Runtime: rt, Gatherer: promReg, opts: opts, logger: logger}
	if err := n.wire(cfg, m); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) wire(cfg cfgpkg.Config, m *metrics.Metrics) error {
	logger := n.logger
	stream, err := logstream.Open(n.Runtime, cfg.Stream.Name)
	if err != nil {
		return errors.Annotatef(err, "open stream %s", cfg.Stream.Name)
	}
	queue, err := n.Runtime.OpenQueue(cfg.Control.Queue)
	if err != nil {
		return errors.Annotatef(err, "open control queue %s", cfg.Control.Queue)
	}
	verifier, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		return errors.Annotate(err, "auth")
	}
	norm, err := normalize.New(normalize.Config{
		SensitivePattern: cfg.Normalize.SensitivePattern,
		FilteredStrings:  cfg.Normalize.FilteredStrings,
	}, normalize.WithLogger(logger.WithComponent("normalize")))
	if err != nil {
		return err
	}
	mode, err := normalize.ParseMode(cfg.Normalize.Mode)
	if err != nil {
		return err
	}
	filters, err := filter.NewCompiler()
	if err != nil {
		return errors.Annotate(err, "filter compiler")
	}

	reg := registry.New(n.Runtime.DB())
	cache := dedup.New(cfg.Dedup.Capacity)
	hub := controllers.NewHub(time.Duration(cfg.Gateway.WriteTimeoutMs)*time.Millisecond, logger)

	proc := fanout.NewProcessor(norm, filters, mode, logger)
	deliverer := fanout.NewDeliverer(hub, reg, cache, m, logger)
	backfiller := fanout.NewBackfiller(stream, proc, cache, deliverer, fanout.BackfillOptions{
		PageSize:  cfg.Backfill.PageSize,
		PageDelay: cfg.Backfill.PageDelay(),
	}, m, logger)
	engine := fanout.NewEngine(reg, proc, cache, deliverer, backfiller, fanout.EngineOptions{
		Concurrency: cfg.Live.DeliveryConcurrency,
	}, m, logger)
	pool := control.NewPool(queue, engine, control.PoolOptions{
		Workers:      cfg.Control.Workers,
		Lease:        time.Duration(cfg.Control.LeaseMs) * time.Millisecond,
		MaxAttempts:  cfg.Control.MaxAttempts,
		RetryAfter:   time.Duration(cfg.Control.RetryAfterMs) * time.Millisecond,
		PollInterval: cfg.Control.PollInterval(),
	}, m, logger)
	lifecycle := fanout.NewLifecycle(reg, cache, control.NewDispatcher(queue), filters, m, logger)
	tailer := logstream.NewTailer(stream, engine, logstream.TailerOptions{
		Group:        cfg.Live.CursorGroup,
		BatchSize:    cfg.Live.BatchSize,
		PollInterval: cfg.Live.PollInterval(),
	}, logger)

	n.Stream, n.Registry, n.Engine, n.Lifecycle, n.Pool, n.Tailer = stream, reg, engine, lifecycle, pool, tailer
	n.HTTP = httpserver.New(controllers.Deps{
		Lifecycle:      lifecycle,
		Hub:            hub,
		Verifier:       verifier,
		Publisher:      stream,
		Connections:    reg,
		DeadLetters:    pool,
		Health:         n.Runtime,
		Gatherer:       n.Gatherer,
		Gateway:        cfg.Gateway,
		MaxIngestBytes: int64(cfg.Stream.PayloadMaxBytes) * int64(cfg.Live.BatchSize),
	}, logger)
	n.GRPC = grpcserver.New(n.Runtime, logger)
	return nil
}

// Run serves until ctx is done or a component fails. Servers whose address
// is empty are not started.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return errors.Annotate(n.Tailer.Run(gctx), "tailer") })
	g.Go(func() error { return errors.Annotate(n.Pool.Run(gctx), "control pool") })
	if n.opts.HTTPAddr != "" {
		g.Go(func() error { return n.HTTP.ListenAndServe(gctx, n.opts.HTTPAddr) })
	}
	if n.opts.GRPCAddr != "" {
		g.Go(func() error { return n.GRPC.ListenAndServe(gctx, n.opts.GRPCAddr) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops the servers and closes storage.
func (n *Node) Close() error {
	n.HTTP.Close()
	n.GRPC.Close()
	return n.Runtime.Close()
}

// Run builds a Node and serves until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := Build(opts)
	if err != nil {
		return err
	}
	defer n.Close()

	restore := logpkg.RedirectStdLog(n.logger)
	defer restore()

	n.logger.Info("starting logfan",
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", n.opts.DataDir),
		logpkg.Str("stream", n.Stream.Name()),
		logpkg.Int("shards", n.Stream.Shards()),
		logpkg.Str("auth", opts.Config.Auth.Mode),
	)
	return n.Run(sctx)
}
