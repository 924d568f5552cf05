package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"

	cfgpkg "github.com/rzbill/logfan/internal/config"
	"github.com/rzbill/logfan/internal/eventlog"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
	"github.com/rzbill/logfan/internal/streammeta"
	"github.com/rzbill/logfan/internal/workqueue"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Metrics observes storage latencies. Optional.
	Metrics pebblestore.MetricsHook
}

// Runtime wires storage and config for a single-node instance. Logs and
// queues are opened once and shared so every caller sees the same sequence
// counters and append notifications.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config

	mu     sync.Mutex
	logs   map[logKey]*eventlog.Log
	queues map[string]*workqueue.WorkQueue
}

type logKey struct {
	stream string
	shard  uint32
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:     db,
		config: opts.Config,
		logs:   make(map[logKey]*eventlog.Log),
		queues: make(map[string]*workqueue.WorkQueue),
	}, nil
}

// Close stops queue sweepers and closes underlying resources.
func (r *Runtime) Close() error {
	r.mu.Lock()
	for _, q := range r.queues {
		q.StopSweeper()
	}
	r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return errors.Trace(err)
	}
	return it.Close()
}

// EnsureStream creates the stream record if absent using configured defaults.
func (r *Runtime) EnsureStream(name string) (streammeta.Meta, error) {
	return streammeta.EnsureStream(r.db, name, streammeta.Meta{
		Shards:          r.config.Stream.Shards,
		PayloadMaxBytes: r.config.Stream.PayloadMaxBytes,
	})
}

// OpenLog opens (or returns the shared) event log for a stream shard.
func (r *Runtime) OpenLog(stream string, shard uint32) (*eventlog.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := logKey{stream: stream, shard: shard}
	if l, ok := r.logs[k]; ok {
		return l, nil
	}
	l, err := eventlog.OpenLog(r.db, stream, shard)
	if err != nil {
		return nil, err
	}
	r.logs[k] = l
	return l, nil
}

// OpenQueue opens (or returns the shared) work queue.
func (r *Runtime) OpenQueue(name string) (*workqueue.WorkQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	q, err := workqueue.OpenQueue(r.db, name)
	if err != nil {
		return nil, err
	}
	r.queues[name] = q
	return q, nil
}

// DB exposes the underlying DB for components that own their keyspace.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
