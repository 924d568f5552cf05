package control

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rzbill/logfan/internal/metrics"
	"github.com/rzbill/logfan/internal/workqueue"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Handler processes one control message. A returned error schedules a retry.
type Handler interface {
	HandleControl(ctx context.Context, m Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m Message) error

func (f HandlerFunc) HandleControl(ctx context.Context, m Message) error { return f(ctx, m) }

// DefaultGroup is the consumer group control workers lease under.
const DefaultGroup = "fanout"

// Failure dispositions reported to metrics.
const (
	DispositionRetry = "retry"
	DispositionDLQ   = "dlq"
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	Group        string
	Workers      int
	Lease        time.Duration
	MaxAttempts  int
	RetryAfter   time.Duration
	PollInterval time.Duration
}

func (o *PoolOptions) defaults() {
	if o.Group == "" {
		o.Group = DefaultGroup
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
}

// Pool leases control messages and runs them through a Handler. Leases are
// kept alive while a handler runs; messages that keep failing are parked in
// the queue's dead-letter set.
type Pool struct {
	q       *workqueue.WorkQueue
	h       Handler
	opts    PoolOptions
	metrics *metrics.Metrics
	logger  logpkg.Logger
}

// NewPool builds a pool over q.
func NewPool(q *workqueue.WorkQueue, h Handler, opts PoolOptions, m *metrics.Metrics, logger logpkg.Logger) *Pool {
	opts.defaults()
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &Pool{q: q, h: h, opts: opts, metrics: m, logger: logger.WithComponent("control")}
}

// Run starts the workers and the lease sweeper and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	// Expired leases are requeued behind pending drops.
	p.q.StartSweeper(p.opts.Lease/2, 128, PrioritySet)
	defer p.q.StopSweeper()

	p.logger.Info("control workers started",
		logpkg.Int("workers", p.opts.Workers), logpkg.Str("queue", p.q.Name()))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := p.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("control dequeue failed", logpkg.Err(err))
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// Poll leases at most one message and handles it, returning how many were
// handled.
func (p *Pool) Poll(ctx context.Context) (int, error) {
	msgs, err := p.q.Dequeue(ctx, p.opts.Group, 1, p.opts.Lease.Milliseconds(), 0)
	if err != nil {
		return 0, err
	}
	for _, lm := range msgs {
		p.handle(ctx, lm)
	}
	return len(msgs), nil
}

func (p *Pool) handle(ctx context.Context, lm workqueue.LeasedMessage) {
	seqs := []uint64{lm.Seq}
	logger := p.logger.With(logpkg.Uint64("seq", lm.Seq), logpkg.Int("attempts", int(lm.Attempts)))

	m, err := Decode(lm.Payload)
	if err != nil {
		logger.Error("dropping malformed control message", logpkg.Err(err))
		p.fail(ctx, logger, seqs, true)
		return
	}
	logger = logger.With(logpkg.Str("action", string(m.Action)), logpkg.Str("connection_id", m.ConnectionID))

	err = p.runLeased(ctx, seqs, func(hctx context.Context) error {
		return p.h.HandleControl(hctx, m)
	})
	if err == nil {
		if err := p.q.Complete(context.WithoutCancel(ctx), p.opts.Group, seqs); err != nil {
			logger.Error("complete control message", logpkg.Err(err))
		}
		return
	}
	toDLQ := int(lm.Attempts)+1 >= p.opts.MaxAttempts
	logger.Warn("control message failed", logpkg.Err(err), logpkg.Bool("dead_letter", toDLQ))
	p.fail(ctx, logger, seqs, toDLQ)
}

// runLeased runs fn while extending the lease on seqs.
func (p *Pool) runLeased(ctx context.Context, seqs []uint64, fn func(context.Context) error) error {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(p.opts.Lease / 3)
		defer t.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-t.C:
				if err := p.q.ExtendLease(hctx, p.opts.Group, seqs, p.opts.Lease.Milliseconds(), 0); err != nil && hctx.Err() == nil {
					p.logger.Warn("extend control lease", logpkg.Err(err))
				}
			}
		}
	}()
	err := fn(hctx)
	cancel()
	wg.Wait()
	return errors.Trace(err)
}

func (p *Pool) fail(ctx context.Context, logger logpkg.Logger, seqs []uint64, toDLQ bool) {
	disposition := DispositionRetry
	if toDLQ {
		disposition = DispositionDLQ
	}
	p.metrics.ControlFailure(disposition)
	if err := p.q.Fail(context.WithoutCancel(ctx), p.opts.Group, seqs, p.opts.RetryAfter.Milliseconds(), toDLQ, 0); err != nil {
		logger.Error("fail control message", logpkg.Err(err))
	}
}

// DeadLetters returns up to limit parked control messages.
func (p *Pool) DeadLetters(limit int) ([]Message, error) {
	dl, err := p.q.ListDLQ(p.opts.Group, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(dl))
	for _, d := range dl {
		m, err := Decode(d.Payload)
		if err != nil {
			m = Message{Type: "invalid", Action: Action(d.Header)}
		}
		out = append(out, m)
	}
	return out, nil
}
