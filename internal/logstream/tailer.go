package logstream

import (
	"context"
	"encoding/base64"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/logfan/internal/eventlog"
	"github.com/rzbill/logfan/internal/fanout"
	"github.com/rzbill/logfan/internal/logrecord"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// BatchHandler consumes live batches. *fanout.Engine implements it.
type BatchHandler interface {
	HandleBatch(ctx context.Context, payloads [][]byte) (fanout.BatchStats, error)
}

var _ BatchHandler = (*fanout.Engine)(nil)

// TailerOptions configures a Tailer.
type TailerOptions struct {
	// Group names the durable cursor the tailer commits per shard.
	Group        string
	BatchSize    int
	PollInterval time.Duration
	// FromStart makes a tailer without a committed cursor begin at the
	// oldest record instead of the current end.
	FromStart bool
}

// Tailer follows every shard of a stream and hands new records to a
// BatchHandler, base64-wrapped as live batches are.
type Tailer struct {
	stream *Stream
	h      BatchHandler
	opts   TailerOptions
	logger logpkg.Logger
}

// NewTailer builds a Tailer.
func NewTailer(s *Stream, h BatchHandler, opts TailerOptions, logger logpkg.Logger) *Tailer {
	if opts.Group == "" {
		opts.Group = "live"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 128
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &Tailer{stream: s, h: h, opts: opts, logger: logger.WithComponent("tailer")}
}

// Run tails all shards until ctx is done.
func (t *Tailer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range t.stream.logs {
		g.Go(func() error {
			t.tailShard(ctx, l)
			return nil
		})
	}
	return g.Wait()
}

func (t *Tailer) start(l *eventlog.Log) eventlog.Token {
	if tok, ok := l.GetCursor(t.opts.Group); ok {
		return tok
	}
	if t.opts.FromStart {
		return eventlog.Token{}
	}
	return eventlog.TokenFromSeq(l.LastSeq() + 1)
}

func (t *Tailer) tailShard(ctx context.Context, l *eventlog.Log) {
	logger := t.logger.With(logpkg.Str("stream", l.Stream()), logpkg.Int("shard", int(l.Shard())))
	tok := t.start(l)
	logger.Debug("tailing shard", logpkg.Uint64("from_seq", tok.Seq()))

	for ctx.Err() == nil {
		tok = t.Step(ctx, l, tok, logger)
	}
}

// Step reads one batch from l at tok, hands it off, commits the cursor and
// returns the next position. With nothing to read it waits for an append.
func (t *Tailer) Step(ctx context.Context, l *eventlog.Log, tok eventlog.Token, logger logpkg.Logger) eventlog.Token {
	items, _, err := l.Read(eventlog.ReadOptions{Start: tok, Limit: t.opts.BatchSize})
	if err != nil {
		logger.Warn("read shard", logpkg.Err(err))
		l.WaitForAppendContext(ctx, t.opts.PollInterval)
		return tok
	}
	if len(items) == 0 {
		l.WaitForAppendContext(ctx, t.opts.PollInterval)
		return tok
	}

	payloads := make([][]byte, len(items))
	for i, it := range items {
		body, err := logrecord.Unwrap(it.Payload)
		if err != nil {
			// Left as stored; the engine counts it undecodable.
			body = it.Payload
		}
		payloads[i] = []byte(base64.StdEncoding.EncodeToString(body))
	}
	stats, err := t.h.HandleBatch(ctx, payloads)
	if err != nil {
		logger.Error("live batch", logpkg.Err(err), logpkg.Int("records", len(items)))
	} else {
		logger.Debug("live batch",
			logpkg.Int("records", stats.Records),
			logpkg.Int("pushes", stats.Pushes),
			logpkg.Int("duplicates", stats.Duplicates))
	}

	next := eventlog.TokenFromSeq(items[len(items)-1].Seq + 1)
	if err := l.CommitCursor(t.opts.Group, next); err != nil {
		logger.Warn("commit cursor", logpkg.Err(err))
	}
	return next
}
