package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"golang.org/x/time/rate"

	"github.com/rzbill/logfan/internal/dedup"
	"github.com/rzbill/logfan/internal/logrecord"
	"github.com/rzbill/logfan/internal/metrics"
	"github.com/rzbill/logfan/internal/registry"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Cursor reads one shard from its oldest retained record. Next returns an
// empty page once the shard is exhausted.
type Cursor interface {
	Next(ctx context.Context, limit int) ([][]byte, error)
}

// HistoricalLog is the read side of the sharded event log.
type HistoricalLog interface {
	ListShards(ctx context.Context) ([]uint32, error)
	OpenCursor(ctx context.Context, shard uint32) (Cursor, error)
}

// Backfill results reported to metrics.
const (
	ResultCompleted = "completed"
	ResultGone      = "gone"
	ResultFailed    = "failed"
)

// BackfillOptions configures a Backfiller.
type BackfillOptions struct {
	PageSize int
	// PageDelay is the minimum spacing between page reads. Zero disables
	// throttling.
	PageDelay time.Duration
}

// Stats summarizes one backfill run.
type Stats struct {
	Shards      int
	Scanned     int
	Matched     int
	Delivered   int
	Duplicates  int
	Undecodable int
	Failed      int
	Aborted     bool
}

// Backfiller replays the historical log to one connection.
type Backfiller struct {
	log       HistoricalLog
	processor *Processor
	cache     *dedup.Cache
	deliverer *Deliverer
	opts      BackfillOptions
	metrics   *metrics.Metrics
	logger    logpkg.Logger
}

// NewBackfiller builds a Backfiller.
func NewBackfiller(hl HistoricalLog, p *Processor, cache *dedup.Cache, d *Deliverer, opts BackfillOptions, m *metrics.Metrics, logger logpkg.Logger) *Backfiller {
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &Backfiller{log: hl, processor: p, cache: cache, deliverer: d, opts: opts, metrics: m, logger: logger}
}

func (b *Backfiller) limiter() *rate.Limiter {
	if b.opts.PageDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	lim := rate.NewLimiter(rate.Every(b.opts.PageDelay), 1)
	lim.Allow()
	return lim
}

// Run replays every shard in order to conn, pushing each matching record
// that conn has not already received. It returns ErrGone, with the partial
// stats, as soon as the connection is reported gone; remaining shards are
// not read.
func (b *Backfiller) Run(ctx context.Context, conn registry.Connection) (Stats, error) {
	start := time.Now()
	logger := b.logger.With(logpkg.Str("connection_id", conn.ID), logpkg.Any("identifiers", conn.Identifiers))
	stats, err := b.run(ctx, conn, logger)

	result := ResultCompleted
	switch {
	case errors.Is(err, ErrGone):
		result = ResultGone
	case err != nil:
		result = ResultFailed
	}
	b.metrics.BackfillFinished(result, time.Since(start))
	logger.Info("backfill finished",
		logpkg.Str("result", result),
		logpkg.Int("shards", stats.Shards),
		logpkg.Int("scanned", stats.Scanned),
		logpkg.Int("delivered", stats.Delivered),
		logpkg.Int("duplicates", stats.Duplicates),
		logpkg.Int("undecodable", stats.Undecodable),
		logpkg.Dur("elapsed", time.Since(start)))
	return stats, err
}

func (b *Backfiller) run(ctx context.Context, conn registry.Connection, logger logpkg.Logger) (Stats, error) {
	var stats Stats
	want := logrecord.NewIdentifiers(conn.Identifiers...)
	if want.Empty() {
		return stats, nil
	}
	shards, err := b.log.ListShards(ctx)
	if err != nil {
		return stats, errors.Annotate(err, "list shards")
	}
	lim := b.limiter()

	for _, shard := range shards {
		stats.Shards++
		cur, err := b.log.OpenCursor(ctx, shard)
		if err != nil {
			return stats, errors.Annotatef(err, "open cursor on shard %d", shard)
		}
		for {
			page, err := cur.Next(ctx, b.opts.PageSize)
			if err != nil {
				return stats, errors.Annotatef(err, "read shard %d", shard)
			}
			if len(page) == 0 {
				break
			}
			for _, payload := range page {
				stats.Scanned++
				if err := b.deliverOne(ctx, conn, want, payload, &stats, logger); errors.Is(err, ErrGone) {
					stats.Aborted = true
					logger.Warn("connection gone during backfill", logpkg.Int("shard", int(shard)))
					return stats, ErrGone
				}
			}
			if err := lim.Wait(ctx); err != nil {
				return stats, errors.Trace(err)
			}
		}
	}
	return stats, nil
}

func (b *Backfiller) deliverOne(ctx context.Context, conn registry.Connection, want logrecord.Identifiers, payload []byte, stats *Stats, logger logpkg.Logger) error {
	raw, err := logrecord.Decode(payload)
	if err != nil {
		stats.Undecodable++
		b.metrics.Undecodable(metrics.PathBackfill)
		logger.Debug("skipping undecodable record", logpkg.Err(err))
		return nil
	}
	if !raw.Identifiers.Intersects(want) {
		return nil
	}
	stats.Matched++
	rec, ok := b.processor.Prepare(conn, raw)
	if !ok {
		return nil
	}
	fp := rec.Fingerprint()
	if b.cache.Seen(conn.ID, fp) {
		stats.Duplicates++
		b.metrics.Duplicate(metrics.PathBackfill)
		return nil
	}
	body, err := json.Marshal(rec)
	if err != nil {
		b.cache.Forget(conn.ID, fp)
		logger.Warn("encode record", logpkg.Err(err))
		return nil
	}
	if err := b.deliverer.Deliver(ctx, metrics.PathBackfill, conn.ID, body, []logrecord.Fingerprint{fp}); err != nil {
		if !errors.Is(err, ErrGone) {
			stats.Failed++
		}
		return err
	}
	stats.Delivered++
	return nil
}
