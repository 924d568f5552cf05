package fanout

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rzbill/logfan/internal/dedup"
	"github.com/rzbill/logfan/internal/logrecord"
	"github.com/rzbill/logfan/internal/metrics"
	"github.com/rzbill/logfan/internal/registry"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// BatchStats summarizes one live batch.
type BatchStats struct {
	Records     int
	Undecodable int
	Groups      int
	Pushes      int
	Duplicates  int
	Gone        int
	Failed      int
}

// Engine is the live fan-out engine. It also handles control messages,
// running backfills for new subscriptions.
type Engine struct {
	store       Store
	processor   *Processor
	cache       *dedup.Cache
	deliverer   *Deliverer
	backfiller  *Backfiller
	concurrency int
	metrics     *metrics.Metrics
	logger      logpkg.Logger
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Concurrency bounds parallel pushes within one identifier group.
	Concurrency int
}

// NewEngine builds an Engine.
func NewEngine(store Store, p *Processor, cache *dedup.Cache, d *Deliverer, bf *Backfiller, opts EngineOptions, m *metrics.Metrics, logger logpkg.Logger) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &Engine{
		store: store, processor: p, cache: cache, deliverer: d, backfiller: bf,
		concurrency: opts.Concurrency, metrics: m, logger: logger,
	}
}

type idGroup struct {
	id      string
	records []logrecord.Raw
}

// groupByIdentifier buckets records by canonical identifier, keeping first
// appearance order. A record listing several identifiers joins every group.
func groupByIdentifier(records []logrecord.Raw) []*idGroup {
	var order []*idGroup
	byID := make(map[string]*idGroup)
	for _, r := range records {
		seen := make(map[string]struct{}, r.Identifiers.Len())
		for _, id := range r.Identifiers.Values() {
			c := logrecord.Canonical(id)
			if _, dup := seen[c]; dup || c == "" {
				continue
			}
			seen[c] = struct{}{}
			g := byID[c]
			if g == nil {
				g = &idGroup{id: c}
				byID[c] = g
				order = append(order, g)
			}
			g.records = append(g.records, r)
		}
	}
	return order
}

// HandleBatch fans a batch of base64-wrapped JSON payloads out to every
// subscribed connection. Undecodable records are skipped. A registry
// failure for one identifier does not stop the others; the first such
// failure is returned once the batch is done.
func (e *Engine) HandleBatch(ctx context.Context, payloads [][]byte) (BatchStats, error) {
	var stats BatchStats
	records := make([]logrecord.Raw, 0, len(payloads))
	for _, p := range payloads {
		stats.Records++
		raw, err := logrecord.DecodeBase64(p)
		if err != nil {
			stats.Undecodable++
			e.metrics.Undecodable(metrics.PathLive)
			e.logger.Debug("dropping undecodable live record", logpkg.Err(err))
			continue
		}
		records = append(records, raw)
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	for _, g := range groupByIdentifier(records) {
		stats.Groups++
		conns, err := e.store.Resolve(ctx, g.id)
		if err != nil {
			e.logger.Error("resolve subscribers", logpkg.Str("identifier", g.id), logpkg.Err(err))
			if firstErr == nil {
				firstErr = errors.Annotatef(err, "resolve %q", g.id)
			}
			continue
		}
		var eg errgroup.Group
		eg.SetLimit(e.concurrency)
		for _, conn := range conns {
			eg.Go(func() error {
				pushed, dups, err := e.deliverGroup(ctx, conn, g.records)
				mu.Lock()
				defer mu.Unlock()
				stats.Duplicates += dups
				if pushed {
					stats.Pushes++
				}
				switch {
				case errors.Is(err, ErrGone):
					stats.Gone++
				case err != nil:
					stats.Failed++
				}
				return nil
			})
		}
		_ = eg.Wait()
	}
	return stats, firstErr
}

// deliverGroup pushes the records conn has not seen as one JSON array. It
// reports whether a push was attempted and how many duplicates were dropped.
func (e *Engine) deliverGroup(ctx context.Context, conn registry.Connection, records []logrecord.Raw) (bool, int, error) {
	batch := make([]logrecord.Processed, 0, len(records))
	fps := make([]logrecord.Fingerprint, 0, len(records))
	dups := 0
	for _, raw := range records {
		rec, ok := e.processor.Prepare(conn, raw)
		if !ok {
			continue
		}
		fp := rec.Fingerprint()
		if e.cache.Seen(conn.ID, fp) {
			dups++
			e.metrics.Duplicate(metrics.PathLive)
			continue
		}
		batch = append(batch, rec)
		fps = append(fps, fp)
	}
	if len(batch) == 0 {
		return false, dups, nil
	}
	body, err := json.Marshal(batch)
	if err != nil {
		e.cache.Forget(conn.ID, fps...)
		return false, dups, errors.Annotate(err, "encode live batch")
	}
	return true, dups, e.deliverer.Deliver(ctx, metrics.PathLive, conn.ID, body, fps)
}
