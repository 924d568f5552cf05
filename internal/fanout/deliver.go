package fanout

import (
	"context"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/dedup"
	"github.com/rzbill/logfan/internal/logrecord"
	"github.com/rzbill/logfan/internal/metrics"
	"github.com/rzbill/logfan/internal/registry"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// ErrGone is returned by a Pusher when the target connection no longer
// exists. It is terminal for that connection.
const ErrGone = errors.ConstError("connection gone")

// Pusher sends one payload to one connection. Any error other than ErrGone
// is treated as transient.
type Pusher interface {
	Push(ctx context.Context, cid string, payload []byte) error
}

// Store is the registry surface the engines need.
type Store interface {
	Get(ctx context.Context, cid string) (registry.Connection, error)
	Resolve(ctx context.Context, id string) ([]registry.Connection, error)
	Close(ctx context.Context, cid string) error
}

var _ Store = (*registry.Registry)(nil)

// Deliverer wraps every push. A gone connection is purged from the registry
// and the dedup cache; other failures are logged and their fingerprints
// released so a later attempt may deliver the records.
type Deliverer struct {
	pusher  Pusher
	store   Store
	cache   *dedup.Cache
	metrics *metrics.Metrics
	logger  logpkg.Logger
}

// NewDeliverer builds a Deliverer.
func NewDeliverer(p Pusher, store Store, cache *dedup.Cache, m *metrics.Metrics, logger logpkg.Logger) *Deliverer {
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &Deliverer{pusher: p, store: store, cache: cache, metrics: m, logger: logger}
}

// Deliver pushes payload, which carries records whose fingerprints are fps,
// to cid. It returns nil on success, ErrGone once the connection has been
// purged, or the transient push error after it has been logged.
func (d *Deliverer) Deliver(ctx context.Context, path, cid string, payload []byte, fps []logrecord.Fingerprint) error {
	err := d.pusher.Push(ctx, cid, payload)
	switch {
	case err == nil:
		d.metrics.Push(path, metrics.OutcomeDelivered)
		d.metrics.RecordsDelivered(path, len(fps))
		return nil
	case errors.Is(err, ErrGone):
		d.metrics.Push(path, metrics.OutcomeGone)
		d.Purge(ctx, cid)
		return ErrGone
	default:
		d.metrics.Push(path, metrics.OutcomeFailed)
		d.cache.Forget(cid, fps...)
		d.logger.Warn("push failed",
			logpkg.Str("path", path), logpkg.Str("connection_id", cid),
			logpkg.Int("records", len(fps)), logpkg.Err(err))
		return err
	}
}

// Purge removes every trace of cid: its registry row and its dedup set.
func (d *Deliverer) Purge(ctx context.Context, cid string) {
	d.metrics.Gone()
	d.cache.Clear(cid)
	if err := d.store.Close(context.WithoutCancel(ctx), cid); err != nil {
		d.logger.Error("purge gone connection", logpkg.Str("connection_id", cid), logpkg.Err(err))
		return
	}
	d.logger.Info("connection gone, purged", logpkg.Str("connection_id", cid))
}
