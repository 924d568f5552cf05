package fanout

import (
	"context"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/control"
	"github.com/rzbill/logfan/internal/dedup"
	"github.com/rzbill/logfan/internal/filter"
	"github.com/rzbill/logfan/internal/metrics"
	"github.com/rzbill/logfan/internal/normalize"
	"github.com/rzbill/logfan/internal/registry"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Dispatcher hands control messages to the fan-out side.
type Dispatcher interface {
	Dispatch(ctx context.Context, m control.Message) error
}

// Lifecycle applies connection events to the registry and notifies the
// fan-out side. Subscribe returns as soon as the registry is updated and the
// backfill request is queued.
type Lifecycle struct {
	reg      *registry.Registry
	cache    *dedup.Cache
	dispatch Dispatcher
	filters  *filter.Compiler
	metrics  *metrics.Metrics
	logger   logpkg.Logger
}

// NewLifecycle builds a Lifecycle. filters may be nil, in which case
// subscription filters are rejected.
func NewLifecycle(reg *registry.Registry, cache *dedup.Cache, d Dispatcher, filters *filter.Compiler, m *metrics.Metrics, logger logpkg.Logger) *Lifecycle {
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &Lifecycle{reg: reg, cache: cache, dispatch: d, filters: filters, metrics: m, logger: logger}
}

// Open registers a new connection for principal.
func (l *Lifecycle) Open(ctx context.Context, cid, principal string, roles []string) error {
	if err := l.reg.Open(ctx, cid, principal, roles); err != nil {
		return err
	}
	l.cache.Clear(cid)
	l.metrics.ConnectionOpened()
	l.logger.Info("connection opened", logpkg.Str("connection_id", cid), logpkg.Str("principal", principal))
	return nil
}

// Subscribe replaces the connection's subscription and queues a backfill.
// If the backfill cannot be queued the previous subscription is restored,
// so a connection never receives live records without its replay.
func (l *Lifecycle) Subscribe(ctx context.Context, cid string, sub registry.Subscription) (registry.Connection, error) {
	if sub.Mode != "" {
		if _, err := normalize.ParseMode(sub.Mode); err != nil {
			return registry.Connection{}, err
		}
	}
	if sub.Filter != "" {
		if l.filters == nil {
			return registry.Connection{}, errors.NotSupportedf("subscription filters")
		}
		if _, err := l.filters.Compile(sub.Filter); err != nil {
			return registry.Connection{}, err
		}
	}
	prev, err := l.reg.Get(ctx, cid)
	if err != nil {
		return registry.Connection{}, err
	}
	conn, err := l.reg.SetSubscription(ctx, cid, sub)
	if err != nil {
		return registry.Connection{}, err
	}
	l.cache.Clear(cid)
	if err := l.dispatch.Dispatch(ctx, control.NewSet(cid, conn.Identifiers)); err != nil {
		if rerr := l.restore(context.WithoutCancel(ctx), prev); rerr != nil {
			l.logger.Error("restore subscription", logpkg.Str("connection_id", cid), logpkg.Err(rerr))
		}
		return registry.Connection{}, errors.Annotate(err, "queue backfill")
	}
	l.logger.Info("subscribed", logpkg.Str("connection_id", cid), logpkg.Any("identifiers", conn.Identifiers))
	return conn, nil
}

// restore puts prev's subscription back after a failed Subscribe.
func (l *Lifecycle) restore(ctx context.Context, prev registry.Connection) error {
	l.cache.Clear(prev.ID)
	if !prev.Subscribed() {
		return l.reg.ClearSubscription(ctx, prev.ID)
	}
	_, err := l.reg.SetSubscription(ctx, prev.ID, registry.Subscription{
		Identifiers: prev.Identifiers,
		Mode:        prev.Mode,
		Filter:      prev.Filter,
		Ignore:      prev.Ignore,
	})
	return err
}

// Unsubscribe clears the connection's subscription.
func (l *Lifecycle) Unsubscribe(ctx context.Context, cid string) error {
	if err := l.reg.ClearSubscription(ctx, cid); err != nil {
		return err
	}
	l.cache.Clear(cid)
	if err := l.dispatch.Dispatch(ctx, control.NewDrop(cid)); err != nil {
		return err
	}
	l.logger.Info("unsubscribed", logpkg.Str("connection_id", cid))
	return nil
}

// Disconnect removes the connection. Queueing the drop is best effort since
// the registry row is already gone.
func (l *Lifecycle) Disconnect(ctx context.Context, cid string) error {
	if err := l.reg.Close(ctx, cid); err != nil {
		return err
	}
	l.cache.Clear(cid)
	l.metrics.ConnectionClosed()
	if err := l.dispatch.Dispatch(ctx, control.NewDrop(cid)); err != nil {
		l.logger.Warn("queue drop after disconnect", logpkg.Str("connection_id", cid), logpkg.Err(err))
	}
	l.logger.Info("connection closed", logpkg.Str("connection_id", cid))
	return nil
}
