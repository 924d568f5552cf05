package fanout

import (
	"context"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/control"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

var _ control.Handler = (*Engine)(nil)

// HandleControl runs a backfill for set messages and releases delivery
// state for drop messages. The registry row is the source of truth: a set
// for a connection that has since closed or unsubscribed is a no-op.
func (e *Engine) HandleControl(ctx context.Context, m control.Message) error {
	logger := e.logger.With(logpkg.Str("connection_id", m.ConnectionID), logpkg.Str("action", string(m.Action)))
	conn, err := e.store.Get(ctx, m.ConnectionID)
	notFound := errors.Is(err, errors.NotFound)
	if err != nil && !notFound {
		return errors.Annotatef(err, "load connection %q", m.ConnectionID)
	}

	switch m.Action {
	case control.ActionSet:
		if notFound || !conn.Subscribed() {
			logger.Debug("skipping backfill, connection not subscribed")
			return nil
		}
		if e.backfiller == nil {
			return nil
		}
		_, err := e.backfiller.Run(ctx, conn)
		if errors.Is(err, ErrGone) {
			return nil
		}
		return err
	case control.ActionDrop:
		if notFound || !conn.Subscribed() {
			e.cache.Clear(m.ConnectionID)
		}
		return nil
	default:
		return errors.NotValidf("control action %q", m.Action)
	}
}
