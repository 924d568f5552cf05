package control

import (
	"context"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/workqueue"
)

// Queue priorities; lower dequeues first. Drops release state for gone
// connections and should not wait behind backfills. Handlers re-read the
// registry row, so reordering a set and a drop for one connection is safe.
const (
	PriorityDrop uint32 = 0
	PrioritySet  uint32 = 1
)

// Priority returns the queue priority for action a.
func Priority(a Action) uint32 {
	if a == ActionDrop {
		return PriorityDrop
	}
	return PrioritySet
}

// Dispatcher hands control messages to the durable control queue.
type Dispatcher struct {
	q *workqueue.WorkQueue
}

// NewDispatcher returns a dispatcher enqueuing into q.
func NewDispatcher(q *workqueue.WorkQueue) *Dispatcher {
	return &Dispatcher{q: q}
}

// Dispatch enqueues m. The caller does not wait for it to be handled, but a
// failure to enqueue is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := d.q.Enqueue(ctx, []byte(m.Action), payload, Priority(m.Action), 0, 0); err != nil {
		return errors.Annotatef(err, "dispatch %s for %s", m.Action, m.ConnectionID)
	}
	return nil
}
