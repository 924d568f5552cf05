package workqueue

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/eventlog"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
)

// WorkQueue provides enqueue/lease operations with priority and delay.
type WorkQueue struct {
	db   *pebblestore.DB
	name string

	// mu serializes every mutation so meta counters stay consistent.
	mu      sync.Mutex
	lastSeq uint64

	// backpressure
	maxAvailable  int
	throttleSleep time.Duration

	// sweeper controls
	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

type QueueOptions struct {
	MaxAvailable  int           // throttle when available items > MaxAvailable (0 disables)
	ThrottleSleep time.Duration // sleep between retries when throttled
}

// LeasedMessage represents a dequeued message under a lease.
type LeasedMessage struct {
	Seq      uint64
	Header   []byte
	Payload  []byte
	ExpiryMs int64
	// Attempts counts earlier failed deliveries of this message.
	Attempts uint32
}

// DeadLetter is a message parked after exhausting its retries.
type DeadLetter struct {
	Seq     uint64
	Header  []byte
	Payload []byte
}

// OpenQueue initializes a WorkQueue and restores lastSeq from metadata if present.
func OpenQueue(db *pebblestore.DB, name string) (*WorkQueue, error) {
	q := &WorkQueue{db: db, name: name, throttleSleep: 10 * time.Millisecond}
	meta, err := db.Get(MetaKey(name))
	switch {
	case err == nil && len(meta) >= 8:
		q.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !pebblestore.IsNotFound(err):
		return nil, errors.Annotatef(err, "open queue %s", name)
	}
	return q, nil
}

func (q *WorkQueue) WithOptions(opts QueueOptions) *WorkQueue {
	q.maxAvailable = opts.MaxAvailable
	if opts.ThrottleSleep > 0 {
		q.throttleSleep = opts.ThrottleSleep
	}
	return q
}

func (q *WorkQueue) Name() string { return q.name }

// Available reports how many messages are ready to be leased.
func (q *WorkQueue) Available() int {
	meta, err := q.db.Get(MetaKey(q.name))
	if err != nil || len(meta) < 12 {
		return 0
	}
	return int(binary.BigEndian.Uint32(meta[8:12]))
}

// setMeta writes lastSeq and the available counter adjusted by delta into b.
// Callers hold q.mu.
func (q *WorkQueue) setMeta(b *pebble.Batch, lastSeq uint64, delta int) error {
	avail := q.Available() + delta
	if avail < 0 {
		avail = 0
	}
	var meta [12]byte
	binary.BigEndian.PutUint64(meta[0:8], lastSeq)
	binary.BigEndian.PutUint32(meta[8:12], uint32(avail))
	return b.Set(MetaKey(q.name), meta[:], nil)
}

func encodeLease(expiresMs int64, attempts uint32) []byte {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(expiresMs))
	binary.BigEndian.PutUint32(buf[8:12], attempts)
	return buf[:]
}

// lease returns the stored expiry and attempts for a message, zero when absent.
func (q *WorkQueue) lease(group string, id [16]byte) (int64, uint32) {
	v, err := q.db.Get(LeaseKey(q.name, group, id))
	if err != nil || len(v) < 12 {
		return 0, 0
	}
	return int64(binary.BigEndian.Uint64(v[0:8])), binary.BigEndian.Uint32(v[8:12])
}

func delayValue(priority uint32, seq uint64) []byte {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], priority)
	binary.BigEndian.PutUint64(buf[4:12], seq)
	return buf[:]
}

// Enqueue inserts a message with priority and optional delay.
// If nowMs <= 0, time.Now().UnixMilli() is used.
func (q *WorkQueue) Enqueue(ctx context.Context, header, payload []byte, priority uint32, delayMs int64, nowMs int64) (uint64, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	// simple throttle when available exceeds threshold
	if q.maxAvailable > 0 {
		for q.Available() >= q.maxAvailable {
			select {
			case <-ctx.Done():
				return 0, errors.Trace(ctx.Err())
			case <-time.After(q.throttleSleep):
			}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.db.NewBatch()
	defer b.Close()

	seq := q.lastSeq + 1
	if err := b.Set(MsgKey(q.name, seq), eventlog.EncodeRecord(header, payload), nil); err != nil {
		return 0, errors.Trace(err)
	}
	delta := 0
	if delayMs > 0 {
		if err := b.Set(DelayKey(q.name, uint64(nowMs+delayMs), seqToMsgID(seq)), delayValue(priority, seq), nil); err != nil {
			return 0, errors.Trace(err)
		}
	} else {
		if err := b.Set(PrioKey(q.name, priority, seq), nil, nil); err != nil {
			return 0, errors.Trace(err)
		}
		delta = 1
	}
	if err := q.setMeta(b, seq, delta); err != nil {
		return 0, errors.Trace(err)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, errors.Annotatef(err, "enqueue to %s", q.name)
	}
	q.lastSeq = seq
	return seq, nil
}

// promoteDue moves delayed messages that are due into the priority index.
// Callers hold q.mu.
func (q *WorkQueue) promoteDue(ctx context.Context, nowMs int64, max int) error {
	prefix := DelayPrefix(q.name)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: pebblestore.PrefixUpperBound(prefix)})
	if err != nil {
		return errors.Trace(err)
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	promoted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(prefix)+8+16 {
			continue
		}
		if int64(binary.BigEndian.Uint64(key[len(prefix):len(prefix)+8])) > nowMs {
			break
		}
		val := iter.Value()
		if len(val) < 12 {
			continue
		}
		prio := binary.BigEndian.Uint32(val[0:4])
		seq := binary.BigEndian.Uint64(val[4:12])
		if err := b.Delete(key, nil); err != nil {
			return errors.Trace(err)
		}
		if err := b.Set(PrioKey(q.name, prio, seq), nil, nil); err != nil {
			return errors.Trace(err)
		}
		promoted++
		if max > 0 && promoted >= max {
			break
		}
	}
	if promoted == 0 {
		return nil
	}
	if err := q.setMeta(b, q.lastSeq, promoted); err != nil {
		return errors.Trace(err)
	}
	return q.db.CommitBatch(ctx, b)
}

// Dequeue acquires up to count messages ordered by priority, creating leases
// for group. Attempts recorded by earlier failures are carried into the lease.
func (q *WorkQueue) Dequeue(ctx context.Context, group string, count int, leaseMs int64, nowMs int64) ([]LeasedMessage, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if count <= 0 {
		count = 1
	}
	if leaseMs <= 0 {
		leaseMs = 30_000
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.promoteDue(ctx, nowMs, count*4); err != nil {
		return nil, errors.Annotatef(err, "promote delayed in %s", q.name)
	}

	prefix := PrioPrefix(q.name)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: pebblestore.PrefixUpperBound(prefix)})
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	msgs := make([]LeasedMessage, 0, count)
	removed := 0
	for ok := iter.First(); ok && len(msgs) < count; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix)+4+16 {
			continue
		}
		id := [16]byte{}
		copy(id[:], k[len(k)-16:])
		seq := msgIDToSeq(id[:])

		// Availability entries are removed even when the message is gone.
		if err := b.Delete(k, nil); err != nil {
			return nil, errors.Trace(err)
		}
		removed++
		val, errGet := q.db.Get(MsgKey(q.name, seq))
		if errGet != nil {
			continue
		}
		dec, errDec := eventlog.DecodeRecord(val)
		if errDec != nil {
			continue
		}
		_, attempts := q.lease(group, id)
		exp := nowMs + leaseMs
		if err := b.Set(LeaseKey(q.name, group, id), encodeLease(exp, attempts), nil); err != nil {
			return nil, errors.Trace(err)
		}
		if err := b.Set(LeaseIdxKey(q.name, uint64(exp), id), []byte(group), nil); err != nil {
			return nil, errors.Trace(err)
		}
		msgs = append(msgs, LeasedMessage{Seq: seq, Header: dec.Header, Payload: dec.Payload, ExpiryMs: exp, Attempts: attempts})
	}
	if removed == 0 {
		return msgs, nil
	}
	if err := q.setMeta(b, q.lastSeq, -removed); err != nil {
		return nil, errors.Trace(err)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return nil, errors.Annotatef(err, "dequeue from %s", q.name)
	}
	return msgs, nil
}

// ExtendLease extends leases for the provided sequences by leaseMs (preserving attempts).
func (q *WorkQueue) ExtendLease(ctx context.Context, group string, seqs []uint64, leaseMs int64, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if leaseMs <= 0 {
		leaseMs = 30_000
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.db.NewBatch()
	defer b.Close()
	for _, seq := range seqs {
		id := seqToMsgID(seq)
		prevExp, attempts := q.lease(group, id)
		if prevExp == 0 {
			return errors.NotFoundf("lease for %d in %s/%s", seq, q.name, group)
		}
		exp := nowMs + leaseMs
		if err := b.Delete(LeaseIdxKey(q.name, uint64(prevExp), id), nil); err != nil {
			return errors.Trace(err)
		}
		if err := b.Set(LeaseKey(q.name, group, id), encodeLease(exp, attempts), nil); err != nil {
			return errors.Trace(err)
		}
		if err := b.Set(LeaseIdxKey(q.name, uint64(exp), id), []byte(group), nil); err != nil {
			return errors.Trace(err)
		}
	}
	return q.db.CommitBatch(ctx, b)
}

// Complete removes messages from lease state and deletes the message payload.
func (q *WorkQueue) Complete(ctx context.Context, group string, seqs []uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.db.NewBatch()
	defer b.Close()
	for _, seq := range seqs {
		id := seqToMsgID(seq)
		if exp, _ := q.lease(group, id); exp > 0 {
			if err := b.Delete(LeaseIdxKey(q.name, uint64(exp), id), nil); err != nil {
				return errors.Trace(err)
			}
		}
		if err := b.Delete(LeaseKey(q.name, group, id), nil); err != nil {
			return errors.Trace(err)
		}
		if err := b.Delete(MsgKey(q.name, seq), nil); err != nil {
			return errors.Trace(err)
		}
	}
	return q.db.CommitBatch(ctx, b)
}

// Fail handles retry-after or DLQ routing, and increments attempts. Retried
// messages come back at defaultPriority once retryAfterMs has passed.
func (q *WorkQueue) Fail(ctx context.Context, group string, seqs []uint64, retryAfterMs int64, toDLQ bool, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.db.NewBatch()
	defer b.Close()
	for _, seq := range seqs {
		id := seqToMsgID(seq)
		exp, attempts := q.lease(group, id)
		attempts++
		if exp > 0 {
			if err := b.Delete(LeaseIdxKey(q.name, uint64(exp), id), nil); err != nil {
				return errors.Trace(err)
			}
		}
		if toDLQ {
			if val, err := q.db.Get(MsgKey(q.name, seq)); err == nil {
				if err := b.Set(DLQKey(q.name, group, id), val, nil); err != nil {
					return errors.Trace(err)
				}
			}
			if err := b.Delete(MsgKey(q.name, seq), nil); err != nil {
				return errors.Trace(err)
			}
			if err := b.Delete(LeaseKey(q.name, group, id), nil); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		if err := b.Set(DelayKey(q.name, uint64(nowMs+retryAfterMs), id), delayValue(defaultRetryPriority, seq), nil); err != nil {
			return errors.Trace(err)
		}
		// parked lease keeps the attempt count for the next Dequeue
		if err := b.Set(LeaseKey(q.name, group, id), encodeLease(0, attempts), nil); err != nil {
			return errors.Trace(err)
		}
	}
	return q.db.CommitBatch(ctx, b)
}

const defaultRetryPriority = 10

// ListDLQ returns up to limit dead letters for group in sequence order.
func (q *WorkQueue) ListDLQ(group string, limit int) ([]DeadLetter, error) {
	var out []DeadLetter
	err := pebblestore.ScanPrefix(q.db, DLQPrefix(q.name, group), func(k, v []byte) bool {
		dec, err := eventlog.DecodeRecord(v)
		if err != nil {
			return true
		}
		out = append(out, DeadLetter{Seq: msgIDToSeq(k[len(k)-16:]), Header: dec.Header, Payload: dec.Payload})
		return limit <= 0 || len(out) < limit
	})
	return out, errors.Trace(err)
}

// ReclaimExpired returns messages whose lease expired before nowMs to
// availability at defaultPriority. Index entries left behind by extended or
// completed leases are dropped.
func (q *WorkQueue) ReclaimExpired(ctx context.Context, nowMs int64, max int, defaultPriority uint32) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	prefix := LeaseIdxPrefix(q.name)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: pebblestore.PrefixUpperBound(prefix)})
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	reclaimed, touched := 0, 0
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix)+8+16 {
			continue
		}
		exp := int64(binary.BigEndian.Uint64(k[len(prefix) : len(prefix)+8]))
		if exp > nowMs {
			break
		}
		var id [16]byte
		copy(id[:], k[len(k)-16:])
		group := string(iter.Value())
		if err := b.Delete(k, nil); err != nil {
			return reclaimed, errors.Trace(err)
		}
		touched++
		curExp, attempts := q.lease(group, id)
		if curExp != exp {
			continue
		}
		if err := b.Set(LeaseKey(q.name, group, id), encodeLease(0, attempts), nil); err != nil {
			return reclaimed, errors.Trace(err)
		}
		if err := b.Set(PrioKey(q.name, defaultPriority, msgIDToSeq(id[:])), nil, nil); err != nil {
			return reclaimed, errors.Trace(err)
		}
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if touched == 0 {
		return 0, nil
	}
	if err := q.setMeta(b, q.lastSeq, reclaimed); err != nil {
		return 0, errors.Trace(err)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, errors.Annotatef(err, "reclaim in %s", q.name)
	}
	return reclaimed, nil
}

// StartSweeper runs a background loop to reclaim expired leases.
func (q *WorkQueue) StartSweeper(interval time.Duration, maxPerTick int, defaultPriority uint32) {
	q.sweepMu.Lock()
	defer q.sweepMu.Unlock()
	if q.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxPerTick <= 0 {
		maxPerTick = 1024
	}
	stop, done := make(chan struct{}), make(chan struct{})
	q.sweepStop, q.sweepDone = stop, done
	go func() {
		defer close(done)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-stop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				_, _ = q.ReclaimExpired(context.Background(), time.Now().UnixMilli(), maxPerTick, defaultPriority)
			}
		}
	}()
}

// StopSweeper stops the background sweeper and waits for it to exit.
func (q *WorkQueue) StopSweeper() {
	q.sweepMu.Lock()
	stop, done := q.sweepStop, q.sweepDone
	q.sweepStop, q.sweepDone = nil, nil
	q.sweepMu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}
