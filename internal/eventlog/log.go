package eventlog

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/juju/errors"

	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
)

// AppendRecord represents a single appendable event.
type AppendRecord struct {
	Header  []byte
	Payload []byte
}

// Log provides append-only operations for one shard of a stream.
type Log struct {
	db     *pebblestore.DB
	stream string
	shard  uint32

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// OpenLog initializes a Log and loads the last sequence from metadata (if any).
func OpenLog(db *pebblestore.DB, stream string, shard uint32) (*Log, error) {
	l := &Log{db: db, stream: stream, shard: shard, notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyLogMeta(stream, shard))
	switch {
	case err == nil && len(meta) >= 8:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !pebblestore.IsNotFound(err):
		return nil, errors.Annotatef(err, "load meta for %s/%d", stream, shard)
	}
	return l, nil
}

func (l *Log) Stream() string { return l.stream }

func (l *Log) Shard() uint32 { return l.shard }

// LastSeq is the sequence of the newest appended entry, 0 when empty.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Append appends the provided records as a single atomic batch. Returns assigned seq numbers.
func (l *Log) Append(ctx context.Context, recs []AppendRecord) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	next := l.lastSeq
	seqs := make([]uint64, len(recs))
	for i, r := range recs {
		next++
		if err := b.Set(KeyLogEntry(l.stream, l.shard, next), EncodeRecord(r.Header, r.Payload), nil); err != nil {
			return nil, errors.Trace(err)
		}
		seqs[i] = next
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], next)
	if err := b.Set(KeyLogMeta(l.stream, l.shard), meta[:], nil); err != nil {
		return nil, errors.Trace(err)
	}

	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, errors.Annotatef(err, "append to %s/%d", l.stream, l.shard)
	}
	l.lastSeq = next
	// notify waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}
