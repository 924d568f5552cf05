package logstream

import (
	"context"
	"hash/crc32"
	"strconv"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/eventlog"
	"github.com/rzbill/logfan/internal/fanout"
	"github.com/rzbill/logfan/internal/logrecord"
	"github.com/rzbill/logfan/internal/streammeta"
)

// Opener provides the storage a Stream is built on. *runtime.Runtime
// implements it.
type Opener interface {
	EnsureStream(name string) (streammeta.Meta, error)
	OpenLog(stream string, shard uint32) (*eventlog.Log, error)
}

// Position locates one published record.
type Position struct {
	Shard uint32 `json:"shard"`
	Seq   uint64 `json:"seq"`
}

// Stream is a named, sharded, append-only log of records.
type Stream struct {
	name string
	meta streammeta.Meta
	logs []*eventlog.Log
}

var _ fanout.HistoricalLog = (*Stream)(nil)

// Open opens every shard of the named stream, creating the stream with the
// opener's defaults if it does not exist yet.
func Open(o Opener, name string) (*Stream, error) {
	meta, err := o.EnsureStream(name)
	if err != nil {
		return nil, errors.Annotatef(err, "ensure stream %s", name)
	}
	s := &Stream{name: name, meta: meta, logs: make([]*eventlog.Log, meta.Shards)}
	for i := range s.logs {
		l, err := o.OpenLog(name, uint32(i))
		if err != nil {
			return nil, errors.Annotatef(err, "open %s/%d", name, i)
		}
		s.logs[i] = l
	}
	return s, nil
}

func (s *Stream) Name() string { return s.name }

// Shards returns the shard count fixed at stream creation.
func (s *Stream) Shards() int { return len(s.logs) }

// Log returns the log for shard.
func (s *Stream) Log(shard uint32) (*eventlog.Log, error) {
	if int(shard) >= len(s.logs) {
		return nil, errors.NotFoundf("shard %d of %s", shard, s.name)
	}
	return s.logs[shard], nil
}

// ShardFor routes an identifier to a shard. Records without an identifier
// land on shard 0.
func (s *Stream) ShardFor(id string) uint32 {
	c := logrecord.Canonical(id)
	if c == "" || len(s.logs) == 0 {
		return 0
	}
	return crc32.ChecksumIEEE([]byte(c)) % uint32(len(s.logs))
}

// Publish appends payloads, each a JSON object or base64-wrapped JSON
// object, routing by first identifier. Base64 wrappers are removed so the
// log only holds JSON text. Every payload is validated before anything is
// written.
func (s *Stream) Publish(ctx context.Context, payloads [][]byte) ([]Position, error) {
	type pending struct {
		idx int
		rec eventlog.AppendRecord
	}
	byShard := make(map[uint32][]pending)
	for i, p := range payloads {
		if limit := s.meta.PayloadMaxBytes; limit > 0 && len(p) > limit {
			return nil, errors.NotValidf("payload %d of %d bytes, limit %d", i, len(p), limit)
		}
		body, err := logrecord.Unwrap(p)
		if err != nil {
			return nil, errors.NewNotValid(err, "payload "+strconv.Itoa(i))
		}
		raw, err := logrecord.Decode(body)
		if err != nil {
			return nil, errors.NewNotValid(err, "payload "+strconv.Itoa(i))
		}
		first := raw.Identifiers.First()
		shard := s.ShardFor(first)
		byShard[shard] = append(byShard[shard], pending{
			idx: i,
			rec: eventlog.AppendRecord{Header: []byte(logrecord.Canonical(first)), Payload: body},
		})
	}

	out := make([]Position, len(payloads))
	for shard, items := range byShard {
		recs := make([]eventlog.AppendRecord, len(items))
		for i, it := range items {
			recs[i] = it.rec
		}
		seqs, err := s.logs[shard].Append(ctx, recs)
		if err != nil {
			return nil, errors.Annotatef(err, "append to %s/%d", s.name, shard)
		}
		for i, it := range items {
			out[it.idx] = Position{Shard: shard, Seq: seqs[i]}
		}
	}
	return out, nil
}

// ListShards returns the shard ids in order.
func (s *Stream) ListShards(context.Context) ([]uint32, error) {
	ids := make([]uint32, len(s.logs))
	for i := range ids {
		ids[i] = uint32(i)
	}
	return ids, nil
}

// OpenCursor positions a cursor at the oldest record of shard. The cursor
// stops at the shard's end as of this call, so a replay always terminates.
func (s *Stream) OpenCursor(_ context.Context, shard uint32) (fanout.Cursor, error) {
	l, err := s.Log(shard)
	if err != nil {
		return nil, err
	}
	return &cursor{log: l, end: l.LastSeq()}, nil
}

type cursor struct {
	log  *eventlog.Log
	next eventlog.Token
	end  uint64
	done bool
}

func (c *cursor) Next(ctx context.Context, limit int) ([][]byte, error) {
	if c.done || c.end == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	items, next, err := c.log.Read(eventlog.ReadOptions{Start: c.next, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(items))
	for _, it := range items {
		if it.Seq > c.end {
			c.done = true
			break
		}
		out = append(out, it.Payload)
	}
	if next.IsZero() || (len(items) > 0 && items[len(items)-1].Seq >= c.end) {
		c.done = true
	}
	c.next = next
	return out, nil
}
