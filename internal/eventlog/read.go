package eventlog

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/juju/errors"
)

// Token encodes the starting position as seq (8 bytes big-endian).
type Token [8]byte

// TokenFromSeq builds a token positioned at seq.
func TokenFromSeq(seq uint64) Token {
	var t Token
	binary.BigEndian.PutUint64(t[:], seq)
	return t
}

func (t Token) Seq() uint64 { return binary.BigEndian.Uint64(t[:]) }

// IsZero reports whether the token carries no position.
func (t Token) IsZero() bool { return t == Token{} }

type ReadOptions struct {
	Start   Token // if zero, begin from the first entry
	Limit   int
	Reverse bool
}

type Item struct {
	Seq     uint64
	Header  []byte
	Payload []byte
}

// Read returns up to Limit items starting at Start (inclusive). Reverse scans
// descending. The returned token points at the next unread entry and is zero
// once the scan is exhausted. Entries failing their checksum are skipped.
func (l *Log) Read(opts ReadOptions) ([]Item, Token, error) {
	startSeq := opts.Start.Seq()
	startKey := KeyLogEntry(l.stream, l.shard, startSeq)
	low := KeyLogEntry(l.stream, l.shard, 0)
	hi := KeyLogEntry(l.stream, l.shard, ^uint64(0))
	seqOffset := len(startKey) - 8

	items := make([]Item, 0, max(1, opts.Limit))
	var next Token

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return items, next, errors.Annotatef(err, "iterate %s/%d", l.stream, l.shard)
	}
	defer iter.Close()

	var valid bool
	step := iter.Next
	switch {
	case opts.Reverse && startSeq == 0:
		valid = iter.Last()
		step = iter.Prev
	case opts.Reverse:
		valid = iter.SeekLT(startKey)
		step = iter.Prev
	case startSeq == 0:
		valid = iter.First()
	default:
		valid = iter.SeekGE(startKey)
	}

	for valid && (opts.Limit == 0 || len(items) < opts.Limit) {
		seq := binary.BigEndian.Uint64(iter.Key()[seqOffset:])
		if dec, err := DecodeRecord(iter.Value()); err == nil {
			items = append(items, Item{Seq: seq, Header: dec.Header, Payload: dec.Payload})
		}
		valid = step()
	}
	if valid {
		copy(next[:], iter.Key()[seqOffset:])
	}
	if err := iter.Error(); err != nil {
		return items, Token{}, errors.Annotatef(err, "read %s/%d", l.stream, l.shard)
	}
	return items, next, nil
}
