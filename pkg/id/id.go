package id

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/juju/errors"
)

// ID is 16 bytes: a big-endian millisecond timestamp followed by a
// big-endian sequence. Byte order equals creation order within a process.
type ID [16]byte

// Bytes returns a copy of the raw bytes.
func (i ID) Bytes() []byte { return append([]byte(nil), i[:]...) }

// String returns the 32-character lowercase hex form.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the millisecond timestamp embedded in the id.
func (i ID) Time() time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(i[0:8])))
}

// Compare returns -1, 0 or 1 comparing i and other byte-wise.
func (i ID) Compare(other ID) int {
	for idx := range i {
		switch {
		case i[idx] < other[idx]:
			return -1
		case i[idx] > other[idx]:
			return 1
		}
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Parse reads the hex form produced by String.
func Parse(s string) (ID, error) {
	var out ID
	if hex.DecodedLen(len(s)) != len(out) {
		return out, errors.NotValidf("id %q", s)
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, errors.NewNotValid(err, "id "+s)
	}
	return out, nil
}

// NowMs is the clock used by generators. Tests replace it.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Generator hands out strictly increasing ids. If the clock steps back it
// keeps using the last millisecond it saw; if the sequence is exhausted
// within a millisecond it waits for the next one.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint64
}

func NewGenerator() *Generator { return &Generator{} }

// Next returns the next id.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	switch {
	case ms > g.lastMs:
		g.lastMs = ms
		g.sequence = 0
	case g.sequence == math.MaxUint64:
		for ms <= g.lastMs {
			time.Sleep(50 * time.Microsecond)
			ms = NowMs()
		}
		g.lastMs = ms
		g.sequence = 0
	default:
		g.sequence++
	}

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(g.lastMs))
	binary.BigEndian.PutUint64(out[8:16], g.sequence)
	return out
}

var defaultGen = NewGenerator()

// New returns the next id from the process-wide generator.
func New() ID { return defaultGen.Next() }
