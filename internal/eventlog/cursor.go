package eventlog

import (
	"encoding/binary"

	"github.com/juju/errors"

	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
)

// CommitCursor stores the last processed token for a group idempotently.
// If the provided token is lower than the stored one, the commit is ignored.
func (l *Log) CommitCursor(group string, tok Token) error {
	key := KeyCursor(l.stream, group, l.shard)
	cur, err := l.db.Get(key)
	switch {
	case err == nil && len(cur) >= 8:
		if tok.Seq() <= binary.BigEndian.Uint64(cur[:8]) {
			return nil
		}
	case err != nil && !pebblestore.IsNotFound(err):
		return errors.Annotatef(err, "read cursor %s", group)
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], tok.Seq())
	return errors.Annotatef(l.db.Set(key, b[:]), "commit cursor %s", group)
}

// GetCursor loads the current cursor token for a group.
func (l *Log) GetCursor(group string) (Token, bool) {
	cur, err := l.db.Get(KeyCursor(l.stream, group, l.shard))
	if err != nil || len(cur) < 8 {
		return Token{}, false
	}
	var t Token
	copy(t[:], cur[:8])
	return t, true
}
