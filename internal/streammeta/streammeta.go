// Package streammeta persists per-stream settings that must survive a
// restart with different configuration, most importantly the shard count.
package streammeta

import (
	"encoding/json"
	"time"

	"github.com/juju/errors"

	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
)

// Meta holds stream metadata.
type Meta struct {
	Name            string `json:"name"`
	CreatedAtMs     int64  `json:"createdAtMs"`
	Shards          int    `json:"shards"`
	PayloadMaxBytes int    `json:"payloadMaxBytes"`
}

var metaPrefix = []byte("streammeta/")

func metaKey(stream string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(stream))
	k = append(k, metaPrefix...)
	return append(k, stream...)
}

// EnsureStream creates a stream meta record from defaults if absent and
// returns the effective meta. An existing record wins over defaults so the
// shard layout never changes underneath stored entries.
func EnsureStream(db *pebblestore.DB, name string, defaults Meta) (Meta, error) {
	if defaults.Shards <= 0 {
		return Meta{}, errors.NotValidf("stream %q with %d shards", name, defaults.Shards)
	}
	key := metaKey(name)
	b, err := db.Get(key)
	switch {
	case err == nil && len(b) > 0:
		var m Meta
		if err := json.Unmarshal(b, &m); err == nil && m.Shards > 0 {
			return m, nil
		}
		// rewrite if corrupted
	case err != nil && !pebblestore.IsNotFound(err):
		return Meta{}, errors.Annotatef(err, "load stream meta %s", name)
	}
	m := defaults
	m.Name = name
	m.CreatedAtMs = time.Now().UnixMilli()
	bytes, err := json.Marshal(m)
	if err != nil {
		return Meta{}, errors.Trace(err)
	}
	if err := db.Set(key, bytes); err != nil {
		return Meta{}, errors.Annotatef(err, "store stream meta %s", name)
	}
	return m, nil
}
