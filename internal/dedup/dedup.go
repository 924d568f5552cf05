// Package dedup tracks, per connection, the fingerprints already delivered
// so that backfill and live delivery never push the same record twice.
package dedup

import (
	"sync"

	"github.com/rzbill/logfan/internal/logrecord"
)

// DefaultCapacity is the per-connection fingerprint budget.
const DefaultCapacity = 1000

// Cache is a set of bounded per-connection fingerprint sets. Eviction is by
// insertion order: once a set exceeds its capacity the oldest inserted
// fingerprints are dropped. Lookups do not refresh an entry.
type Cache struct {
	capacity int

	mu    sync.RWMutex
	conns map[string]*set
}

type set struct {
	mu    sync.Mutex
	seen  map[logrecord.Fingerprint]struct{}
	order []logrecord.Fingerprint
	// detached is set by Clear once the set is no longer reachable from
	// the cache. Writers that lose the race retry against the new set.
	detached bool
}

// New returns a cache holding up to capacity fingerprints per connection.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{capacity: capacity, conns: make(map[string]*set)}
}

func (c *Cache) get(cid string, create bool) *set {
	c.mu.RLock()
	s := c.conns[cid]
	c.mu.RUnlock()
	if s != nil || !create {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s = c.conns[cid]; s == nil {
		s = &set{seen: make(map[logrecord.Fingerprint]struct{})}
		c.conns[cid] = s
	}
	return s
}

// Seen reports whether fp was already recorded for cid, recording it if not.
// The check and the insert are atomic, so of two concurrent callers with the
// same fingerprint exactly one gets false. An insert never lands in a set
// that a concurrent Clear has already dropped.
func (c *Cache) Seen(cid string, fp logrecord.Fingerprint) bool {
	for {
		if seen, ok := c.get(cid, true).add(fp, c.capacity); ok {
			return seen
		}
	}
}

// add records fp. ok is false when the set was detached before the lock
// was taken.
func (s *set) add(fp logrecord.Fingerprint, capacity int) (seen, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return false, false
	}
	if _, dup := s.seen[fp]; dup {
		return true, true
	}
	s.seen[fp] = struct{}{}
	s.order = append(s.order, fp)
	if over := len(s.order) - capacity; over > 0 {
		for _, old := range s.order[:over] {
			delete(s.seen, old)
		}
		s.order = append(s.order[:0:0], s.order[over:]...)
	}
	return false, true
}

// Forget removes fingerprints that were recorded but not delivered, so a
// later attempt can push them again.
func (c *Cache) Forget(cid string, fps ...logrecord.Fingerprint) {
	s := c.get(cid, false)
	if s == nil || len(fps) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[logrecord.Fingerprint]struct{}, len(fps))
	for _, fp := range fps {
		if _, ok := s.seen[fp]; ok {
			delete(s.seen, fp)
			drop[fp] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := s.order[:0]
	for _, fp := range s.order {
		if _, ok := drop[fp]; !ok {
			kept = append(kept, fp)
		}
	}
	s.order = kept
}

// Clear discards everything recorded for cid.
func (c *Cache) Clear(cid string) {
	c.mu.Lock()
	s := c.conns[cid]
	delete(c.conns, cid)
	c.mu.Unlock()
	if s != nil {
		s.mu.Lock()
		s.detached = true
		s.mu.Unlock()
	}
}

// Len returns the number of fingerprints held for cid.
func (c *Cache) Len(cid string) int {
	s := c.get(cid, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Connections returns the number of connections with a live set.
func (c *Cache) Connections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}
