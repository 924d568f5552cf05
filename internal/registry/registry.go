// Package registry is the durable subscription store: one row per connection
// holding its principal and subscribed identifiers, plus a fast-path index on
// the first identifier of each subscription.
//
// The index is not complete. Resolve unions the index hits with a scan of
// rows that contain the identifier at a non-first position, so a connection
// subscribed to ["a", "b"] is found for both "a" and "b".
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/logrecord"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
)

// ErrIdentifierRequired rejects a subscription with no usable identifier.
const ErrIdentifierRequired = errors.ConstError("identifierId required")

// Connection is a registry row.
type Connection struct {
	ID          string   `json:"id"`
	Principal   string   `json:"principal"`
	Roles       []string `json:"roles,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
	// First is the indexed identifier, empty when not subscribed.
	First       string `json:"first,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Filter      string `json:"filter,omitempty"`
	Ignore      bool   `json:"ignore,omitempty"`
	OpenedAtMs  int64  `json:"openedAtMs"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

// Subscribed reports whether the connection has an identifier set.
func (c Connection) Subscribed() bool { return len(c.Identifiers) > 0 }

// Matches reports whether any subscribed identifier matches id.
func (c Connection) Matches(id string) bool {
	return logrecord.NewIdentifiers(c.Identifiers...).Contains(id)
}

// Subscription is the request to replace a connection's identifier set.
type Subscription struct {
	Identifiers []string
	Mode        string
	Filter      string
	Ignore      bool
}

// Registry stores connections in Pebble. Mutations are serialized and
// committed as single batches; reads go through a snapshot, so a reader sees
// either the old or the new state of a connection, never a mix.
type Registry struct {
	db  *pebblestore.DB
	now func() time.Time

	mu sync.Mutex
}

// New returns a registry over db.
func New(db *pebblestore.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// Open creates the row for cid. Reopening an existing id starts from a fresh,
// unsubscribed row.
func (r *Registry) Open(ctx context.Context, cid, principal string, roles []string) error {
	if strings.TrimSpace(cid) == "" {
		return errors.NotValidf("empty connection id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.load(r.db, cid)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return err
	}
	now := r.now().UnixMilli()
	row := Connection{ID: cid, Principal: principal, Roles: roles, OpenedAtMs: now, UpdatedAtMs: now}
	return r.commit(ctx, cid, prev, &row)
}

// SetSubscription replaces the identifier set of an open connection and
// returns the stored row. Blank identifiers are dropped; if none remain the
// call fails with ErrIdentifierRequired and nothing is written.
func (r *Registry) SetSubscription(ctx context.Context, cid string, sub Subscription) (Connection, error) {
	ids := logrecord.NewIdentifiers(sub.Identifiers...).Values()
	if len(ids) == 0 {
		return Connection{}, ErrIdentifierRequired
	}
	for i, id := range ids {
		ids[i] = strings.TrimSpace(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.load(r.db, cid)
	if err != nil {
		return Connection{}, err
	}
	row := *prev
	row.Identifiers = ids
	row.First = ids[0]
	row.Mode = sub.Mode
	row.Filter = sub.Filter
	row.Ignore = sub.Ignore
	row.UpdatedAtMs = r.now().UnixMilli()
	if err := r.commit(ctx, cid, prev, &row); err != nil {
		return Connection{}, err
	}
	return row, nil
}

// ClearSubscription removes the identifier set and index entry. Unknown
// connections are not an error.
func (r *Registry) ClearSubscription(ctx context.Context, cid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.load(r.db, cid)
	if errors.Is(err, errors.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	row := *prev
	row.Identifiers = nil
	row.First = ""
	row.Mode = ""
	row.Filter = ""
	row.Ignore = false
	row.UpdatedAtMs = r.now().UnixMilli()
	return r.commit(ctx, cid, prev, &row)
}

// Close deletes the connection row and its index entry. Idempotent.
func (r *Registry) Close(ctx context.Context, cid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.load(r.db, cid)
	if errors.Is(err, errors.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.commit(ctx, cid, prev, nil)
}

// Get returns the row for cid or a NotFound error.
func (r *Registry) Get(_ context.Context, cid string) (Connection, error) {
	c, err := r.load(r.db, cid)
	if err != nil {
		return Connection{}, err
	}
	return *c, nil
}

// List returns every connection ordered by id.
func (r *Registry) List(_ context.Context) ([]Connection, error) {
	var out []Connection
	var decodeErr error
	err := pebblestore.ScanPrefix(r.db, connPrefix, func(_, v []byte) bool {
		var c Connection
		if err := json.Unmarshal(v, &c); err != nil {
			decodeErr = errors.Annotate(err, "decode connection row")
			return false
		}
		out = append(out, c)
		return true
	})
	if err != nil {
		return nil, errors.Annotate(err, "list connections")
	}
	return out, decodeErr
}

// Resolve returns the connections subscribed to id, matched canonically: the
// fast-path index hits first, then rows holding id at a non-first position.
func (r *Registry) Resolve(_ context.Context, id string) ([]Connection, error) {
	canon := logrecord.Canonical(id)
	if canon == "" {
		return nil, nil
	}
	snap := r.db.NewSnapshot()
	defer snap.Close()

	seen := make(map[string]struct{})
	var out []Connection

	var hits []string
	err := pebblestore.ScanPrefix(snap, firstIndexPrefix(canon), func(k, _ []byte) bool {
		if cid, ok := connFromIndexKey(k); ok {
			hits = append(hits, cid)
		}
		return true
	})
	if err != nil {
		return nil, errors.Annotatef(err, "resolve %q index", id)
	}
	for _, cid := range hits {
		c, err := r.load(snap, cid)
		if errors.Is(err, errors.NotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !c.Matches(canon) {
			continue
		}
		seen[cid] = struct{}{}
		out = append(out, *c)
	}

	var fallback []Connection
	var decodeErr error
	err = pebblestore.ScanPrefix(snap, connPrefix, func(_, v []byte) bool {
		var c Connection
		if err := json.Unmarshal(v, &c); err != nil {
			decodeErr = errors.Annotate(err, "decode connection row")
			return false
		}
		if _, dup := seen[c.ID]; dup {
			return true
		}
		if logrecord.Canonical(c.First) != canon && c.Matches(canon) {
			fallback = append(fallback, c)
		}
		return true
	})
	if err != nil {
		return nil, errors.Annotatef(err, "resolve %q scan", id)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	for _, c := range fallback {
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// ResolveSubscribers returns the ids of the connections subscribed to id.
func (r *Registry) ResolveSubscribers(ctx context.Context, id string) ([]string, error) {
	conns, err := r.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.ID
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Registry) load(rd pebblestore.Reader, cid string) (*Connection, error) {
	b, err := rd.Get(connKey(cid))
	if pebblestore.IsNotFound(err) {
		return nil, errors.NotFoundf("connection %q", cid)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "load connection %q", cid)
	}
	var c Connection
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, errors.Annotatef(err, "decode connection %q", cid)
	}
	return &c, nil
}

// commit replaces prev with next in one batch. A nil next deletes the row.
func (r *Registry) commit(ctx context.Context, cid string, prev, next *Connection) error {
	b := r.db.NewBatch()
	defer b.Close()

	if prev != nil && prev.First != "" {
		if err := b.Delete(firstIndexKey(prev.First, cid), nil); err != nil {
			return errors.Trace(err)
		}
	}
	if next == nil {
		if err := b.Delete(connKey(cid), nil); err != nil {
			return errors.Trace(err)
		}
	} else {
		val, err := json.Marshal(next)
		if err != nil {
			return errors.Trace(err)
		}
		if err := b.Set(connKey(cid), val, nil); err != nil {
			return errors.Trace(err)
		}
		if next.First != "" {
			if err := b.Set(firstIndexKey(next.First, cid), nil, nil); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return errors.Annotatef(err, "commit connection %q", cid)
	}
	return nil
}
