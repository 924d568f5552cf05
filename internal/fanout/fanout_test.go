package fanout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/logfan/internal/control"
	"github.com/rzbill/logfan/internal/dedup"
	"github.com/rzbill/logfan/internal/filter"
	"github.com/rzbill/logfan/internal/normalize"
	"github.com/rzbill/logfan/internal/registry"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
)

type fakePusher struct {
	mu     sync.Mutex
	pushes map[string][][]byte
	gone   map[string]bool
	fail   map[string]int
}

func newFakePusher() *fakePusher {
	return &fakePusher{pushes: map[string][][]byte{}, gone: map[string]bool{}, fail: map[string]int{}}
}

func (p *fakePusher) Push(_ context.Context, cid string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone[cid] {
		return ErrGone
	}
	if p.fail[cid] > 0 {
		p.fail[cid]--
		return errors.New("write timeout")
	}
	p.pushes[cid] = append(p.pushes[cid], payload)
	return nil
}

func (p *fakePusher) count(cid string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes[cid])
}

func (p *fakePusher) logs(t *testing.T, cid string) []string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, b := range p.pushes[cid] {
		var recs []map[string]any
		if len(b) > 0 && b[0] == '[' {
			require.NoError(t, json.Unmarshal(b, &recs))
		} else {
			var one map[string]any
			require.NoError(t, json.Unmarshal(b, &one))
			recs = append(recs, one)
		}
		for _, r := range recs {
			out = append(out, r["log"].(string))
		}
	}
	return out
}

type memLog struct {
	mu     sync.Mutex
	shards [][][]byte
	opened []uint32
}

func (l *memLog) ListShards(context.Context) ([]uint32, error) {
	ids := make([]uint32, len(l.shards))
	for i := range l.shards {
		ids[i] = uint32(i)
	}
	return ids, nil
}

func (l *memLog) OpenCursor(_ context.Context, shard uint32) (Cursor, error) {
	l.mu.Lock()
	l.opened = append(l.opened, shard)
	l.mu.Unlock()
	return &memCursor{data: l.shards[shard]}, nil
}

type memCursor struct {
	data [][]byte
	pos  int
}

func (c *memCursor) Next(_ context.Context, limit int) ([][]byte, error) {
	end := c.pos + limit
	if end > len(c.data) {
		end = len(c.data)
	}
	page := c.data[c.pos:end]
	c.pos = end
	return page, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []control.Message
	fail error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, m control.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.msgs = append(d.msgs, m)
	return nil
}

type harness struct {
	reg       *registry.Registry
	cache     *dedup.Cache
	pusher    *fakePusher
	hist      *memLog
	engine    *Engine
	lifecycle *Lifecycle
	dispatch  *recordingDispatcher
}

func newHarness(t *testing.T, shards ...[][]byte) *harness {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		reg:      registry.New(db),
		cache:    dedup.New(dedup.DefaultCapacity),
		pusher:   newFakePusher(),
		hist:     &memLog{shards: shards},
		dispatch: &recordingDispatcher{},
	}
	norm, err := normalize.New(normalize.Config{SensitivePattern: "(?i)(nvidia|triton)"})
	require.NoError(t, err)
	filters, err := filter.NewCompiler()
	require.NoError(t, err)
	proc := NewProcessor(norm, filters, normalize.ModeBuild, nil)
	d := NewDeliverer(h.pusher, h.reg, h.cache, nil, nil)
	bf := NewBackfiller(h.hist, proc, h.cache, d, BackfillOptions{PageSize: 2}, nil, nil)
	h.engine = NewEngine(h.reg, proc, h.cache, d, bf, EngineOptions{Concurrency: 4}, nil, nil)
	h.lifecycle = NewLifecycle(h.reg, h.cache, h.dispatch, filters, nil, nil)
	return h
}

func (h *harness) subscribe(t *testing.T, cid string, sub registry.Subscription) registry.Connection {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.lifecycle.Open(ctx, cid, "p-"+cid, nil))
	conn, err := h.lifecycle.Subscribe(ctx, cid, sub)
	require.NoError(t, err)
	return conn
}

func b64(s string) []byte {
	return []byte(base64.StdEncoding.EncodeToString([]byte(s)))
}

func TestBackfillThenLiveScenario(t *testing.T) {
	ctx := context.Background()
	r1 := `{"identifierId":"job-42","time":"t1","log":"job-42 - step one"}`
	r2 := `{"identifierId":["other","JOB-42 "],"time":"t2","log":"step two"}`
	r3 := `{"identifierId":"job-42","time":"t3","log":"[build] step three"}`
	shards := [][][]byte{
		{[]byte(r1), []byte(`{"identifierId":"job-1","log":"a"}`), []byte(`{"identifierId":"job-2","log":"b"}`), []byte("%%garbage")},
		{[]byte(`{"identifierId":"job-3","log":"c"}`), b64(r2), []byte(`{"identifierId":"job-4","log":"d"}`), []byte(r3), []byte(`{"identifierId":"job-5","log":"e"}`)},
	}
	h := newHarness(t, shards...)
	conn := h.subscribe(t, "c1", registry.Subscription{Identifiers: []string{"job-42"}})

	stats, err := h.engine.backfiller.Run(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Shards)
	assert.Equal(t, 3, stats.Delivered)
	assert.Equal(t, 1, stats.Undecodable)
	assert.Equal(t, []string{"step one", "step two", "step three"}, h.pusher.logs(t, "c1"))

	// A live copy of an already delivered record is suppressed.
	bs, err := h.engine.HandleBatch(ctx, [][]byte{b64(r1)})
	require.NoError(t, err)
	assert.Zero(t, bs.Pushes)
	assert.Equal(t, 1, bs.Duplicates)
	assert.Equal(t, 3, h.pusher.count("c1"))

	bs, err = h.engine.HandleBatch(ctx, [][]byte{b64(`{"identifierId":"job-42","time":"t4","log":"step four"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, bs.Pushes)
	assert.Equal(t, 4, h.pusher.count("c1"))
	assert.Equal(t, "step four", h.pusher.logs(t, "c1")[3])
}

func TestBackfillAbortsOnGone(t *testing.T) {
	ctx := context.Background()
	shards := [][][]byte{
		{[]byte(`{"identifierId":"x","log":"one"}`), []byte(`{"identifierId":"x","log":"two"}`)},
		{[]byte(`{"identifierId":"x","log":"three"}`)},
	}
	h := newHarness(t, shards...)
	conn := h.subscribe(t, "X", registry.Subscription{Identifiers: []string{"x"}})
	h.cache.Seen("X", 12345)
	h.pusher.gone["X"] = true

	stats, err := h.engine.backfiller.Run(ctx, conn)
	assert.True(t, errors.Is(err, ErrGone))
	assert.True(t, stats.Aborted)
	assert.Equal(t, []uint32{0}, h.hist.opened, "shard 2 is never read")

	_, err = h.reg.Get(ctx, "X")
	assert.True(t, errors.Is(err, errors.NotFound))
	ids, err := h.reg.ResolveSubscribers(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, h.cache.Len("X"))
}

func TestLiveCaseInsensitiveMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.subscribe(t, "c1", registry.Subscription{Identifiers: []string{"ABC "}})

	bs, err := h.engine.HandleBatch(ctx, [][]byte{b64(`{"identifierId":"abc","log":"hello"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, bs.Pushes)
	assert.Equal(t, []string{"hello"}, h.pusher.logs(t, "c1"))
}

func TestLiveDropsRedactedAndUndecodable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.subscribe(t, "c1", registry.Subscription{Identifiers: []string{"job"}})

	bs, err := h.engine.HandleBatch(ctx, [][]byte{
		b64(`{"identifierId":"job","log":"nvidia driver loaded"}`),
		[]byte(`{"identifierId":"job","log":"not wrapped"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, bs.Records)
	assert.Equal(t, 1, bs.Undecodable)
	assert.Zero(t, bs.Pushes)
	assert.Zero(t, h.pusher.count("c1"))
}

func TestLiveSameRecordOncePerConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.subscribe(t, "c1", registry.Subscription{Identifiers: []string{"a", "b"}})
	h.subscribe(t, "c2", registry.Subscription{Identifiers: []string{"b"}})

	batch := [][]byte{b64(`{"identifierId":["a","b"],"time":"t","log":"shared"}`)}
	bs, err := h.engine.HandleBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, bs.Groups)
	assert.Equal(t, 1, h.pusher.count("c1"))
	assert.Equal(t, 1, h.pusher.count("c2"))

	_, err = h.engine.HandleBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, h.pusher.count("c1"))
	assert.Equal(t, 1, h.pusher.count("c2"))
}

func TestLiveGoneIsolatedPerConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.subscribe(t, "dead", registry.Subscription{Identifiers: []string{"j"}})
	h.subscribe(t, "live", registry.Subscription{Identifiers: []string{"j"}})
	h.pusher.gone["dead"] = true

	bs, err := h.engine.HandleBatch(ctx, [][]byte{b64(`{"identifierId":"j","log":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, bs.Gone)
	assert.Equal(t, 1, h.pusher.count("live"))
	ids, err := h.reg.ResolveSubscribers(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids)
}

func TestLiveTransientFailureRedeliversLater(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.subscribe(t, "c1", registry.Subscription{Identifiers: []string{"j"}})
	h.pusher.fail["c1"] = 1

	batch := [][]byte{b64(`{"identifierId":"j","time":"t","log":"x"}`)}
	bs, err := h.engine.HandleBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, bs.Failed)
	assert.Zero(t, h.pusher.count("c1"))

	_, err = h.engine.HandleBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, h.pusher.count("c1"))
	_, err = h.reg.Get(ctx, "c1")
	assert.NoError(t, err, "transient failures keep the connection")
}

func TestSubscriptionFilterAndMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.subscribe(t, "c1", registry.Subscription{Identifiers: []string{"j"}, Filter: `stream == "stderr"`, Mode: "raw"})

	_, err := h.engine.HandleBatch(ctx, [][]byte{
		b64(`{"identifierId":"j","log":"[x] out"}`),
		b64(`{"identifierId":"j","stream":"stderr","log":"[x] err"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"[x] err"}, h.pusher.logs(t, "c1"))
}

func TestHandleControl(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, [][]byte{[]byte(`{"identifierId":"j","log":"old"}`)})
	h.subscribe(t, "c1", registry.Subscription{Identifiers: []string{"j"}})

	require.Len(t, h.dispatch.msgs, 1)
	require.NoError(t, h.engine.HandleControl(ctx, h.dispatch.msgs[0]))
	assert.Equal(t, []string{"old"}, h.pusher.logs(t, "c1"))

	require.NoError(t, h.lifecycle.Unsubscribe(ctx, "c1"))
	require.Len(t, h.dispatch.msgs, 2)
	assert.Equal(t, control.ActionDrop, h.dispatch.msgs[1].Action)

	// A stale set after unsubscribe does not replay.
	require.NoError(t, h.engine.HandleControl(ctx, h.dispatch.msgs[0]))
	assert.Equal(t, 1, h.pusher.count("c1"))

	h.cache.Seen("c1", 1)
	require.NoError(t, h.engine.HandleControl(ctx, h.dispatch.msgs[1]))
	assert.Zero(t, h.cache.Len("c1"))

	require.NoError(t, h.engine.HandleControl(ctx, control.NewSet("missing", []string{"j"})))
}

func TestLifecycleValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.lifecycle.Open(ctx, "c1", "p", nil))

	_, err := h.lifecycle.Subscribe(ctx, "c1", registry.Subscription{})
	assert.True(t, errors.Is(err, registry.ErrIdentifierRequired))
	_, err = h.lifecycle.Subscribe(ctx, "c1", registry.Subscription{Identifiers: []string{"j"}, Filter: "log +"})
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = h.lifecycle.Subscribe(ctx, "c1", registry.Subscription{Identifiers: []string{"j"}, Mode: "bogus"})
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Empty(t, h.dispatch.msgs, "rejected subscribes queue nothing")

	require.NoError(t, h.lifecycle.Disconnect(ctx, "c1"))
	require.NoError(t, h.lifecycle.Disconnect(ctx, "c1"))
	_, err = h.reg.Get(ctx, "c1")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestSubscribeRestoresRowWhenBackfillCannotQueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.subscribe(t, "c1", registry.Subscription{Identifiers: []string{"job-1"}, Mode: "raw"})
	require.NoError(t, h.lifecycle.Open(ctx, "c2", "p", nil))

	h.dispatch.fail = errors.New("queue full")
	_, err := h.lifecycle.Subscribe(ctx, "c1", registry.Subscription{Identifiers: []string{"job-2"}})
	require.Error(t, err)
	_, err = h.lifecycle.Subscribe(ctx, "c2", registry.Subscription{Identifiers: []string{"job-2"}})
	require.Error(t, err)

	conn, err := h.reg.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, conn.Identifiers)
	assert.Equal(t, "raw", conn.Mode)
	conn, err = h.reg.Get(ctx, "c2")
	require.NoError(t, err)
	assert.False(t, conn.Subscribed())

	ids, err := h.reg.ResolveSubscribers(ctx, "job-2")
	require.NoError(t, err)
	assert.Empty(t, ids, "no live delivery without a queued backfill")
	ids, err = h.reg.ResolveSubscribers(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)
}
