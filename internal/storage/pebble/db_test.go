package pebblestore

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	writeBytes, readBytes int
	commits, commitOps    int
}

func (m *countingMetrics) ObserveWrite(_ time.Duration, n int) { m.writeBytes += n }
func (m *countingMetrics) ObserveRead(_ time.Duration, n int)  { m.readBytes += n }
func (m *countingMetrics) ObserveBatchCommit(_ time.Duration, ops, _ int) {
	m.commits++
	m.commitOps += ops
}

func openTestDB(t *testing.T) (*DB, *countingMetrics) {
	t.Helper()
	m := &countingMetrics{}
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeInterval, FsyncInterval: 2 * time.Millisecond, Metrics: m})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, m
}

func TestConnectionRowLifecycle(t *testing.T) {
	db, m := openTestDB(t)
	key := []byte("reg/conn/c1")

	require.NoError(t, db.Set(key, []byte(`{"connectionId":"c1"}`)))
	got, err := db.Get(key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"connectionId":"c1"}`, string(got))
	assert.Positive(t, m.writeBytes)
	assert.Positive(t, m.readBytes)

	require.NoError(t, db.Delete(key))
	_, err = db.Get(key)
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestBatchCommitsConnectionWithIndexRows(t *testing.T) {
	db, m := openTestDB(t)
	b := db.NewBatch()
	defer b.Close()
	require.NoError(t, b.Set([]byte("reg/conn/c1"), []byte("{}"), nil))
	require.NoError(t, b.Set([]byte("reg/first/build-42\x00c1"), nil, nil))
	require.NoError(t, db.CommitBatch(context.Background(), b))

	assert.Equal(t, 1, m.commits)
	assert.Equal(t, 2, m.commitOps)
	_, err := db.Get([]byte("reg/first/build-42\x00c1"))
	assert.NoError(t, err)
}

func TestSnapshotIgnoresLaterWrites(t *testing.T) {
	db, _ := openTestDB(t)
	key := []byte("streammeta/build-logs")
	require.NoError(t, db.Set(key, []byte("shards=4")))

	snap := db.NewSnapshot()
	defer snap.Close()
	require.NoError(t, db.Set(key, []byte("shards=8")))

	old, err := snap.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "shards=4", string(old))
	cur, err := db.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "shards=8", string(cur))
}

func TestScanPrefixStopsAtBoundary(t *testing.T) {
	db, _ := openTestDB(t)
	for _, k := range []string{"reg/conn/a", "reg/conn/b", "reg/conn/c", "reg/first/x", "reg/conn"} {
		require.NoError(t, db.Set([]byte(k), []byte("v")))
	}

	var keys []string
	require.NoError(t, ScanPrefix(db, []byte("reg/conn/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	assert.Equal(t, []string{"reg/conn/a", "reg/conn/b", "reg/conn/c"}, keys)

	keys = keys[:0]
	require.NoError(t, ScanPrefix(db, []byte("reg/conn/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return false
	}))
	assert.Len(t, keys, 1)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, "reg/conn0", string(PrefixUpperBound([]byte("reg/conn/"))))
	assert.Equal(t, "b", string(PrefixUpperBound([]byte{'a', 0xff})))
	assert.Nil(t, PrefixUpperBound([]byte{0xff, 0xff}))
}

func TestParseFsyncMode(t *testing.T) {
	for in, want := range map[string]FsyncMode{"always": FsyncModeAlways, "interval": FsyncModeInterval, "": FsyncModeInterval, "never": FsyncModeNever} {
		got, err := ParseFsyncMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFsyncMode("sometimes")
	assert.True(t, errors.Is(err, errors.NotValid))
}
