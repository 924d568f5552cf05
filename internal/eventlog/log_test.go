package eventlog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLog opens shard 2 of "build-logs" in a temp dir closed with the test.
func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, l := openShard(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	return l
}

func lines(n int) []AppendRecord {
	recs := make([]AppendRecord, n)
	for i := range recs {
		recs[i] = AppendRecord{Header: []byte("job-1"), Payload: []byte(fmt.Sprintf("line %d", i))}
	}
	return recs
}

func TestAppendAssignsIncreasingSeqs(t *testing.T) {
	l := newTestLog(t)
	seqs, err := l.Append(context.Background(), lines(3))
	require.NoError(t, err)
	require.Len(t, seqs, 3)
	assert.Less(t, seqs[0], seqs[1])
	assert.Less(t, seqs[1], seqs[2])
	assert.Equal(t, seqs[2], l.LastSeq())
	assert.Equal(t, "build-logs", l.Stream())
	assert.EqualValues(t, 2, l.Shard())
}

func TestAppendResumesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	db, l := openShard(t, dir)
	before, err := l.Append(context.Background(), lines(1))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, l = openShard(t, dir)
	defer db.Close()
	assert.Equal(t, before[0], l.LastSeq())
	after, err := l.Append(context.Background(), lines(1))
	require.NoError(t, err)
	assert.Greater(t, after[0], before[0])
}

func TestShardsDoNotSeeEachOther(t *testing.T) {
	db, a := openShard(t, t.TempDir())
	defer db.Close()
	b, err := OpenLog(db, "build-logs", 3)
	require.NoError(t, err)

	_, err = a.Append(context.Background(), lines(2))
	require.NoError(t, err)
	_, err = b.Append(context.Background(), []AppendRecord{{Payload: []byte("other shard")}})
	require.NoError(t, err)

	items, _, err := b.Read(ReadOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "other shard", string(items[0].Payload))
}
