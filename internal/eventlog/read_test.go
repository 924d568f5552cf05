package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLog(t *testing.T, n int) (*Log, []uint64) {
	t.Helper()
	l := newTestLog(t)
	if n == 0 {
		return l, nil
	}
	seqs, err := l.Append(context.Background(), lines(n))
	require.NoError(t, err)
	return l, seqs
}

func seqsOf(items []Item) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.Seq
	}
	return out
}

func TestReadPagesForward(t *testing.T) {
	l, seqs := seedLog(t, 5)

	page, next, err := l.Read(ReadOptions{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, seqs[:3], seqsOf(page))
	assert.Equal(t, "job-1", string(page[0].Header))
	assert.Equal(t, "line 0", string(page[0].Payload))
	require.Equal(t, seqs[3], next.Seq())

	page, next, err = l.Read(ReadOptions{Start: next, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, seqs[3:], seqsOf(page))
	assert.True(t, next.IsZero(), "exhausted scan returns a zero token")
}

func TestReadReverseFromEnd(t *testing.T) {
	l, seqs := seedLog(t, 4)
	page, _, err := l.Read(ReadOptions{Reverse: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{seqs[3], seqs[2]}, seqsOf(page))
}

func TestReadStartsAtToken(t *testing.T) {
	l, seqs := seedLog(t, 4)
	page, _, err := l.Read(ReadOptions{Start: TokenFromSeq(seqs[2]), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, seqs[2:], seqsOf(page))
}

func TestReadEmptyShard(t *testing.T) {
	l, _ := seedLog(t, 0)
	page, next, err := l.Read(ReadOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.True(t, next.IsZero())
}
