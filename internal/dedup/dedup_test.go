package dedup

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rzbill/logfan/internal/logrecord"
)

func TestSeenInsertsOnFirstCheck(t *testing.T) {
	c := New(10)
	assert.False(t, c.Seen("c1", 1))
	assert.True(t, c.Seen("c1", 1))
	assert.False(t, c.Seen("c2", 1), "sets are per connection")
	assert.Equal(t, 1, c.Len("c1"))
}

func TestEvictsOldestInserted(t *testing.T) {
	c := New(3)
	for fp := logrecord.Fingerprint(1); fp <= 4; fp++ {
		assert.False(t, c.Seen("c", fp))
	}
	assert.Equal(t, 3, c.Len("c"))
	// 1 was evicted; re-seeing it inserts it again and evicts 2.
	assert.False(t, c.Seen("c", 1))
	assert.False(t, c.Seen("c", 2))
	assert.True(t, c.Seen("c", 4))
}

func TestLookupDoesNotRefresh(t *testing.T) {
	c := New(2)
	c.Seen("c", 1)
	c.Seen("c", 2)
	assert.True(t, c.Seen("c", 1))
	c.Seen("c", 3)
	assert.False(t, c.Seen("c", 1), "oldest inserted is evicted even if recently checked")
}

func TestForgetAndClear(t *testing.T) {
	c := New(10)
	c.Seen("c", 1)
	c.Seen("c", 2)
	c.Forget("c", 1, 99)
	assert.Equal(t, 1, c.Len("c"))
	assert.False(t, c.Seen("c", 1))

	c.Clear("c")
	assert.Equal(t, 0, c.Len("c"))
	assert.Equal(t, 0, c.Connections())
	assert.False(t, c.Seen("c", 2))

	c.Forget("missing", 1)
}

func TestConcurrentSeenSingleWinner(t *testing.T) {
	c := New(DefaultCapacity)
	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("c", 7) {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}

func TestInsertAfterClearReachesFreshSet(t *testing.T) {
	c := New(10)
	stale := c.get("c1", true)
	c.Clear("c1")

	_, ok := stale.add(7, 10)
	assert.False(t, ok, "a cleared set rejects inserts")

	assert.False(t, c.Seen("c1", 7))
	assert.True(t, c.Seen("c1", 7), "the retry recorded the fingerprint in the live set")
	assert.Equal(t, 1, c.Len("c1"))
}
