package bufc

import (
	"testing"
	"time"

	"github.com/CS161/PugOS/internal/blockdev"
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBlocking runs fn as a scheduled task body so it has a real
// waitq.Blocker, and blocks the test until fn returns. Useful because
// GetDiskEntry/GetWrite/Sync all take a waitq.Blocker, even though
// MemDriver completes every read/write synchronously and so never
// actually parks the calling task.
func runBlocking(t *testing.T, s *sched.Scheduler, fn func(blk *sched.Blocker)) {
	t.Helper()
	done := make(chan struct{})
	task := sched.NewTask(1, 0, func(y *sched.Yielder) {
		fn(sched.NewBlocker(s, y))
		close(done)
	})
	task.SetState(common.Runnable)
	s.Enqueue(task)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never completed")
	}
}

func newTestCache(t *testing.T, nblocks uint64) (*sched.Scheduler, *Cache, *blockdev.MemDriver) {
	t.Helper()
	s := sched.New(1)
	s.Start()
	t.Cleanup(s.Stop)
	driver := blockdev.NewMemDriver(nblocks)
	cache := New(driver, nil)
	return s, cache, driver
}

func TestGetDiskEntryLoadsBlock(t *testing.T) {
	s, cache, driver := newTestCache(t, 10)
	driver.Block(3)[0] = 0xAB

	runBlocking(t, s, func(blk *sched.Blocker) {
		e, err := cache.GetDiskEntry(blk, 3, nil)
		require.Zero(t, err)
		assert.Equal(t, byte(0xAB), e.Buf()[0])
		cache.PutEntry(e)
	})

	// block 3 plus its prefetched successors 4..9 (the disk has 10 blocks)
	stats := cache.Stats()
	assert.Equal(t, 7, stats.Resident)
}

func TestGetDiskEntryIOError(t *testing.T) {
	s, cache, driver := newTestCache(t, 10)
	driver.FailReads = map[uint64]bool{5: true}

	runBlocking(t, s, func(blk *sched.Blocker) {
		_, err := cache.GetDiskEntry(blk, 5, nil)
		assert.NotZero(t, err)
	})
}

func TestGetWritePutWriteAndSync(t *testing.T) {
	s, cache, driver := newTestCache(t, 10)

	runBlocking(t, s, func(blk *sched.Blocker) {
		e, err := cache.GetDiskEntry(blk, 2, nil)
		require.Zero(t, err)

		require.Zero(t, cache.GetWrite(blk, e))
		e.Buf()[0] = 0x7A
		cache.PutWrite(e)

		require.Zero(t, cache.Sync(blk, false))
		cache.PutEntry(e)
	})

	assert.Equal(t, byte(0x7A), driver.Block(2)[0])
}

func TestEvictionUnderSlotPressure(t *testing.T) {
	s, cache, _ := newTestCache(t, NE+10)

	runBlocking(t, s, func(blk *sched.Blocker) {
		for bn := uint64(0); bn < NE+5; bn++ {
			e, err := cache.GetDiskEntry(blk, bn, nil)
			require.Zero(t, err)
			cache.PutEntry(e)
		}
	})

	stats := cache.Stats()
	assert.LessOrEqual(t, stats.Resident, NE)
}

func TestSyncDropEvictsCleanUnrefedEntries(t *testing.T) {
	s, cache, _ := newTestCache(t, 10)

	runBlocking(t, s, func(blk *sched.Blocker) {
		e, err := cache.GetDiskEntry(blk, 1, nil)
		require.Zero(t, err)
		cache.PutEntry(e)

		require.Zero(t, cache.Sync(blk, true))
	})

	// block 1 is evicted; the prefetched blocks 2..9 are kept by a drop
	stats := cache.Stats()
	assert.Equal(t, 8, stats.Resident)
}
