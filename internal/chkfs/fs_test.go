package chkfs

import (
	"testing"
	"time"

	"github.com/CS161/PugOS/internal/blockdev"
	"github.com/CS161/PugOS/internal/bufc"
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBlocking gives fn a real waitq.Blocker by running it as a scheduled
// task body, the same pattern internal/bufc's tests use -- Format/Mount
// and every FS method take a waitq.Blocker even though a MemDriver-backed
// cache never actually parks the calling task.
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

const testNInodes = 64

// newTestFS formats a fresh nblocks-block image and mounts it, returning
// the scheduler so callers can keep running further task bodies against
// the same FS/cache.
func newTestFS(t *testing.T, nblocks uint64) (*sched.Scheduler, *FS, *blockdev.MemDriver) {
	t.Helper()
	s := sched.New(1)
	s.Start()
	t.Cleanup(s.Stop)

	driver := blockdev.NewMemDriver(nblocks)
	cache := bufc.New(driver, nil)

	var fs *FS
	runBlocking(t, s, func(blk *sched.Blocker) {
		var err common.Err_t
		fs, err = Format(blk, cache, nblocks, testNInodes)
		require.Zero(t, err)
	})
	return s, fs, driver
}

func TestFormatThenMountRoundTrip(t *testing.T) {
	s, fs, driver := newTestFS(t, 64)
	sb := fs.Superblock()
	assert.Equal(t, uint32(SBMagic), sb.Magic)
	assert.Equal(t, uint64(64), sb.NBlocks)

	runBlocking(t, s, func(blk *sched.Blocker) {
		require.Zero(t, fs.Sync(blk, false))
	})

	cache2 := bufc.New(driver, nil)
	runBlocking(t, s, func(blk *sched.Blocker) {
		mounted, err := Mount(blk, cache2)
		require.Zero(t, err)
		assert.Equal(t, sb.NBlocks, mounted.Superblock().NBlocks)

		root, err := mounted.GetInode(blk, RootInum)
		require.Zero(t, err)
		assert.Equal(t, TypeDirectory, root.Type())
		assert.Equal(t, 2, root.Nlink())
		mounted.PutInode(root)
	})
}

func TestMountRejectsBadMagic(t *testing.T) {
	s := sched.New(1)
	s.Start()
	t.Cleanup(s.Stop)

	driver := blockdev.NewMemDriver(8)
	cache := bufc.New(driver, nil)

	runBlocking(t, s, func(blk *sched.Blocker) {
		_, err := Mount(blk, cache)
		assert.Equal(t, common.EINVAL, err)
	})
}

func TestFreeBlockStatsAccountsFormatUsage(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		free, total, err := fs.FreeBlockStats(blk)
		require.Zero(t, err)
		assert.Less(t, free, total)
		assert.Greater(t, free, uint64(0))
	})
}

func TestCreateLookupAndWriteReadFile(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)

		f, err := fs.Create(blk, root, "hello.txt")
		require.Zero(t, err)
		assert.Equal(t, TypeRegular, f.Type())

		payload := []byte("hello, chkfs")
		n, err := fs.WriteFile(blk, f, payload, 0)
		require.Zero(t, err)
		assert.Equal(t, len(payload), n)

		buf := make([]byte, len(payload))
		n, err = fs.ReadFile(blk, f, buf, 0)
		require.Zero(t, err)
		assert.Equal(t, len(payload), n)
		assert.Equal(t, payload, buf)

		inum, err := fs.Lookup(blk, root, "hello.txt")
		require.Zero(t, err)
		assert.Equal(t, f.Inum, inum)

		fs.PutInode(f)
		fs.PutInode(root)
	})
}

func TestCreateDuplicateNameFails(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)

		f, err := fs.Create(blk, root, "dup")
		require.Zero(t, err)
		fs.PutInode(f)

		_, err = fs.Create(blk, root, "dup")
		assert.Equal(t, common.EEXIST, err)

		fs.PutInode(root)
	})
}

func TestWriteFileSpansMultipleBlocks(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)
		f, err := fs.Create(blk, root, "big")
		require.Zero(t, err)

		payload := make([]byte, BlockSize+128)
		for i := range payload {
			payload[i] = byte(i)
		}
		n, err := fs.WriteFile(blk, f, payload, 0)
		require.Zero(t, err)
		assert.Equal(t, len(payload), n)
		assert.Equal(t, int64(len(payload)), f.Size())

		buf := make([]byte, len(payload))
		n, err = fs.ReadFile(blk, f, buf, 0)
		require.Zero(t, err)
		assert.Equal(t, len(payload), n)
		assert.Equal(t, payload, buf)

		fs.PutInode(f)
		fs.PutInode(root)
	})
}

func TestMkdirCreatesDotAndDotDot(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)

		sub, err := fs.Mkdir(blk, root, "sub")
		require.Zero(t, err)
		assert.Equal(t, TypeDirectory, sub.Type())
		assert.Equal(t, 2, sub.Nlink())

		selfInum, err := fs.Lookup(blk, sub, ".")
		require.Zero(t, err)
		assert.Equal(t, sub.Inum, selfInum)

		parentInum, err := fs.Lookup(blk, sub, "..")
		require.Zero(t, err)
		assert.Equal(t, root.Inum, parentInum)

		fs.PutInode(sub)
		fs.PutInode(root)
	})
}

func TestLinkAndUnlink(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)

		f, err := fs.Create(blk, root, "orig")
		require.Zero(t, err)
		require.Equal(t, 1, f.Nlink())

		require.Zero(t, fs.Link(blk, root, "alias", f.Inum))
		aliasInum, err := fs.Lookup(blk, root, "alias")
		require.Zero(t, err)
		assert.Equal(t, f.Inum, aliasInum)

		fs.PutInode(f)
		f, err = fs.GetInode(blk, aliasInum)
		require.Zero(t, err)
		assert.Equal(t, 2, f.Nlink())

		require.Zero(t, fs.Unlink(blk, root, "orig"))
		assert.Equal(t, 1, f.Nlink())

		gone, err := fs.Lookup(blk, root, "orig")
		require.Zero(t, err)
		assert.Zero(t, gone)

		fs.PutInode(f)
		fs.PutInode(root)
	})
}

func TestUnlinkNonemptyDirRefused(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)

		sub, err := fs.Mkdir(blk, root, "sub")
		require.Zero(t, err)
		child, err := fs.Create(blk, sub, "child")
		require.Zero(t, err)
		fs.PutInode(child)
		fs.PutInode(sub)

		err = fs.Unlink(blk, root, "sub")
		assert.Equal(t, common.EINVAL, err)

		fs.PutInode(root)
	})
}

func TestUnlinkDotDotRefused(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)
		assert.Equal(t, common.EINVAL, fs.Unlink(blk, root, ".."))
		fs.PutInode(root)
	})
}

func TestResolvePathWalksNestedDirs(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)

		sub, err := fs.Mkdir(blk, root, "a")
		require.Zero(t, err)
		leaf, err := fs.Create(blk, sub, "b")
		require.Zero(t, err)
		_, err = fs.WriteFile(blk, leaf, []byte("payload"), 0)
		require.Zero(t, err)
		fs.PutInode(leaf)
		fs.PutInode(sub)
		fs.PutInode(root)

		resolved, err := fs.ResolvePath(blk, "/a/b")
		require.Zero(t, err)
		assert.Equal(t, leaf.Inum, resolved.Inum)

		buf := make([]byte, len("payload"))
		n, err := fs.ReadFile(blk, resolved, buf, 0)
		require.Zero(t, err)
		assert.Equal(t, "payload", string(buf[:n]))
		fs.PutInode(resolved)
	})
}

func TestResolvePathMissingComponentIsENOENT(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		_, err := fs.ResolvePath(blk, "/nope")
		assert.Equal(t, common.ENOENT, err)
	})
}

func TestResolvePathThroughNonDirIsENOTDIR(t *testing.T) {
	s, fs, _ := newTestFS(t, 64)

	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)
		f, err := fs.Create(blk, root, "leaf")
		require.Zero(t, err)
		fs.PutInode(f)
		fs.PutInode(root)

		_, err = fs.ResolvePath(blk, "/leaf/anything")
		assert.Equal(t, common.ENOTDIR, err)
	})
}

func TestSyncPersistsWritesAcrossRemount(t *testing.T) {
	s, fs, driver := newTestFS(t, 64)

	var leafInum int
	runBlocking(t, s, func(blk *sched.Blocker) {
		root, err := fs.GetInode(blk, RootInum)
		require.Zero(t, err)
		f, err := fs.Create(blk, root, "durable")
		require.Zero(t, err)
		leafInum = f.Inum
		_, err = fs.WriteFile(blk, f, []byte("on disk"), 0)
		require.Zero(t, err)
		fs.PutInode(f)
		fs.PutInode(root)
		require.Zero(t, fs.Sync(blk, true))
	})

	cache2 := bufc.New(driver, nil)
	runBlocking(t, s, func(blk *sched.Blocker) {
		mounted, err := Mount(blk, cache2)
		require.Zero(t, err)

		f, err := mounted.GetInode(blk, leafInum)
		require.Zero(t, err)
		buf := make([]byte, len("on disk"))
		n, err := mounted.ReadFile(blk, f, buf, 0)
		require.Zero(t, err)
		assert.Equal(t, "on disk", string(buf[:n]))
		mounted.PutInode(f)
	})
}
