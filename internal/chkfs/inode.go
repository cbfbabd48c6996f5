package chkfs

import (
	"sync/atomic"

	"github.com/CS161/PugOS/internal/bufc"
	"github.com/CS161/PugOS/internal/common"
)

// Inode is the in-memory view of one on-disk inode: the decoded struct
// plus the two memory-only fields spec section 4.6 describes, `mlock`
// (0 free, 1..N shared holders, -1 exclusive) and `mref`. It punningly
// lives "inside" its cache entry the way the source does -- Go cannot
// overlay a struct onto a []byte the way C casts a buffer pointer, so
// Inode instead keeps its own decoded copy and a back-reference to the
// BufC entry whose bytes it was decoded from and must be re-encoded
// into before the entry is marked dirty (spec section 9's note: "a
// parallel side table keyed by (block_number, slot_in_block)").
type Inode struct {
	Inum int
	bn   uint64
	slot int // offset of this inode's 64 bytes within the block

	entry *bufc.Entry

	mlock int32
	mref  int32

	d onDiskInode
}

// lockRead implements spec section 4.6's lock_read: CAS the lock word
// from v to v+1, yielding and retrying while exclusive (-1) is held,
// spin-retrying on a losing CAS race against another reader.
func (ino *Inode) lockRead(y common.Yielder) {
	for {
		v := atomic.LoadInt32(&ino.mlock)
		if v == -1 {
			y.Yield()
			continue
		}
		if atomic.CompareAndSwapInt32(&ino.mlock, v, v+1) {
			return
		}
	}
}

// unlockRead implements unlock_read: CAS from v to v-1.
func (ino *Inode) unlockRead() {
	for {
		v := atomic.LoadInt32(&ino.mlock)
		if atomic.CompareAndSwapInt32(&ino.mlock, v, v-1) {
			return
		}
	}
}

// lockWrite implements lock_write: CAS from 0 to -1, yield and retry on
// failure.
func (ino *Inode) lockWrite(y common.Yielder) {
	for {
		if atomic.CompareAndSwapInt32(&ino.mlock, 0, -1) {
			return
		}
		y.Yield()
	}
}

// unlockWrite implements unlock_write: store 0.
func (ino *Inode) unlockWrite() {
	atomic.StoreInt32(&ino.mlock, 0)
}

func (ino *Inode) Type() InodeType  { return InodeType(ino.d.Type) }
func (ino *Inode) Nlink() int       { return int(ino.d.Nlink) }
func (ino *Inode) Size() int64      { return int64(ino.d.Size) }

func (ino *Inode) setDirty() {
	copy(ino.entry.Buf()[ino.slot:ino.slot+InodeSize], func() []byte {
		b := make([]byte, InodeSize)
		encodeOnDiskInode(b, ino.d)
		return b
	}())
}
