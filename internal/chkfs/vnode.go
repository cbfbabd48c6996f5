package chkfs

import (
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
)

// InodeVnode adapts an Inode to proc.Vnode, routing read/write through
// CHKFS's block map and inode RW-lock discipline (spec section 3's
// Vnode variant "Inode (holds on-disk inode pointer)").
type InodeVnode struct {
	fs       *FS
	ino      *Inode
	refcount int32
}

// NewInodeVnode wraps ino (already ref'd via FS.GetInode) as a Vnode.
func NewInodeVnode(fs *FS, ino *Inode) *InodeVnode {
	return &InodeVnode{fs: fs, ino: ino, refcount: 1}
}

func (v *InodeVnode) Read(blk waitq.Blocker, buf []byte, off int64) (int, common.Err_t) {
	return v.fs.ReadFile(blk, v.ino, buf, off)
}

func (v *InodeVnode) Write(blk waitq.Blocker, buf []byte, off int64) (int, common.Err_t) {
	return v.fs.WriteFile(blk, v.ino, buf, off)
}

func (v *InodeVnode) Size() (int64, common.Err_t) {
	return v.ino.Size(), 0
}

func (v *InodeVnode) Ref() { v.refcount++ }

func (v *InodeVnode) Unref() {
	v.refcount--
	if v.refcount <= 0 {
		v.fs.PutInode(v.ino)
	}
}
