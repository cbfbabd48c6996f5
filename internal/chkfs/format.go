// Package chkfs implements CHKFS: the on-disk filesystem core of spec
// section 4.6 -- superblock, inode read/write-lock discipline, the
// direct/indirect/double-indirect block map, directory lookup, and
// block/inode allocation, layered on internal/bufc for all block I/O.
// It is grounded on original_source/k-chkfs.hh and k-chkfs.cc's
// superblock/inode/dirent layout, following the later snapshot spec
// section 9 singles out (dirty list, get_write/put_write, block-map
// iterator).
package chkfs

import "encoding/binary"

// BlockSize is the filesystem's block size, fixed to PAGESIZE.
const BlockSize = 4096

// Inode layout: type(2) + nlink(2) + size(4) + direct[NDIRECT](4 each) +
// indirect(4) + indirect2(4), padded to InodeSize, chosen per spec
// section 6 so NDIRECT is as large as possible while the inode still
// fits in 64 bytes with one indirect and one doubly-indirect pointer.
const (
	InodeSize  = 64
	NDIRECT    = 12
	PtrsPerBlk = BlockSize / 4 // 1024 block-number slots per indirect block
	NINDIRECT  = PtrsPerBlk
	NINDIRECT2 = PtrsPerBlk * PtrsPerBlk
	MaxFileBlocks = NDIRECT + NINDIRECT + NINDIRECT2
)

// NameSize is the fixed directory-entry name field width (spec section
// 6: "name[NAMESIZE]" NUL-padded); chosen so DirentSize divides BlockSize
// evenly (32 | 4096).
const (
	NameSize   = 28
	DirentSize = 4 + NameSize // inum + name
)

// Superblock magic, arbitrary but stable across mkfs/fsck runs.
const SBMagic = 0x43484B46 // "CHKF"

// InodeType values (spec section 6's on-disk `type` field; 0 = free).
type InodeType uint16

const (
	TypeFree InodeType = 0
	TypeRegular InodeType = 1
	TypeDirectory InodeType = 2
)

// RootInum is the filesystem root directory's fixed inode number.
const RootInum = 1

// Superblock mirrors the on-disk struct of spec section 6, little-endian,
// fixed offset at the start of block 0.
type Superblock struct {
	Magic     uint32
	NBlocks   uint64
	NSwap     uint64
	NInodes   uint64
	NJournal  uint64
	SwapBn    uint64
	FBBBn     uint64
	InodeBn   uint64
	DataBn    uint64
	JournalBn uint64
}

// Encode serializes sb into a zero-padded BlockSize buffer.
func (sb *Superblock) Encode() []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], sb.Magic)
	binary.LittleEndian.PutUint64(buf[8:16], sb.NBlocks)
	binary.LittleEndian.PutUint64(buf[16:24], sb.NSwap)
	binary.LittleEndian.PutUint64(buf[24:32], sb.NInodes)
	binary.LittleEndian.PutUint64(buf[32:40], sb.NJournal)
	binary.LittleEndian.PutUint64(buf[40:48], sb.SwapBn)
	binary.LittleEndian.PutUint64(buf[48:56], sb.FBBBn)
	binary.LittleEndian.PutUint64(buf[56:64], sb.InodeBn)
	binary.LittleEndian.PutUint64(buf[64:72], sb.DataBn)
	binary.LittleEndian.PutUint64(buf[72:80], sb.JournalBn)
	return buf
}

// DecodeSuperblock parses a BlockSize buffer into a Superblock.
func DecodeSuperblock(buf []byte) Superblock {
	var sb Superblock
	sb.Magic = binary.LittleEndian.Uint32(buf[0:4])
	sb.NBlocks = binary.LittleEndian.Uint64(buf[8:16])
	sb.NSwap = binary.LittleEndian.Uint64(buf[16:24])
	sb.NInodes = binary.LittleEndian.Uint64(buf[24:32])
	sb.NJournal = binary.LittleEndian.Uint64(buf[32:40])
	sb.SwapBn = binary.LittleEndian.Uint64(buf[40:48])
	sb.FBBBn = binary.LittleEndian.Uint64(buf[48:56])
	sb.InodeBn = binary.LittleEndian.Uint64(buf[56:64])
	sb.DataBn = binary.LittleEndian.Uint64(buf[64:72])
	sb.JournalBn = binary.LittleEndian.Uint64(buf[72:80])
	return sb
}

// onDiskInode is the 64-byte on-disk layout. Memory-only fields (mlock,
// mref) are never part of this encoding -- they live in the Inode
// wrapper type and are installed by the inode-cleaner on first load,
// per spec section 4.6's memory-only-overlay convention.
type onDiskInode struct {
	Type     uint16
	Nlink    uint16
	Size     uint32
	Direct   [NDIRECT]uint32
	Indirect uint32
	Indirect2 uint32
}

func decodeOnDiskInode(buf []byte) onDiskInode {
	var d onDiskInode
	d.Type = binary.LittleEndian.Uint16(buf[0:2])
	d.Nlink = binary.LittleEndian.Uint16(buf[2:4])
	d.Size = binary.LittleEndian.Uint32(buf[4:8])
	off := 8
	for i := 0; i < NDIRECT; i++ {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	d.Indirect2 = binary.LittleEndian.Uint32(buf[off : off+4])
	return d
}

func encodeOnDiskInode(buf []byte, d onDiskInode) {
	binary.LittleEndian.PutUint16(buf[0:2], d.Type)
	binary.LittleEndian.PutUint16(buf[2:4], d.Nlink)
	binary.LittleEndian.PutUint32(buf[4:8], d.Size)
	off := 8
	for i := 0; i < NDIRECT; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], d.Direct[i])
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], d.Indirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], d.Indirect2)
}

// inodesPerBlock is how many InodeSize slots fit in one disk block.
const inodesPerBlock = BlockSize / InodeSize

// Dirent is one fixed-size directory entry (spec section 6): an inode
// number plus a NUL-padded name. Inum == 0 marks a free slot.
type Dirent struct {
	Inum uint32
	Name string
}

func decodeDirent(buf []byte) Dirent {
	inum := binary.LittleEndian.Uint32(buf[0:4])
	nameBytes := buf[4 : 4+NameSize]
	n := 0
	for n < NameSize && nameBytes[n] != 0 {
		n++
	}
	return Dirent{Inum: inum, Name: string(nameBytes[:n])}
}

func encodeDirent(buf []byte, d Dirent) {
	binary.LittleEndian.PutUint32(buf[0:4], d.Inum)
	nameBytes := buf[4 : 4+NameSize]
	for i := range nameBytes {
		nameBytes[i] = 0
	}
	copy(nameBytes, d.Name)
}

// direntsPerBlock is how many fixed-size dirents fit in one data block.
const direntsPerBlock = BlockSize / DirentSize
