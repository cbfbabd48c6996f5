package main

import (
	"fmt"
	"os"

	"github.com/CS161/PugOS/internal/blockdev"
)

// ensureDiskImage makes sure path exists and is sized to exactly
// nblocks*BlockSize, creating it (reporting needsFormat=true) if it
// doesn't, the way a real installer partitions and zero-fills a fresh
// disk image before the kernel ever mounts it.
func ensureDiskImage(path string, nblocks uint64) (needsFormat bool, err error) {
	size := int64(nblocks * blockdev.BlockSize)
	info, statErr := os.Stat(path)
	if statErr == nil {
		if info.Size() != size {
			return false, fmt.Errorf("disk image %s is %d bytes, want %d (nblocks=%d)", path, info.Size(), size, nblocks)
		}
		return false, nil
	}
	if !os.IsNotExist(statErr) {
		return false, statErr
	}
	f, err := os.Create(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return false, err
	}
	return true, nil
}

func openDriver(path string, nblocks uint64) (*blockdev.FileDriver, error) {
	return blockdev.OpenFileDriver(path, nblocks)
}
