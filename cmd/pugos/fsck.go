package main

import (
	"fmt"
	"os"

	"github.com/CS161/PugOS/internal/bufc"
	"github.com/CS161/PugOS/internal/chkfs"
	"github.com/CS161/PugOS/internal/klog"
	"github.com/spf13/cobra"
)

func newFsckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fsck",
		Short: "mount the disk image read-only and report superblock and free-block stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveSizes(); err != nil {
				return err
			}
			return runFsck()
		},
	}
	return cmd
}

func runFsck() error {
	nblocks := cfg.DiskSize / blockSize
	driver, err := openDriver(cfg.DiskPath, nblocks)
	if err != nil {
		return fmt.Errorf("opening %s: %w (did you run mkfs?)", cfg.DiskPath, err)
	}
	logger := klog.New(os.Stderr, klog.Default().Level)
	cache := bufc.New(driver, klog.Component(logger, "bufc"))

	blk := bootBlocker(nil)
	fs, ferr := chkfs.Mount(blk, cache)
	if ferr != 0 {
		return fmt.Errorf("mount %s: %s", cfg.DiskPath, ferr)
	}

	sb := fs.Superblock()
	fmt.Printf("superblock: magic=%#x nblocks=%d ninodes=%d inode_bn=%d data_bn=%d fbb_bn=%d\n",
		sb.Magic, sb.NBlocks, sb.NInodes, sb.InodeBn, sb.DataBn, sb.FBBBn)

	free, total, ferr := fs.FreeBlockStats(blk)
	if ferr != 0 {
		return fmt.Errorf("reading free-block bitmap: %s", ferr)
	}
	fmt.Printf("data blocks: %d/%d free\n", free, total)

	root, ferr := fs.GetInode(blk, chkfs.RootInum)
	if ferr != 0 {
		return fmt.Errorf("reading root inode: %s", ferr)
	}
	defer fs.PutInode(root)
	fmt.Printf("root inode: type=%d nlink=%d size=%d\n", root.Type(), root.Nlink(), root.Size())

	if ferr := fs.Sync(blk, false); ferr != 0 {
		return fmt.Errorf("sync: %s", ferr)
	}
	return nil
}
