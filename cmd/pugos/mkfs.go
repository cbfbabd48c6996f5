package main

import (
	"fmt"
	"os"

	"github.com/CS161/PugOS/internal/bufc"
	"github.com/CS161/PugOS/internal/chkfs"
	"github.com/CS161/PugOS/internal/klog"
	"github.com/spf13/cobra"
)

func newMkfsCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "mkfs",
		Short: "format the disk image with a fresh CHKFS superblock, root directory and free-bitmap",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveSizes(); err != nil {
				return err
			}
			return runMkfs(force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reformat even if the disk image already exists")
	return cmd
}

func runMkfs(force bool) error {
	nblocks := cfg.DiskSize / blockSize
	if force {
		if err := os.Remove(cfg.DiskPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if _, err := ensureDiskImage(cfg.DiskPath, nblocks); err != nil {
		return err
	}
	driver, err := openDriver(cfg.DiskPath, nblocks)
	if err != nil {
		return err
	}
	logger := klog.New(os.Stderr, klog.Default().Level)
	cache := bufc.New(driver, klog.Component(logger, "bufc"))

	blk := bootBlocker(nil)
	_, ferr := chkfs.Format(blk, cache, nblocks, cfg.NInodes)
	if ferr != 0 {
		return fmt.Errorf("mkfs: %s", ferr)
	}
	fmt.Printf("formatted %s: %d blocks, %d inodes\n", cfg.DiskPath, nblocks, cfg.NInodes)
	return nil
}
