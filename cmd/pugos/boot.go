package main

import (
	"fmt"
	"os"

	"github.com/CS161/PugOS/internal/bufc"
	"github.com/CS161/PugOS/internal/chkfs"
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/klog"
	"github.com/CS161/PugOS/internal/pages"
	"github.com/CS161/PugOS/internal/proc"
	"github.com/CS161/PugOS/internal/sched"
	"github.com/CS161/PugOS/internal/waitq"
	"github.com/spf13/cobra"
)

func newBootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "boot a kernel instance and run the init program",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveSizes(); err != nil {
				return err
			}
			return runBoot()
		},
	}
	return cmd
}

// buildMachine wires PAGES/SCHED/BUFC/CHKFS together from cfg, mounting
// the disk image at cfg.DiskPath (formatting it first if it does not yet
// exist), the way a real boot loader hands the kernel a physical memory
// map and an already-partitioned disk.
func buildMachine(logOut *os.File) (*pages.Allocator, *sched.Scheduler, *chkfs.FS, *bufc.Cache, error) {
	alloc, err := pages.New(0, uintptr(cfg.MemSize), []pages.Range{
		{Start: 0, End: uintptr(cfg.MemSize), Kind: pages.Available},
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	s := sched.New(cfg.NCPU)

	nblocks := cfg.DiskSize / blockSize
	needsFormat, err := ensureDiskImage(cfg.DiskPath, nblocks)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	driver, err := openDriver(cfg.DiskPath, nblocks)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger := klog.New(logOut, klog.Default().Level)
	cache := bufc.New(driver, klog.Component(logger, "bufc"))

	fakeBlk := bootBlocker(s)
	var fs *chkfs.FS
	var ferr common.Err_t
	if needsFormat {
		fs, ferr = chkfs.Format(fakeBlk, cache, nblocks, cfg.NInodes)
	} else {
		fs, ferr = chkfs.Mount(fakeBlk, cache)
	}
	if ferr != 0 {
		return nil, nil, nil, nil, fmt.Errorf("mounting %s: %s", cfg.DiskPath, ferr)
	}
	return alloc, s, fs, cache, nil
}

const blockSize = 4096

// bootBlocker gives non-task setup code (mkfs/mount, run before any Task
// exists) a waitq.Blocker whose methods do nothing (Yield returns at
// once); mkfs/mount never actually block in practice since the
// scheduler hasn't started yet and the disk driver used here always
// completes synchronously or on the caller's own goroutine.
type setupBlocker struct{ s *sched.Scheduler }

func (b setupBlocker) MarkBlocked()              {}
func (b setupBlocker) MarkRunnable(waitq.Waitable) {}
func (b setupBlocker) Yield()                    {}
func (b setupBlocker) Self() waitq.Waitable      { return nil }

func bootBlocker(s *sched.Scheduler) waitq.Blocker { return setupBlocker{s: s} }

func runBoot() error {
	alloc, s, fs, _, err := buildMachine(os.Stderr)
	if err != nil {
		return err
	}

	console := newHostConsole(os.Stdin, os.Stdout)
	initfs := proc.NewInitfs()

	pt := proc.NewProcTable(s, alloc, alloc, console, initfs)
	pt.MountFS(fs)
	registerInitPrograms(pt, initfs)

	done := make(chan int, 1)
	s.Start()
	_, spawnErr := pt.Spawn(0, 0, func(blk waitq.Blocker, t *proc.Task) {
		status := runInit(pt, blk, t)
		done <- status
	})
	if spawnErr != 0 {
		s.Stop()
		return fmt.Errorf("spawning init: %s", spawnErr)
	}

	status := <-done
	s.Stop()
	if status != 0 {
		os.Exit(status)
	}
	return nil
}
