// Command pugos is the simulated kernel's entry point: boot a running
// instance, format a disk image, or check one offline, the way
// nydus-snapshotter's cmd/containerd-nydus-grpc wires a cobra root
// command over its snapshotter/config packages.
package main

import (
	"fmt"
	"os"

	"github.com/CS161/PugOS/internal/kconfig"
	"github.com/spf13/cobra"
)

var cfg = kconfig.Default()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pugos",
		Short:         "a simulated teaching kernel: buddy pages, a cooperative scheduler, and an on-disk filesystem",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&cfg.DiskPath, "disk", cfg.DiskPath, "path to the disk image")
	root.PersistentFlags().StringVar(&memSizeFlag, "mem", memSizeFlag, "simulated physical memory size (e.g. 16MiB)")
	root.PersistentFlags().StringVar(&diskSizeFlag, "disksize", diskSizeFlag, "disk image size (e.g. 8MiB)")
	root.PersistentFlags().IntVar(&cfg.NCPU, "ncpu", cfg.NCPU, "number of simulated CPUs")
	root.PersistentFlags().Uint64Var(&cfg.NInodes, "ninodes", cfg.NInodes, "inode count for mkfs")

	root.AddCommand(newBootCmd())
	root.AddCommand(newMkfsCmd())
	root.AddCommand(newFsckCmd())
	return root
}

var memSizeFlag = kconfig.HumanSize(kconfig.Default().MemSize)
var diskSizeFlag = kconfig.HumanSize(kconfig.Default().DiskSize)

// resolveSizes parses the human-readable --mem/--disksize flags into cfg,
// called once per subcommand after cobra has populated the flag strings.
func resolveSizes() error {
	mem, err := kconfig.ParseSize("--mem", memSizeFlag)
	if err != nil {
		return err
	}
	disk, err := kconfig.ParseSize("--disksize", diskSizeFlag)
	if err != nil {
		return err
	}
	cfg.MemSize = mem
	cfg.DiskSize = disk
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
