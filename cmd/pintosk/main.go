// Command pintosk boots a kernel instance against a disk and swap image
// and runs a single user command line to completion, printing its exit
// status — a host-runnable harness around internal/boot, internal/proc,
// and internal/syscalls standing in for the teacher's real bootloader +
// kernel image (spec.md §2's "Glue (init, teardown)" and §4.6/§4.7's
// process lifecycle and syscalls, driven end to end).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qbaula/pintos-go/internal/boot"
	"github.com/qbaula/pintos-go/internal/console"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		diskPath  string
		swapPath  string
		diskBytes int
		swapSlots int
		numFrames int
	)

	cmd := &cobra.Command{
		Use:   "pintosk -- <program> [args...]",
		Short: "Boot a pintos-go kernel instance and run one user process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := boot.Config{
				DiskPath:    diskPath,
				DiskSectors: diskBytes / 512,
				FormatDisk:  false,
				SwapPath:    swapPath,
				SwapSlots:   swapSlots,
				FormatSwap:  true,
				NumFrames:   numFrames,
			}
			k, err := boot.Up(cfg)
			if err != nil {
				return fmt.Errorf("boot: %w", err)
			}
			defer k.Down()

			disp := k.Dispatcher(console.New(os.Stdin, os.Stdout))

			init, err := k.Procs.InitProcess()
			if err != nil {
				return fmt.Errorf("create init process: %w", err)
			}

			cmdline := joinArgs(args)
			pid := disp.Sys_exec(init, cmdline)
			if pid < 0 {
				return fmt.Errorf("exec %q failed to load", cmdline)
			}
			status := disp.Sys_wait(init, pid)
			fmt.Printf("%s: exit status %d\n", args[0], status)
			if status != 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&diskPath, "disk", "pintos.img", "path to an already-formatted disk image (see mkpintosfs)")
	cmd.Flags().StringVar(&swapPath, "swap", "pintos.swap", "path to the swap image (created fresh on each boot)")
	cmd.Flags().IntVar(&diskBytes, "disk-size", 8*1024*1024, "disk image size in bytes; must match the image mkpintosfs created")
	cmd.Flags().IntVar(&swapSlots, "swap-slots", 256, "number of page-sized swap slots")
	cmd.Flags().IntVar(&numFrames, "frames", 64, "number of simulated physical user-pool frames")

	return cmd
}

func joinArgs(args []string) string {
	s := args[0]
	for _, a := range args[1:] {
		s += " " + a
	}
	return s
}
