// Package boot sequences bringing up (and cleanly tearing down) one
// kernel instance: opening the filesystem and swap devices, wiring the
// Frame/Swap singletons, the file system and the process table together,
// and flushing state back to disk on shutdown (the init process is
// created by the caller through Kernel.Procs) (spec.md §2 "Glue (init,
// teardown)"). Grounded on biscuit's own boot sequencing style (the
// package-level singleton init/teardown pattern spec.md §9 names
// explicitly: "each is a singleton module with an init/teardown pair").
package boot

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/qbaula/pintos-go/internal/console"
	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/frametbl"
	"github.com/qbaula/pintos-go/internal/fsys"
	"github.com/qbaula/pintos-go/internal/klog"
	"github.com/qbaula/pintos-go/internal/pageaddr"
	"github.com/qbaula/pintos-go/internal/proc"
	"github.com/qbaula/pintos-go/internal/swaptbl"
	"github.com/qbaula/pintos-go/internal/syscalls"
)

var log = klog.Boot("boot")

// Config names the host files and sizing this boot sequence needs: the
// filesystem disk image, the swap device, and the number of physical
// frames to simulate (Up wires them in the order swap table -> frame
// table -> file system -> process table).
type Config struct {
	DiskPath   string
	DiskSectors int
	FormatDisk bool

	SwapPath    string
	SwapSlots   int
	FormatSwap  bool

	NumFrames int
}

// Kernel bundles every singleton a running instance needs plus the
// unique id this boot stamped into its log lines, used to disambiguate
// interleaved output when several kernel instances or stress-test
// processes run concurrently (spec.md §8 scenario 5).
type Kernel struct {
	BootID uuid.UUID

	disk *diskio.Device
	swap *diskio.Device

	Frames *frametbl.Table_t
	Swap   *swaptbl.Table_t
	FS     *fsys.FS_t
	Procs  *proc.Table_t
}

// Up brings a kernel instance online per cfg: opens (or formats) both
// devices, then wires Swap Table -> Frame Table -> file system -> process
// table in that dependency order (spec.md §2's boot ordering; §5's lock
// tiering — file-system lock outermost, frame-table and swap-table
// innermost — is a property of how these singletons call each other at
// runtime, not of the order they're constructed in here).
func Up(cfg Config) (*Kernel, error) {
	id := uuid.New()
	log.Info("booting kernel instance", "bootID", id, "frames", cfg.NumFrames)

	disk, err := diskio.Open(cfg.DiskPath, cfg.DiskSectors, cfg.FormatDisk)
	if err != nil {
		return nil, fmt.Errorf("boot: open disk: %w", err)
	}
	swapDev, err := diskio.Open(cfg.SwapPath, cfg.SwapSlots*pageaddr.SectorsPerPage, cfg.FormatSwap)
	if err != nil {
		disk.Close()
		return nil, fmt.Errorf("boot: open swap: %w", err)
	}

	swap := swaptbl.New(swapDev, cfg.SwapSlots)
	frames := frametbl.New(cfg.NumFrames, swap)

	var fs *fsys.FS_t
	if cfg.FormatDisk {
		fs, err = fsys.Mkfs(disk)
	} else {
		fs, err = fsys.Boot(disk)
	}
	if err != nil {
		disk.Close()
		swapDev.Close()
		return nil, fmt.Errorf("boot: bring up file system: %w", err)
	}

	procs := proc.NewTable(fs, frames, swap)

	log.Info("kernel instance up", "bootID", id)
	return &Kernel{
		BootID: id,
		disk:   disk,
		swap:   swapDev,
		Frames: frames,
		Swap:   swap,
		FS:     fs,
		Procs:  procs,
	}, nil
}

// Dispatcher builds a syscalls.Dispatcher wired against this kernel
// instance's process table, using con for fd 0/1 (spec.md §6 "Console").
func (k *Kernel) Dispatcher(con console.Console) *syscalls.Dispatcher {
	return &syscalls.Dispatcher{Table: k.Procs, Console: con}
}

// Down flushes the file system's free map back to disk and closes both
// backing devices (spec.md §2 "shutdown flush"). Processes still running
// at shutdown are the caller's responsibility to wait on first.
func (k *Kernel) Down() error {
	log.Info("shutting down kernel instance", "bootID", k.BootID)
	if err := k.FS.Shutdown(); err != nil {
		return fmt.Errorf("boot: shutdown: flush file system: %w", err)
	}
	if err := k.disk.Close(); err != nil {
		return fmt.Errorf("boot: shutdown: close disk: %w", err)
	}
	if err := k.swap.Close(); err != nil {
		return fmt.Errorf("boot: shutdown: close swap: %w", err)
	}
	return nil
}
