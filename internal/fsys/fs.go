// Package fsys implements the on-disk inode, free map, directory, and
// path resolver (spec.md §4.4): a multi-level indexed file system with
// direct/single-indirect/doubly-indirect block addressing, an in-memory
// open-inode registry, growable files, and hierarchical directories.
// Grounded on original_source/filesys/inode.c and filesys/filesys.c,
// expressed in the teacher's package-per-concern idiom (biscuit's
// fs/super.go field-accessor style for the on-disk layout, ufs/ufs.go for
// the higher-level Fs_t API shape).
package fsys

import (
	"fmt"

	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/klog"
	"github.com/qbaula/pintos-go/internal/pageaddr"
)

var log = klog.Boot("fsys")

// bootstrapMax is the largest free-map-bitmap byte count this package's
// mkfs bootstrap can lay out using only the free map inode's direct and
// single-indirect pointers (it deliberately does not reach for the
// doubly-indirect block, which would complicate the one-time bootstrap
// allocator for no practical benefit at the sizes this kernel targets).
const bootstrapMax = (NDirect + BlocksPerIndir) * pageaddr.SectorSize

// Mkfs formats dev as a fresh file system: a free map covering every
// sector, an empty root directory, and the fixed sector layout spec.md
// §4.4 describes (sector 0 the free map's inode, sector 1 the root
// directory's). The free map's own data sectors are pre-allocated
// directly during this bootstrap, sidestepping the chicken-and-egg
// problem of needing the free map to allocate the free map (see
// FreeMap_t in freemap.go).
func Mkfs(dev *diskio.Device) (*FS_t, error) {
	nsectors := dev.NumSectors()
	fm := newFreeMap(nsectors)

	nbytes := bitmapBytes(nsectors)
	if nbytes > bootstrapMax {
		return nil, fmt.Errorf("fsys: mkfs: device too large for bootstrap free map layout (%d bytes needed, %d available)", nbytes, bootstrapMax)
	}
	ndata := bytesToSectors(nbytes)
	if ndata == 0 {
		ndata = 1
	}

	next := 2 // sectors 0 and 1 are reserved for the free-map and root inodes
	alloc := func() int {
		s := next
		next++
		return s
	}

	d := &DiskInode_t{Length: int32(nbytes)}
	for i := 0; i < ndata && i < NDirect; i++ {
		d.Direct[i] = int32(alloc())
	}
	remaining := ndata - NDirect
	if remaining > 0 {
		indirSector := alloc()
		var blk indirectBlock
		for i := 0; i < remaining; i++ {
			blk[i] = int32(alloc())
		}
		if err := dev.WriteSector(indirSector, marshalIndirect(&blk)); err != nil {
			return nil, err
		}
		d.Indir = int32(indirSector)
	}
	fm.dataSectors = make([]int, 0, ndata)
	for i := 0; i < ndata && i < NDirect; i++ {
		fm.dataSectors = append(fm.dataSectors, int(d.Direct[i]))
	}
	if remaining > 0 {
		buf := make([]byte, pageaddr.SectorSize)
		if err := dev.ReadSector(int(d.Indir), buf); err != nil {
			return nil, err
		}
		blk := unmarshalIndirect(buf)
		for i := 0; i < remaining; i++ {
			fm.dataSectors = append(fm.dataSectors, int(blk[i]))
		}
	}

	for s := 0; s < next; s++ {
		fm.MarkUsed(s)
	}

	if err := dev.WriteSector(FreeMapSector, d.Marshal()); err != nil {
		return nil, err
	}
	rootDisk := &DiskInode_t{Parent: int32(RootSector), IsDir: true}
	if err := dev.WriteSector(RootSector, rootDisk.Marshal()); err != nil {
		return nil, err
	}

	if err := fm.flushTo(dev); err != nil {
		return nil, err
	}

	fs := &FS_t{dev: dev, freemap: fm, rootSector: RootSector, open: make(map[int]*Inode_t)}

	// The root directory starts with no stored entries at all: "." and
	// ".." are never stored (spec.md §3's data-model invariant) and
	// both resolve off rootDisk.Parent/the inode's own sector in step().

	log.Info("formatted file system", "sectors", nsectors, "freeMapBytes", nbytes)
	return fs, nil
}

// Boot opens an existing file system on dev, loading the free map's
// bitmap image back from its fixed data sectors.
func Boot(dev *diskio.Device) (*FS_t, error) {
	nsectors := dev.NumSectors()
	fm := newFreeMap(nsectors)

	buf := make([]byte, pageaddr.SectorSize)
	if err := dev.ReadSector(FreeMapSector, buf); err != nil {
		return nil, err
	}
	d, err := UnmarshalDiskInode(buf)
	if err != nil {
		return nil, fmt.Errorf("fsys: boot: free map inode: %w", err)
	}

	nbytes := bitmapBytes(nsectors)
	ndata := bytesToSectors(nbytes)
	if ndata == 0 {
		ndata = 1
	}
	for i := 0; i < ndata && i < NDirect; i++ {
		fm.dataSectors = append(fm.dataSectors, int(d.Direct[i]))
	}
	if ndata > NDirect {
		ibuf := make([]byte, pageaddr.SectorSize)
		if err := dev.ReadSector(int(d.Indir), ibuf); err != nil {
			return nil, err
		}
		blk := unmarshalIndirect(ibuf)
		for i := 0; i < ndata-NDirect; i++ {
			fm.dataSectors = append(fm.dataSectors, int(blk[i]))
		}
	}
	if err := fm.loadFrom(dev); err != nil {
		return nil, err
	}

	log.Info("booted file system", "sectors", nsectors)
	return &FS_t{dev: dev, freemap: fm, rootSector: RootSector, open: make(map[int]*Inode_t)}, nil
}

// Statistics reports coarse occupancy figures, grounded on biscuit's
// ufs.Fs_t.Statistics (biscuit/src/ufs/ufs.go) and named the same way,
// one of spec.md §9's small testability additions.
type Statistics struct {
	TotalSectors int
	FreeSectors  int
	OpenInodes   int
}

// Statistics returns a snapshot of the file system's occupancy.
func (fs *FS_t) Statistics() Statistics {
	fs.regMu.Lock()
	open := len(fs.open)
	fs.regMu.Unlock()
	return Statistics{
		TotalSectors: fs.dev.NumSectors(),
		FreeSectors:  fs.freemap.NumFree(),
		OpenInodes:   open,
	}
}

// Shutdown flushes the free map back to disk. The device itself is
// synchronous (diskio.Device opens with O_DSYNC), so every inode and
// directory write is already durable by the time it returns; only the
// in-memory free map needs an explicit final write.
func (fs *FS_t) Shutdown() error {
	return fs.freemap.flushTo(fs.dev)
}
