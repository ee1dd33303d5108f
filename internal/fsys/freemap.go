package fsys

import (
	"fmt"
	"sync"

	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/pageaddr"
)

// FreeMap_t is the bitmap covering every sector of the file-system
// device, persisted in its own file (spec.md §3 "Free map"). To avoid a
// bootstrap circularity (allocating the free map's own sectors would
// require the free map), its size is fixed at mkfs time to cover the
// whole device up front; it never grows, so ordinary file growth is the
// only path that consults it.
type FreeMap_t struct {
	sync.Mutex
	bits     []byte // one bit per device sector
	nsectors int
	// startSector/dataSectors record which sectors the free map's own
	// bitmap image lives in, so they can be marked occupied once at mkfs
	// time and never touched again.
	startSector int
	dataSectors []int
}

func bitmapBytes(nsectors int) int {
	return (nsectors + 7) / 8
}

// newFreeMap allocates an all-free bitmap for a device of nsectors
// sectors.
func newFreeMap(nsectors int) *FreeMap_t {
	return &FreeMap_t{
		bits:     make([]byte, bitmapBytes(nsectors)),
		nsectors: nsectors,
	}
}

func (fm *FreeMap_t) test(sector int) bool {
	return fm.bits[sector/8]&(1<<(uint(sector)%8)) != 0
}

func (fm *FreeMap_t) set(sector int) {
	fm.bits[sector/8] |= 1 << (uint(sector) % 8)
}

func (fm *FreeMap_t) clear(sector int) {
	fm.bits[sector/8] &^= 1 << (uint(sector) % 8)
}

// MarkUsed marks sector occupied without consuming a "free" slot lookup;
// used by mkfs to reserve fixed sectors (the free-map inode, the root
// directory inode, and the free map's own data sectors) before the
// allocator is otherwise usable.
func (fm *FreeMap_t) MarkUsed(sector int) {
	fm.Lock()
	defer fm.Unlock()
	fm.set(sector)
}

// Alloc finds and reserves the first free sector.
func (fm *FreeMap_t) Alloc() (int, error) {
	fm.Lock()
	defer fm.Unlock()
	for s := 0; s < fm.nsectors; s++ {
		if !fm.test(s) {
			fm.set(s)
			return s, nil
		}
	}
	return 0, fmt.Errorf("fsys: no space: free map exhausted")
}

// Free releases sector back to the pool.
func (fm *FreeMap_t) Free(sector int) {
	fm.Lock()
	defer fm.Unlock()
	fm.clear(sector)
}

// NumFree reports the number of unoccupied sectors, used by
// FS_t.Statistics.
func (fm *FreeMap_t) NumFree() int {
	fm.Lock()
	defer fm.Unlock()
	n := 0
	for s := 0; s < fm.nsectors; s++ {
		if !fm.test(s) {
			n++
		}
	}
	return n
}

// flushTo writes the free map's bitmap image to its reserved data
// sectors directly (bypassing the ordinary inode write path, which would
// otherwise try to consult the free map to grow — see the package doc).
func (fm *FreeMap_t) flushTo(dev *diskio.Device) error {
	fm.Lock()
	defer fm.Unlock()
	for i, sector := range fm.dataSectors {
		buf := make([]byte, pageaddr.SectorSize)
		off := i * pageaddr.SectorSize
		end := off + pageaddr.SectorSize
		if end > len(fm.bits) {
			end = len(fm.bits)
		}
		if off < end {
			copy(buf, fm.bits[off:end])
		}
		if err := dev.WriteSector(sector, buf); err != nil {
			return fmt.Errorf("fsys: flush free map sector %d: %w", sector, err)
		}
	}
	return nil
}

func (fm *FreeMap_t) loadFrom(dev *diskio.Device) error {
	for i, sector := range fm.dataSectors {
		buf := make([]byte, pageaddr.SectorSize)
		if err := dev.ReadSector(sector, buf); err != nil {
			return fmt.Errorf("fsys: load free map sector %d: %w", sector, err)
		}
		off := i * pageaddr.SectorSize
		end := off + pageaddr.SectorSize
		if end > len(fm.bits) {
			end = len(fm.bits)
		}
		if off < end {
			copy(fm.bits[off:end], buf[:end-off])
		}
	}
	return nil
}
