package fsys

import (
	"fmt"
	"sync"

	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/pageaddr"
)

// Inode_t is the in-memory handle for one on-disk inode: the disk image
// plus the bookkeeping spec.md §4.4's open-inode registry needs (open
// count, deferred removal). Every open of the same sector shares one
// Inode_t, obtained through FS_t's registry, so writes through one file
// descriptor are visible to every other open of the same file
// (spec.md §3 "Open file" / "Open-inode registry").
type Inode_t struct {
	sync.Mutex
	fs          *FS_t
	sector      int
	disk        DiskInode_t
	openCnt     int
	removed     bool
	denyWriteCnt int
}

// Sector returns the inode's own disk sector number, used as directory
// entries' inode reference.
func (ino *Inode_t) Sector() int { return ino.sector }

// IsDir reports whether this inode denotes a directory.
func (ino *Inode_t) IsDir() bool {
	ino.Lock()
	defer ino.Unlock()
	return ino.disk.IsDir
}

// Len returns the file's current length in bytes.
func (ino *Inode_t) Len() int {
	ino.Lock()
	defer ino.Unlock()
	return int(ino.disk.Length)
}

// Removed reports whether Remove has already unlinked this inode; its
// storage is reclaimed once the open count drops to zero
// (spec.md §4.4 "Remove").
func (ino *Inode_t) Removed() bool {
	ino.Lock()
	defer ino.Unlock()
	return ino.removed
}

// DenyWrite increments the deny-write count, per spec.md §4.5's
// "deny writes to it for as long as it is open" for an executable being
// run. Bounded by openCnt (spec.md §3 invariant "deny_write_cnt ≤
// open_cnt").
func (ino *Inode_t) DenyWrite() {
	ino.Lock()
	defer ino.Unlock()
	if ino.denyWriteCnt >= ino.openCnt {
		panic("fsys: deny_write_cnt would exceed open_cnt")
	}
	ino.denyWriteCnt++
}

// AllowWrite reverses one DenyWrite, called when the executable finishes
// running.
func (ino *Inode_t) AllowWrite() {
	ino.Lock()
	defer ino.Unlock()
	if ino.denyWriteCnt == 0 {
		panic("fsys: allow_write with no matching deny_write")
	}
	ino.denyWriteCnt--
}

func (ino *Inode_t) flush() error {
	return ino.fs.dev.WriteSector(ino.sector, ino.disk.Marshal())
}

// blockSector resolves the index'th data sector of the inode, allocating
// it (and any indirect blocks on the path to it) on demand when grow is
// true. This is spec.md §4.4's three-phase growth: fill direct pointers
// first, then the single-indirect block and its children, then the
// doubly-indirect block and its children's children.
func (ino *Inode_t) blockSector(index int, grow bool) (int, error) {
	if index < NDirect {
		if ino.disk.Direct[index] == 0 {
			if !grow {
				return 0, fmt.Errorf("fsys: hole at direct index %d", index)
			}
			s, err := ino.fs.freemap.Alloc()
			if err != nil {
				return 0, err
			}
			if err := ino.fs.zeroSector(s); err != nil {
				return 0, err
			}
			ino.disk.Direct[index] = int32(s)
		}
		return int(ino.disk.Direct[index]), nil
	}
	index -= NDirect

	if index < BlocksPerIndir {
		indirSector, err := ino.ensureIndirect(&ino.disk.Indir, grow)
		if err != nil {
			return 0, err
		}
		return ino.fs.blockInIndirect(indirSector, index, grow)
	}
	index -= BlocksPerIndir

	if index >= BlocksPerIndir*BlocksPerIndir {
		return 0, fmt.Errorf("fsys: block index out of range (max file size exceeded)")
	}
	doublySector, err := ino.ensureIndirect(&ino.disk.Doubly, grow)
	if err != nil {
		return 0, err
	}
	// The doubly-indirect block's entries are themselves indirect-block
	// sectors. blockInIndirect's zero-fill for a freshly allocated entry
	// is byte-identical to ensureIndirect's blank indirect block (both
	// are all-zero sector images), so the sector it hands back can be
	// read as an indirect block directly.
	innerIndirSector, err := ino.fs.blockInIndirect(doublySector, index/BlocksPerIndir, grow)
	if err != nil {
		return 0, err
	}
	return ino.fs.blockInIndirect(innerIndirSector, index%BlocksPerIndir, grow)
}

// ensureIndirect allocates *ptr's indirect block the first time it is
// needed, zero-filling its sector-pointer slots, and returns its sector.
func (ino *Inode_t) ensureIndirect(ptr *int32, grow bool) (int, error) {
	if *ptr != 0 {
		return int(*ptr), nil
	}
	if !grow {
		return 0, fmt.Errorf("fsys: missing indirect block")
	}
	s, err := ino.fs.freemap.Alloc()
	if err != nil {
		return 0, err
	}
	var blank indirectBlock
	if err := ino.fs.dev.WriteSector(s, marshalIndirect(&blank)); err != nil {
		return 0, err
	}
	*ptr = int32(s)
	return s, nil
}

// blockInIndirect resolves (and, if grow, allocates) the childIdx'th
// sector pointer stored in the indirect block at indirSector.
func (fs *FS_t) blockInIndirect(indirSector, childIdx int, grow bool) (int, error) {
	buf := make([]byte, pageaddr.SectorSize)
	if err := fs.dev.ReadSector(indirSector, buf); err != nil {
		return 0, err
	}
	blk := unmarshalIndirect(buf)
	if blk[childIdx] != 0 {
		return int(blk[childIdx]), nil
	}
	if !grow {
		return 0, fmt.Errorf("fsys: hole at indirect slot %d", childIdx)
	}
	s, err := fs.freemap.Alloc()
	if err != nil {
		return 0, err
	}
	if err := fs.zeroSector(s); err != nil {
		return 0, err
	}
	blk[childIdx] = int32(s)
	if err := fs.dev.WriteSector(indirSector, marshalIndirect(blk)); err != nil {
		return 0, err
	}
	return s, nil
}

func (fs *FS_t) zeroSector(sector int) error {
	buf := make([]byte, pageaddr.SectorSize)
	return fs.dev.WriteSector(sector, buf)
}

// ReadAt reads into buf starting at byte offset off, clipped to the
// file's current length (spec.md §4.4 "reads past length return zero
// bytes, never extend the file").
func (ino *Inode_t) ReadAt(buf []byte, off int) (int, error) {
	ino.Lock()
	defer ino.Unlock()

	length := int(ino.disk.Length)
	if off >= length {
		return 0, nil
	}
	n := len(buf)
	if off+n > length {
		n = length - off
	}

	read := 0
	for read < n {
		blockIdx := (off + read) / pageaddr.SectorSize
		blockOff := (off + read) % pageaddr.SectorSize
		sector, err := ino.blockSector(blockIdx, false)
		if err != nil {
			return read, fmt.Errorf("fsys: read at offset %d: %w", off+read, err)
		}
		sbuf := make([]byte, pageaddr.SectorSize)
		if err := ino.fs.dev.ReadSector(sector, sbuf); err != nil {
			return read, err
		}
		chunk := pageaddr.SectorSize - blockOff
		if chunk > n-read {
			chunk = n - read
		}
		copy(buf[read:read+chunk], sbuf[blockOff:blockOff+chunk])
		read += chunk
	}
	return read, nil
}

// WriteAt writes buf at byte offset off, growing the file (and its
// direct/indirect/doubly-indirect block chain) as needed when the write
// extends past the current length (spec.md §4.4 "Write past EOF").
func (ino *Inode_t) WriteAt(buf []byte, off int) (int, error) {
	ino.Lock()
	defer ino.Unlock()

	if ino.denyWriteCnt > 0 {
		return 0, nil
	}

	n := len(buf)
	if off+n > MaxFileSize {
		return 0, fmt.Errorf("fsys: write would exceed max file size")
	}

	written := 0
	for written < n {
		blockIdx := (off + written) / pageaddr.SectorSize
		blockOff := (off + written) % pageaddr.SectorSize
		sector, err := ino.blockSector(blockIdx, true)
		if err != nil {
			return written, fmt.Errorf("fsys: write at offset %d: %w", off+written, err)
		}
		chunk := pageaddr.SectorSize - blockOff
		if chunk > n-written {
			chunk = n - written
		}
		sbuf := make([]byte, pageaddr.SectorSize)
		if blockOff != 0 || chunk != pageaddr.SectorSize {
			if err := ino.fs.dev.ReadSector(sector, sbuf); err != nil {
				return written, err
			}
		}
		copy(sbuf[blockOff:blockOff+chunk], buf[written:written+chunk])
		if err := ino.fs.dev.WriteSector(sector, sbuf); err != nil {
			return written, err
		}
		written += chunk
	}

	if off+written > int(ino.disk.Length) {
		ino.disk.Length = int32(off + written)
		if err := ino.flush(); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Resize truncates or zero-extends the file to exactly n bytes. Every data
// sector the new length covers is allocated (zero-filled) if it is not
// already; shrinking lowers the length but keeps sectors already
// allocated. Used by the create syscall to give a new file its size.
func (ino *Inode_t) Resize(n int) error {
	ino.Lock()
	defer ino.Unlock()
	for i := 0; i < bytesToSectors(n); i++ {
		if _, err := ino.blockSector(i, true); err != nil {
			return fmt.Errorf("fsys: resize to %d bytes: %w", n, err)
		}
	}
	ino.disk.Length = int32(n)
	return ino.flush()
}

// FS_t is the top-level file system: the device, the free map, and the
// open-inode registry that gives every open of the same sector a shared
// Inode_t (spec.md §3/§4.4). Grounded on biscuit's ufs.Fs_t
// (biscuit/src/ufs/ufs.go), adapted from its buffer-cache-backed design
// to direct synchronous sector I/O via internal/diskio.
type FS_t struct {
	dev     *diskio.Device
	freemap *FreeMap_t

	rootSector int

	regMu sync.Mutex
	open  map[int]*Inode_t
}

// RootSector is the fixed sector of the root directory's inode
// (spec.md §4.4 "Disk layout": sector 0 is the free map's inode, sector 1
// is the root directory's).
const RootSector = 1

// FreeMapSector is the fixed sector of the free map's own inode.
const FreeMapSector = 0

func (fs *FS_t) getInode(sector int) (*Inode_t, error) {
	fs.regMu.Lock()
	defer fs.regMu.Unlock()

	if ino, ok := fs.open[sector]; ok {
		ino.openCnt++
		return ino, nil
	}

	buf := make([]byte, pageaddr.SectorSize)
	if err := fs.dev.ReadSector(sector, buf); err != nil {
		return nil, err
	}
	d, err := UnmarshalDiskInode(buf)
	if err != nil {
		return nil, fmt.Errorf("fsys: sector %d: %w", sector, err)
	}
	ino := &Inode_t{fs: fs, sector: sector, disk: *d, openCnt: 1}
	fs.open[sector] = ino
	return ino, nil
}

// putInode decrements ino's open count and, once it drops to zero for an
// inode already marked removed, reclaims its storage (spec.md §4.4
// "Remove" / "deferred until last close").
func (fs *FS_t) putInode(ino *Inode_t) error {
	fs.regMu.Lock()
	ino.Lock()
	ino.openCnt--
	shouldFree := ino.openCnt == 0 && ino.removed
	if ino.openCnt == 0 {
		delete(fs.open, ino.sector)
	}
	ino.Unlock()
	fs.regMu.Unlock()

	if shouldFree {
		return fs.freeInode(ino)
	}
	return nil
}

// freeInode releases every sector belonging to ino (data, single- and
// doubly-indirect blocks, and the inode's own sector) back to the free
// map.
func (fs *FS_t) freeInode(ino *Inode_t) error {
	for i := 0; i < NDirect; i++ {
		if ino.disk.Direct[i] != 0 {
			fs.freemap.Free(int(ino.disk.Direct[i]))
		}
	}
	if ino.disk.Indir != 0 {
		fs.freeIndirect(int(ino.disk.Indir), false)
	}
	if ino.disk.Doubly != 0 {
		fs.freeIndirect(int(ino.disk.Doubly), true)
	}
	fs.freemap.Free(ino.sector)
	return nil
}

func (fs *FS_t) freeIndirect(sector int, doubly bool) {
	buf := make([]byte, pageaddr.SectorSize)
	if err := fs.dev.ReadSector(sector, buf); err != nil {
		return
	}
	blk := unmarshalIndirect(buf)
	for _, child := range blk {
		if child == 0 {
			continue
		}
		if doubly {
			fs.freeIndirect(int(child), false)
		} else {
			fs.freemap.Free(int(child))
		}
	}
	fs.freemap.Free(sector)
}
