package fsys

import (
	"encoding/binary"
	"fmt"

	"github.com/qbaula/pintos-go/internal/pageaddr"
)

// Sector-layout constants from spec.md §4.4/§6.
const (
	NDirect        = 12
	BlocksPerIndir = pageaddr.SectorSize / 4 // 128 sector pointers per indirect block
	Magic          = 0x494E4F44               // "INOD"

	// MaxFileSize is (NDirect + BlocksPerIndir + BlocksPerIndir^2) sectors.
	MaxFileSize = (NDirect + BlocksPerIndir + BlocksPerIndir*BlocksPerIndir) * pageaddr.SectorSize
)

// on-disk inode field byte offsets, per spec.md §6's table.
const (
	offLength  = 0
	offParent  = 4
	offDirect  = 8
	offIndir   = 8 + 4*NDirect // 56
	offDoubly  = offIndir + 4  // 60
	offIsDir   = offDoubly + 4 // 64
	offMagic   = offIsDir + 4  // 68 (3 bytes padding before magic keeps 4-byte alignment)
	offReserve = offMagic + 4  // 72
)

// DiskInode_t is the exactly-one-sector on-disk inode (spec.md §6).
type DiskInode_t struct {
	Length  int32
	Parent  int32
	Direct  [NDirect]int32
	Indir   int32
	Doubly  int32
	IsDir   bool
}

// Marshal serializes the inode into a SectorSize-byte little-endian
// sector image, per spec.md §6's byte layout.
func (d *DiskInode_t) Marshal() []byte {
	buf := make([]byte, pageaddr.SectorSize)
	binary.LittleEndian.PutUint32(buf[offLength:], uint32(d.Length))
	binary.LittleEndian.PutUint32(buf[offParent:], uint32(d.Parent))
	for i, v := range d.Direct {
		binary.LittleEndian.PutUint32(buf[offDirect+4*i:], uint32(v))
	}
	binary.LittleEndian.PutUint32(buf[offIndir:], uint32(d.Indir))
	binary.LittleEndian.PutUint32(buf[offDoubly:], uint32(d.Doubly))
	if d.IsDir {
		buf[offIsDir] = 1
	}
	binary.LittleEndian.PutUint32(buf[offMagic:], Magic)
	return buf
}

// UnmarshalDiskInode parses a sector image written by Marshal. It returns
// an error if the magic number does not match (the sector does not hold a
// valid inode).
func UnmarshalDiskInode(buf []byte) (*DiskInode_t, error) {
	if len(buf) != pageaddr.SectorSize {
		panic("fsys: inode sector must be SectorSize bytes")
	}
	magic := binary.LittleEndian.Uint32(buf[offMagic:])
	if magic != Magic {
		return nil, fmt.Errorf("fsys: bad inode magic %#x", magic)
	}
	d := &DiskInode_t{
		Length: int32(binary.LittleEndian.Uint32(buf[offLength:])),
		Parent: int32(binary.LittleEndian.Uint32(buf[offParent:])),
		Indir:  int32(binary.LittleEndian.Uint32(buf[offIndir:])),
		Doubly: int32(binary.LittleEndian.Uint32(buf[offDoubly:])),
		IsDir:  buf[offIsDir] != 0,
	}
	for i := range d.Direct {
		d.Direct[i] = int32(binary.LittleEndian.Uint32(buf[offDirect+4*i:]))
	}
	return d, nil
}

// indirectBlock is a sector-sized array of 128 sector pointers, used for
// both the single-indirect block and each child of the doubly-indirect
// block (spec.md §4.4).
type indirectBlock [BlocksPerIndir]int32

func marshalIndirect(b *indirectBlock) []byte {
	buf := make([]byte, pageaddr.SectorSize)
	for i, v := range b {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func unmarshalIndirect(buf []byte) *indirectBlock {
	var b indirectBlock
	for i := range b {
		b[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return &b
}

func bytesToSectors(n int) int {
	return pageaddr.BytesToSectors(n)
}
