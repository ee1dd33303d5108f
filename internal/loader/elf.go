// Package loader parses an ELF-like executable and maps its segments and
// argument stack into a process's Supplemental Page Table (spec.md §4.5).
// Grounded on original_source/userprog/process.c's load/validate_segment/
// load_segment/setup_stack, reworked around internal/vmm's lazy
// file-backed SPTEs instead of process.c's eager palloc_get_page calls
// (every PT_LOAD segment is registered, never read, until first touch:
// see vmm.Spte_t and spec.md §4.3).
package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/qbaula/pintos-go/internal/pageaddr"
	"github.com/qbaula/pintos-go/internal/vmm"
)

const (
	ehdrSize = 52
	phdrSize = 32

	etExec    = 2
	emI386    = 3
	evCurrent = 1

	ptLoad     = 1
	ptDynamic  = 2
	ptInterp   = 3
	ptShlib    = 5
	maxPhnum   = 1024
)

var elfMagic = [7]byte{0x7f, 'E', 'L', 'F', 1, 1, 1}

type elfHeader struct {
	entry  uint32
	phoff  uint32
	phentsize uint16
	phnum  uint16
}

type progHeader struct {
	pType  uint32
	offset uint32
	vaddr  uint32
	filesz uint32
	memsz  uint32
	flags  uint32
}

const pfW = 2

func parseElfHeader(buf []byte) (elfHeader, error) {
	var h elfHeader
	if len(buf) < ehdrSize {
		return h, fmt.Errorf("loader: truncated ELF header")
	}
	for i, b := range elfMagic {
		if buf[i] != b {
			return h, fmt.Errorf("loader: bad ELF magic")
		}
	}
	etype := binary.LittleEndian.Uint16(buf[16:])
	emach := binary.LittleEndian.Uint16(buf[18:])
	eversion := binary.LittleEndian.Uint32(buf[20:])
	h.entry = binary.LittleEndian.Uint32(buf[24:])
	h.phoff = binary.LittleEndian.Uint32(buf[28:])
	h.phentsize = binary.LittleEndian.Uint16(buf[42:])
	h.phnum = binary.LittleEndian.Uint16(buf[44:])

	if etype != etExec || emach != emI386 || eversion != evCurrent {
		return h, fmt.Errorf("loader: unsupported ELF type/machine/version")
	}
	if h.phentsize != phdrSize {
		return h, fmt.Errorf("loader: unexpected program header size %d", h.phentsize)
	}
	if h.phnum > maxPhnum {
		return h, fmt.Errorf("loader: too many program headers (%d)", h.phnum)
	}
	return h, nil
}

func parseProgHeader(buf []byte) progHeader {
	return progHeader{
		pType:  binary.LittleEndian.Uint32(buf[0:]),
		offset: binary.LittleEndian.Uint32(buf[4:]),
		vaddr:  binary.LittleEndian.Uint32(buf[8:]),
		filesz: binary.LittleEndian.Uint32(buf[16:]),
		memsz:  binary.LittleEndian.Uint32(buf[20:]),
		flags:  binary.LittleEndian.Uint32(buf[24:]),
	}
}

// validateSegment mirrors process.c's validate_segment: the segment must
// be page-aligned consistently between file offset and virtual address,
// must start within the file (its end is not checked), must not be empty, must lie entirely in user
// space, must not wrap around, and must not map page zero (spec.md §4.5
// edge case "never maps a null page").
func validateSegment(p progHeader, fileLen int) error {
	mask := uint32(pageaddr.PageSize - 1)
	if p.offset&mask != p.vaddr&mask {
		return fmt.Errorf("loader: segment offset/vaddr page-offset mismatch")
	}
	if p.offset > uint32(fileLen) {
		return fmt.Errorf("loader: segment offset past end of file")
	}
	if p.memsz < p.filesz {
		return fmt.Errorf("loader: memsz smaller than filesz")
	}
	if p.memsz == 0 {
		return fmt.Errorf("loader: empty segment")
	}
	if uintptr(p.vaddr) >= pageaddr.PhysBase || uintptr(p.vaddr+p.memsz) > pageaddr.PhysBase {
		return fmt.Errorf("loader: segment outside user address space")
	}
	if p.vaddr+p.memsz < p.vaddr {
		return fmt.Errorf("loader: segment wraps around")
	}
	if p.vaddr < pageaddr.PageSize {
		return fmt.Errorf("loader: segment maps page zero")
	}
	return nil
}

// FileHandle is the slice of an open executable's behavior the loader
// needs: random access reads and its current length.
type FileHandle interface {
	vmm.FileHandle
	Len() int
}

// Loaded describes a successfully mapped executable, ready to run.
type Loaded struct {
	Entry uintptr
	Esp   uintptr
}

// Load parses file as an ELF executable, registers its PT_LOAD segments
// as lazy file-backed SPTEs in spt, and lays out a fresh argument stack
// for the given argv (spec.md §4.5 "Loader").
func Load(spt *vmm.Spt_t, file FileHandle, argv []string) (Loaded, error) {
	hdrBuf := make([]byte, ehdrSize)
	if _, err := file.ReadAt(hdrBuf, 0); err != nil {
		return Loaded{}, fmt.Errorf("loader: read ELF header: %w", err)
	}
	hdr, err := parseElfHeader(hdrBuf)
	if err != nil {
		return Loaded{}, err
	}

	fileLen := file.Len()
	off := int(hdr.phoff)
	for i := 0; i < int(hdr.phnum); i++ {
		phBuf := make([]byte, phdrSize)
		if _, err := file.ReadAt(phBuf, off); err != nil {
			return Loaded{}, fmt.Errorf("loader: read program header %d: %w", i, err)
		}
		off += phdrSize
		ph := parseProgHeader(phBuf)

		switch ph.pType {
		case ptDynamic, ptInterp, ptShlib:
			return Loaded{}, fmt.Errorf("loader: unsupported segment type %d", ph.pType)
		case ptLoad:
			if err := validateSegment(ph, fileLen); err != nil {
				return Loaded{}, err
			}
			if err := loadSegment(spt, file, ph); err != nil {
				return Loaded{}, err
			}
		default:
			// PT_NULL, PT_NOTE, PT_PHDR, PT_STACK, and anything else: ignored.
		}
	}

	esp, err := setupStack(spt, argv)
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{Entry: uintptr(hdr.entry), Esp: esp}, nil
}

// loadSegment registers one PT_LOAD segment's pages as file-backed SPTEs,
// page by page, following process.c's load_segment page-fill math.
func loadSegment(spt *vmm.Spt_t, file FileHandle, ph progHeader) error {
	pageMask := uint32(pageaddr.PageSize - 1)
	filePage := ph.offset &^ pageMask
	memPage := ph.vaddr &^ pageMask
	pageOffset := ph.vaddr & pageMask

	var readBytes, zeroBytes uint32
	if ph.filesz > 0 {
		readBytes = pageOffset + ph.filesz
		zeroBytes = roundUp(pageOffset+ph.memsz) - readBytes
	} else {
		readBytes = 0
		zeroBytes = roundUp(pageOffset + ph.memsz)
	}

	writable := ph.flags&pfW != 0
	upage := uintptr(memPage)
	fileOff := int(filePage)
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := readBytes
		if pageRead > pageaddr.PageSize {
			pageRead = pageaddr.PageSize
		}
		pageZero := uint32(pageaddr.PageSize) - pageRead

		spt.AllocFileSpte(file, fileOff, upage, int(pageRead), int(pageZero), writable)

		readBytes -= pageRead
		if zeroBytes < pageZero {
			zeroBytes = 0
		} else {
			zeroBytes -= pageZero
		}
		upage += pageaddr.PageSize
		fileOff += pageaddr.PageSize
	}
	return nil
}

func roundUp(n uint32) uint32 {
	return uint32(pageaddr.RoundUp(uintptr(n), pageaddr.PageSize))
}
