// Package vmm implements the Supplemental Page Table and the page-fault
// handler (spec.md §4.3), cooperating with internal/frametbl (Frame
// Table) and internal/swaptbl (Swap Table) the way spec.md §2 describes:
// "the fault handler populates frames via the SPT, evicting via the Frame
// Table to Swap when necessary". Grounded on original_source/vm/page.c
// (alloc_code_spte/alloc_blank_spte/vm_get_page) and biscuit's vm/as.go
// (Vm_t's Lock_pmap/Unlock_pmap discipline, Sys_pgfault dispatch), with
// the teacher's COW/refcounted design replaced by the spec's SPTE + Frame
// Table + Swap Table triad (see SPEC_FULL.md).
package vmm

import (
	"fmt"
	"sync"

	"github.com/qbaula/pintos-go/internal/frametbl"
	"github.com/qbaula/pintos-go/internal/pageaddr"
	"github.com/qbaula/pintos-go/internal/swaptbl"
)

// FileHandle is the slice of file behavior a file-backed SPTE needs to
// load its contents. internal/fsys's open-file handles satisfy this.
type FileHandle interface {
	ReadAt(buf []byte, offset int) (int, error)
}

// Spte_t is a Supplemental Page Table entry: per-virtual-page metadata
// for one process, independent of any hardware PTE (spec.md §3).
type Spte_t struct {
	owner int // pid, used for eviction victim selection

	UserPage uintptr // page-aligned virtual base
	Writ     bool    // writable bit

	valid  bool
	inSwap bool
	slot   swaptbl.Slot

	isStack bool

	isFileBacked  bool
	file          FileHandle
	fileOffset    int
	readBytes     int
	zeroBytes     int
	hasBeenLoaded bool

	accessed bool
	dirty    bool

	frame *frametbl.Fte_t
}

// --- frametbl.SpteHandle ---

// Owner returns the owning process id.
func (s *Spte_t) Owner() int { return s.owner }

// IsStack reports whether this page must never be evicted.
func (s *Spte_t) IsStack() bool { return s.isStack }

// Writable reports the writable bit.
func (s *Spte_t) Writable() bool { return s.Writ }

// InSwap reports whether the page is currently swapped out.
func (s *Spte_t) InSwap() (swaptbl.Slot, bool) { return s.slot, s.inSwap }

// MarkResident clears in_swap and marks the page valid, called by
// frametbl.Table_t.Bind once a frame has been populated.
func (s *Spte_t) MarkResident() {
	s.inSwap = false
	s.valid = true
}

// MarkEvicted clears valid and records the swap slot the page's contents
// were written to, called by frametbl.Table_t.Bind when this SPTE's frame
// is chosen as an eviction victim.
func (s *Spte_t) MarkEvicted(slot swaptbl.Slot) {
	s.valid = false
	s.inSwap = true
	s.slot = slot
	s.frame = nil
}

// --- accessors used outside the frametbl handoff ---

// Valid reports whether the page is currently backed by a physical frame.
func (s *Spte_t) Valid() bool { return s.valid }

// HasBeenLoaded reports whether a file-backed page's initial contents
// have already been read in.
func (s *Spte_t) HasBeenLoaded() bool { return s.hasBeenLoaded }

// Frame returns the physical frame currently bound to this SPTE, or nil.
func (s *Spte_t) Frame() *frametbl.Fte_t { return s.frame }

// MarkAccessed and MarkDirty shadow the hardware PTE's A/D bits
// opportunistically, as spec.md §3 allows ("kept opportunistically").
func (s *Spte_t) MarkAccessed() { s.accessed = true }
func (s *Spte_t) MarkDirty()    { s.dirty = true }

func checkInvariants(s *Spte_t) {
	if s.valid && s.inSwap {
		panic("vmm: spte valid and in_swap simultaneously")
	}
	if s.isStack && (!s.Writ || s.isFileBacked) {
		panic("vmm: stack spte must be writable and not file-backed")
	}
	if s.isFileBacked && s.readBytes+s.zeroBytes != pageaddr.PageSize {
		panic(fmt.Sprintf("vmm: file-backed spte read+zero=%d != page size", s.readBytes+s.zeroBytes))
	}
}

// Spt_t is one process's Supplemental Page Table: a collection of SPTEs
// keyed by user page base (spec.md §3 "Process control block"). Access is
// serialized by the embedded mutex, mirroring biscuit's Vm_t pattern in
// vm/as.go of guarding Vmregion/Pmap/P_pmap with a single lock.
type Spt_t struct {
	sync.Mutex
	owner  int
	pages  map[uintptr]*Spte_t
	frames *frametbl.Table_t
	swap   *swaptbl.Table_t
}

// New creates an empty SPT for the given owning process, backed by the
// shared frame and swap tables.
func New(owner int, frames *frametbl.Table_t, swap *swaptbl.Table_t) *Spt_t {
	return &Spt_t{
		owner:  owner,
		pages:  make(map[uintptr]*Spte_t),
		frames: frames,
		swap:   swap,
	}
}

// AllocFileSpte registers a lazy file-backed mapping: no frame is bound
// until the page is first touched (spec.md §4.3).
func (spt *Spt_t) AllocFileSpte(file FileHandle, offset int, upage uintptr, readBytes, zeroBytes int, writable bool) *Spte_t {
	if readBytes+zeroBytes != pageaddr.PageSize {
		panic("vmm: alloc_file_spte: read_bytes + zero_bytes must equal PAGE_SIZE")
	}
	spt.Lock()
	defer spt.Unlock()

	s := &Spte_t{
		owner:        spt.owner,
		UserPage:     pageaddr.PageBase(upage),
		Writ:         writable,
		isFileBacked: true,
		file:         file,
		fileOffset:   offset,
		readBytes:    readBytes,
		zeroBytes:    zeroBytes,
	}
	checkInvariants(s)
	spt.pages[s.UserPage] = s
	return s
}

// AllocStackSpte eagerly binds a zeroed frame for a new stack page and
// marks it is_stack/writable (spec.md §4.3).
func (spt *Spt_t) AllocStackSpte(upage uintptr) *Spte_t {
	spt.Lock()
	defer spt.Unlock()

	base := pageaddr.PageBase(upage)
	s := &Spte_t{
		owner:    spt.owner,
		UserPage: base,
		Writ:     true,
		isStack:  true,
	}
	checkInvariants(s)
	s.frame = spt.frames.Bind(spt.owner, s)
	spt.pages[base] = s
	return s
}

// Lookup returns the SPTE whose page base equals round_down(faultAddr,
// PAGE_SIZE), or false if none exists (spec.md §3).
func (spt *Spt_t) Lookup(faultAddr uintptr) (*Spte_t, bool) {
	spt.Lock()
	defer spt.Unlock()
	s, ok := spt.pages[pageaddr.PageBase(faultAddr)]
	return s, ok
}

// Load is idempotent: it binds a frame (which transparently handles
// swap-in via frametbl), then, the first time, reads a file-backed page's
// contents in and zero-fills the tail (spec.md §4.3).
func (spt *Spt_t) Load(s *Spte_t) error {
	spt.Lock()
	defer spt.Unlock()
	return spt.loadLocked(s)
}

func (spt *Spt_t) loadLocked(s *Spte_t) error {
	if s.valid {
		return nil // already resident; idempotent
	}
	s.frame = spt.frames.Bind(spt.owner, s)

	if s.isFileBacked && !s.hasBeenLoaded {
		buf := s.frame.Data
		n, err := s.file.ReadAt(buf[:s.readBytes], s.fileOffset)
		if err != nil {
			return fmt.Errorf("vmm: load file-backed page at %#x: %w", s.UserPage, err)
		}
		for i := n; i < s.readBytes; i++ {
			buf[i] = 0
		}
		for i := s.readBytes; i < pageaddr.PageSize; i++ {
			buf[i] = 0
		}
		s.hasBeenLoaded = true
	}
	return nil
}

// Destroy clears every SPTE belonging to this table: releases swap slots
// still in flight, then releases every physical frame via the Frame
// Table (spec.md §4.3 "destroy").
func (spt *Spt_t) Destroy() {
	spt.Lock()
	for _, s := range spt.pages {
		if s.inSwap {
			spt.swap.Release(s.slot)
		}
	}
	spt.pages = make(map[uintptr]*Spte_t)
	spt.Unlock()
	spt.frames.ReleaseAll(spt.owner)
}
