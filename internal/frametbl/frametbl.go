// Package frametbl implements the Frame Table (spec.md §4.2): a
// fixed-length array of physical user-pool frames with exclusive
// ownership, victim selection, and binding to SPT entries. Grounded on
// original_source/vm/frame.c (frame_get/frame_map/frame_evict/frame_swap)
// in the teacher's idiom: an arena-indexed _t struct with an embedded
// sync.Mutex (biscuit's Frame Table analogue is mem.Physmem_t's refcounted
// page arena in mem/mem.go, which this package borrows the "fixed array +
// index, not pointers" arena-and-index design note from; see spec.md §9).
package frametbl

import (
	"fmt"
	"sync"

	"github.com/qbaula/pintos-go/internal/klog"
	"github.com/qbaula/pintos-go/internal/pageaddr"
	"github.com/qbaula/pintos-go/internal/swaptbl"
)

var log = klog.Boot("frame")

// NoOwner is the sentinel owner value for an unowned frame.
const NoOwner = -1

// SpteHandle is the slice of an SPTE's behavior the frame table needs to
// cooperate with the Supplemental Page Table without importing package
// vmm (which imports frametbl): it lets frametbl bind/evict without
// knowing anything else about a process's virtual memory. vmm.Spte_t
// implements this interface.
type SpteHandle interface {
	// Owner is the owning process id. Victim selection uses the owner
	// passed to Bind and recorded in the frame, not this method.
	Owner() int
	// IsStack reports whether this SPTE must never be evicted
	// (spec.md §4.2: "Eviction never spills is_stack pages").
	IsStack() bool
	// Writable reports the SPTE's writable bit. Bind does not consult it;
	// this simulation keeps no hardware mapping for it to be installed in.
	Writable() bool
	// InSwap reports whether the page is currently swapped out and, if
	// so, its slot.
	InSwap() (swaptbl.Slot, bool)
	// MarkResident is called once a frame has been bound: it clears
	// in_swap and marks the SPTE valid.
	MarkResident()
	// MarkEvicted is called when this SPTE's frame is chosen as an
	// eviction victim: clears valid, sets in_swap and the slot index.
	MarkEvicted(slot swaptbl.Slot)
}

// Fte_t is one frame-table entry: a physical user-pool frame. Data is the
// frame's contents; the frame table stores it directly (there is no
// separate physical-memory arena in this simulation — see spec.md §1,
// which places "the lower-level hardware page directory" out of scope).
type Fte_t struct {
	Index  int
	Data   []byte
	owner  int
	spte   SpteHandle
	inEdit bool
}

// Table_t is the fixed-length frame array plus its single lock. One
// Table_t exists per kernel instance (spec.md §9 "Global mutable state").
type Table_t struct {
	sync.Mutex
	frames []Fte_t
	swap   *swaptbl.Table_t
}

// New allocates an nframes-entry frame table backed by swap for eviction.
func New(nframes int, swap *swaptbl.Table_t) *Table_t {
	t := &Table_t{
		frames: make([]Fte_t, nframes),
		swap:   swap,
	}
	for i := range t.frames {
		t.frames[i].Index = i
		t.frames[i].Data = make([]byte, pageaddr.PageSize)
		t.frames[i].owner = NoOwner
	}
	return t
}

// Len returns the number of physical frames managed by this table.
func (t *Table_t) Len() int {
	return len(t.frames)
}

func (t *Table_t) findFree() *Fte_t {
	for i := range t.frames {
		if t.frames[i].owner == NoOwner {
			return &t.frames[i]
		}
	}
	return nil
}

// evictVictim implements spec.md §4.2's policy: first a frame owned by
// some other process whose SPTE is not is_stack; failing that, any
// non-stack frame scanned in reverse; failing that, panic (deliberately
// fatal — see spec.md §9's Open Question about stack-only workloads).
func (t *Table_t) evictVictim(owner int) *Fte_t {
	for i := range t.frames {
		f := &t.frames[i]
		if f.owner != NoOwner && f.owner != owner && !f.spte.IsStack() {
			return f
		}
	}
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := &t.frames[i]
		if f.owner != NoOwner && !f.spte.IsStack() {
			return f
		}
	}
	panic("frametbl: no evictable frame; workload is all stack pages (spec.md §9)")
}

// evict picks a victim, writes its contents to swap, and updates its
// SPTE's in_swap/valid bits before returning the now-unowned frame for
// reuse. Caller must hold t.Mutex.
func (t *Table_t) evict(owner int) *Fte_t {
	victim := t.evictVictim(owner)
	victim.inEdit = true

	slot, err := t.swap.ReserveAndWrite(victim.Data)
	if err != nil {
		// ResourceExhausted in page-fault handling is fatal to the
		// kernel (spec.md §7): the design forbids evicting stack pages,
		// so running out of swap too leaves no recovery path.
		panic(fmt.Sprintf("frametbl: evict: %v", err))
	}
	victim.spte.MarkEvicted(slot)
	log.Debug("evicted frame", "frame", victim.Index, "swapSlot", int(slot), "victimOwner", victim.owner)

	victim.owner = NoOwner
	victim.spte = nil
	victim.inEdit = false
	return victim
}

// Bind finds a frame for spte — a free one if available, otherwise an
// eviction victim — installs the owner/back-pointer, and swaps the page's
// contents back in if it was previously swapped out. The frame is held
// under the in_edit guard for the whole sequence so a concurrent eviction
// pass cannot touch it while it is being populated (spec.md §4.2).
func (t *Table_t) Bind(owner int, spte SpteHandle) *Fte_t {
	t.Lock()
	defer t.Unlock()

	f := t.findFree()
	if f == nil {
		f = t.evict(owner)
	}
	f.inEdit = true
	f.owner = owner
	f.spte = spte

	if slot, inSwap := spte.InSwap(); inSwap {
		t.swap.ReadInto(slot, f.Data)
	} else {
		for i := range f.Data {
			f.Data[i] = 0
		}
	}
	spte.MarkResident()
	f.inEdit = false
	return f
}

// ReleaseAll marks every frame owned by owner as unowned and forgets its
// SPTE pointer, called at process exit (spec.md §4.2).
func (t *Table_t) ReleaseAll(owner int) {
	t.Lock()
	defer t.Unlock()
	for i := range t.frames {
		f := &t.frames[i]
		if f.owner == owner {
			f.owner = NoOwner
			f.spte = nil
		}
	}
}

// Dump renders frame-table occupancy for diagnostics (spec.md §8
// scenario 5 stress testing); grounded on the teacher's
// frame_print/frame.Print debug helpers (original_source/vm/frame.c,
// biscuit/src/fs/blk.go's BlkList_t.Print).
func (t *Table_t) Dump() string {
	t.Lock()
	defer t.Unlock()
	s := ""
	for i := range t.frames {
		f := &t.frames[i]
		if f.owner != NoOwner {
			s += fmt.Sprintf("frame %d: owner=%d stack=%v\n", f.Index, f.owner, f.spte.IsStack())
		}
	}
	return s
}
