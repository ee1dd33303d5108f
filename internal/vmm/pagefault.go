package vmm

import (
	"github.com/qbaula/pintos-go/internal/kerr"
	"github.com/qbaula/pintos-go/internal/pageaddr"
)

// Access describes the circumstances of a page fault, the parameters
// spec.md §4.3 dispatches on.
type Access struct {
	Addr  uintptr
	Esp   uintptr
	Write bool
}

// inUserSpace reports whether addr falls within the user portion of the
// address space. Real bounds checking against kernel space is the
// hardware page directory's job (out of scope per spec.md §1); here we
// only need the spec's "not a user virtual address" test.
func inUserSpace(addr uintptr) bool {
	return addr > 0 && addr < pageaddr.PhysBase
}

// isPlausibleStackAccess implements spec.md §4.3 step 3's stack-growth
// heuristic: the fault address must be no more than
// StackGrowthHeuristic bytes below esp, must lie below PhysBase, and the
// resulting stack must stay under the absolute growth cap.
func isPlausibleStackAccess(addr, esp uintptr) bool {
	if addr >= esp-pageaddr.StackGrowthHeuristic && addr < pageaddr.PhysBase {
		return pageaddr.PhysBase-pageaddr.PageBase(addr) <= pageaddr.StackGrowthCap
	}
	return false
}

// HandleFault dispatches a page fault to SPT lookup, stack growth, or
// termination, per spec.md §4.3:
//
//  1. addr not a user virtual address -> terminate (kerr.Fault)
//  2. an SPTE exists for addr's page -> load it, or terminate on an
//     illegal write to a read-only page
//  3. a plausible stack access below the growth cap -> grow the stack
//  4. otherwise -> terminate
func (spt *Spt_t) HandleFault(acc Access) error {
	if !inUserSpace(acc.Addr) {
		return kerr.New(kerr.Fault, "fault address %#x is not a user virtual address", acc.Addr)
	}

	if s, ok := spt.Lookup(acc.Addr); ok {
		if acc.Write && !s.Writ {
			return kerr.New(kerr.Fault, "write fault on non-writable page %#x", s.UserPage)
		}
		if err := spt.Load(s); err != nil {
			return kerr.New(kerr.Fault, "load failed for page %#x: %v", s.UserPage, err)
		}
		return nil
	}

	if isPlausibleStackAccess(acc.Addr, acc.Esp) {
		spt.AllocStackSpte(acc.Addr)
		return nil
	}

	return kerr.New(kerr.Fault, "unmapped address %#x is not a plausible stack access (esp=%#x)", acc.Addr, acc.Esp)
}

// ProbeRead walks [addr, addr+n) one page at a time, forcing each page's
// fault to resolve by loading it — "read faults are welcome" per spec.md
// §4.3. It is used by the syscall layer before it reads a user buffer.
func (spt *Spt_t) ProbeRead(addr uintptr, n int) error {
	end := addr + uintptr(n)
	for p := pageaddr.PageBase(addr); p < end; p += pageaddr.PageSize {
		s, ok := spt.Lookup(p)
		if !ok {
			return kerr.New(kerr.BadPointer, "unmapped user read at %#x", p)
		}
		if err := spt.Load(s); err != nil {
			return kerr.New(kerr.BadPointer, "load failed during read probe at %#x: %v", p, err)
		}
	}
	return nil
}

// ProbeWrite walks [addr, addr+n) one page at a time and requires each
// page to either already be writable or satisfy the stack-growth
// heuristic (spec.md §4.3: "for writes, require an SPTE whose writable is
// true or satisfy the stack-growth heuristic"). It never writes on the
// caller's behalf — the kernel must separately consult the writable bit
// before performing the write, so that an illegal write cannot be
// laundered through a kernel helper (spec.md §4.3).
func (spt *Spt_t) ProbeWrite(addr uintptr, n int, esp uintptr) error {
	end := addr + uintptr(n)
	for p := pageaddr.PageBase(addr); p < end; p += pageaddr.PageSize {
		s, ok := spt.Lookup(p)
		if !ok {
			if isPlausibleStackAccess(p, esp) {
				spt.AllocStackSpte(p)
				continue
			}
			return kerr.New(kerr.BadPointer, "unmapped user write at %#x", p)
		}
		if !s.Writ {
			return kerr.New(kerr.BadPointer, "write to non-writable user page %#x", p)
		}
		if err := spt.Load(s); err != nil {
			return kerr.New(kerr.BadPointer, "load failed during write probe at %#x: %v", p, err)
		}
	}
	return nil
}
