package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/qbaula/pintos-go/internal/pageaddr"
	"github.com/qbaula/pintos-go/internal/vmm"
)

// stackWriter accumulates a downward-growing user stack, tracking esp the
// way setup_stack's "void **stack_ptr" does; each push delegates the
// actual memory write to vmm.Spt_t.WriteUser (process.c's push_to_stack).
// top is the base of the single stack page setup_stack eagerly allocated;
// spec.md §4.5 step 5 requires overflowing that one page to be an error,
// so push never lets esp cross below it (unlike vmm.Spt_t.WriteUser's
// general write path, which would silently grow a new stack page).
type stackWriter struct {
	spt *vmm.Spt_t
	esp uintptr
	top uintptr
	err error
}

func (w *stackWriter) push(data []byte) uintptr {
	if w.err != nil {
		return w.esp
	}
	next := w.esp - uintptr(len(data))
	if next < w.top {
		w.err = fmt.Errorf("loader: argument list overflows initial stack page")
		return w.esp
	}
	if err := w.spt.WriteUser(w.esp, data); err != nil {
		w.err = fmt.Errorf("loader: %w", err)
		return w.esp
	}
	w.esp = next
	return w.esp
}

func (w *stackWriter) pushUint32(v uint32) uintptr {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return w.push(buf)
}

// setupStack lays out argc/argv/argument-strings at the top of a fresh
// user stack, following process.c's setup_stack: first the string bytes
// (recording each token's address as it is pushed), then word-alignment
// padding, then the argv pointer array (NULL-terminated) in reverse, then
// the argv pointer, argc, and a fake return address (spec.md §4.5's
// "argument passing" requirement). Overflowing the single eagerly
// allocated stack page is reported as an error rather than silently
// spilling onto a second page (spec.md §4.5 step 5).
func setupStack(spt *vmm.Spt_t, argv []string) (uintptr, error) {
	top := uintptr(pageaddr.PhysBase) - pageaddr.PageSize
	spt.AllocStackSpte(top)

	w := &stackWriter{spt: spt, esp: pageaddr.PhysBase, top: top}

	addrs := make([]uint32, len(argv))
	for i, tok := range argv {
		buf := append([]byte(tok), 0)
		addr := w.push(buf)
		addrs[i] = uint32(addr)
	}

	for w.esp%4 != 0 {
		w.push([]byte{0})
	}

	w.pushUint32(0) // argv[argc] = NULL
	for i := len(addrs) - 1; i >= 0; i-- {
		w.pushUint32(addrs[i])
	}

	argvPtr := uint32(w.esp)
	w.pushUint32(argvPtr)           // argv
	w.pushUint32(uint32(len(argv))) // argc
	w.pushUint32(0)                 // fake return address; main never returns

	if w.err != nil {
		return 0, w.err
	}
	return w.esp, nil
}
