// Package kerr defines the error-kind vocabulary shared across the kernel
// syscall boundary. Errors built with New carry an Err_t kind (the vmm and
// proc packages build them); the syscalls package reduces every failure
// to the raw return value of the syscall (-1 or false) without reading
// the kind. Modeled on the teacher's own defs.Err_t (biscuit/src/defs).
package kerr

import "fmt"

// Err_t is a negative errno-style result code. Zero means success.
type Err_t int

// Error kinds from spec.md §7. Each maps to a strictly negative Err_t so
// callers can test `err != 0` the way the teacher's defs.Err_t does.
const (
	OK                Err_t = 0
	BadPointer        Err_t = -1
	NoSpace           Err_t = -2
	NotFound          Err_t = -3
	InvalidArg        Err_t = -4
	PermissionDenied  Err_t = -5
	ResourceExhausted Err_t = -6
	AlreadyExists     Err_t = -7
	Fault             Err_t = -8 // terminates the calling process
)

func (e Err_t) String() string {
	switch e {
	case OK:
		return "ok"
	case BadPointer:
		return "bad pointer"
	case NoSpace:
		return "no space"
	case NotFound:
		return "not found"
	case InvalidArg:
		return "invalid argument"
	case PermissionDenied:
		return "permission denied"
	case ResourceExhausted:
		return "resource exhausted"
	case AlreadyExists:
		return "already exists"
	case Fault:
		return "fault"
	default:
		return fmt.Sprintf("err(%d)", int(e))
	}
}

// kindErr wraps an Err_t as a regular error so internal (non-syscall)
// helpers can use normal Go error-handling idiom while still carrying a
// kind that Kind can recover.
type kindErr struct {
	kind Err_t
	msg  string
}

func (k *kindErr) Error() string {
	if k.msg == "" {
		return k.kind.String()
	}
	return fmt.Sprintf("%s: %s", k.kind, k.msg)
}

// New builds an error carrying the given Err_t kind.
func New(kind Err_t, format string, args ...interface{}) error {
	return &kindErr{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Kind extracts the Err_t carried by err, defaulting to NotFound for
// errors that did not originate from New (a conservative default: an
// unrecognized error reads as "not found" rather than as success). Only
// an error returned by New itself is recognized; an error that wraps one
// reports NotFound.
func Kind(err error) Err_t {
	if err == nil {
		return OK
	}
	var ke *kindErr
	if k, ok := err.(*kindErr); ok {
		ke = k
		return ke.kind
	}
	return NotFound
}
