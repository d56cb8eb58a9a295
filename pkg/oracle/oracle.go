// Package oracle answers whether a virtual address is mapped in the calling
// process, without ever touching the address from the caller's own control
// flow.
//
// The atomic test is Sink.Probe: the kernel is asked to copy one byte from the
// address into a discarding sink, and EFAULT means the address is not mapped.
// Every probe reachable through the Oracle interface runs inside a duplicated
// process. ForkProbe duplicates the process once per query; Worker duplicates
// it once and talks to the copy over a pair of pipes.
//
// A duplicated process sees a copy-on-write snapshot of the parent's address
// space as of the duplication instant. ForkProbe takes a fresh snapshot for
// every query. Worker keeps answering against the snapshot taken when it was
// started: mappings created or removed in the parent afterwards are invisible
// to it, so a Worker must be restarted whenever the parent's address space
// changes in a way that matters to the caller.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	e "memprobe/error"
)

// Address is a virtual address in the probing process.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Outcome is the result of probing one address.
type Outcome uint8

const (
	// Indeterminate means the probe could not classify the address. The zero
	// value so that an unset outcome is never mistaken for an answer.
	Indeterminate Outcome = iota
	NotMapped
	Mapped
)

func (o Outcome) String() string {
	switch o {
	case Mapped:
		return "mapped"
	case NotMapped:
		return "not mapped"
	default:
		return "indeterminate"
	}
}

// Oracle is implemented by ForkProbe and Worker.
//
// Query returns Indeterminate if and only if it returns a non-nil error.
// The error then unwraps to the reason (e.ErrIndeterminate, e.ErrProcessFault,
// e.ErrProtocolDesync, e.ErrWorkerDead, e.ErrWorkerTimeout or the context
// error) and always matches e.ErrIndeterminate under errors.Is.
type Oracle interface {
	Query(ctx context.Context, addr Address) (Outcome, error)
}

// ProbeError describes why a query ended Indeterminate.
type ProbeError struct {
	Op     string
	Addr   Address
	Errno  syscall.Errno  // errno reported by the fault syscall, if any
	Signal syscall.Signal // signal that killed the probing process, if any
	Err    error          // sentinel from memprobe/error or a context error
	Cause  error          // underlying I/O error, if any
}

func (pe *ProbeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", pe.Op, pe.Addr, pe.Err)
	if pe.Errno != 0 {
		fmt.Fprintf(&b, ": %v", pe.Errno)
	}
	if pe.Signal != 0 {
		fmt.Fprintf(&b, ": killed by %v", pe.Signal)
	}
	if pe.Cause != nil {
		fmt.Fprintf(&b, ": %v", pe.Cause)
	}
	return b.String()
}

// Unwrap exposes both the reason and the underlying cause, so errors.Is
// matches either.
func (pe *ProbeError) Unwrap() []error {
	if pe.Cause == nil {
		return []error{pe.Err}
	}
	return []error{pe.Err, pe.Cause}
}

// Is makes every ProbeError match e.ErrIndeterminate.
func (pe *ProbeError) Is(target error) bool {
	return target == e.ErrIndeterminate
}
