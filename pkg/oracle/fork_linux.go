//go:build linux

package oracle

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The runtime hooks package syscall uses around fork. beforeFork blocks
// signals and arms the stack guard so that any stack growth in the child
// throws; afterForkInChild resets signal handlers to their defaults, so a
// fault in a child kills it instead of entering the parent's handler.

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// Exit statuses of a ForkProbe child. Indeterminate children exit with
// exitIndeterminate plus the errno. An errno that does not fit below
// exitErrnoUnknown is reported as exitErrnoUnknown and is lost.
const (
	exitMapped        = 0
	exitNotMapped     = 1
	exitIndeterminate = 2
	exitErrnoUnknown  = 255
)

// Exit statuses of a Worker child.
const (
	workerExitClosed     = 0
	workerExitShortRead  = 3
	workerExitShortWrite = 4
	workerExitReadError  = 5
)

// Everything a forked child executes must be nosplit and must not allocate:
// only the forking thread exists in the child and the runtime is unusable.

// forkProbe duplicates the process; the child probes addr through sinkfd and
// exits with the outcome. The parent gets the child's pid.
//
//go:norace
//go:noinline
func forkProbe(sinkfd int, addr uintptr) (int, syscall.Errno) {
	beforeFork()
	pid, _, errno := unix.RawSyscall6(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0)
	if errno != 0 || pid != 0 {
		afterFork()
		return int(pid), errno
	}

	afterForkInChild()
	exitChild(probeStatus(sinkfd, addr))
	return 0, 0
}

//go:norace
//go:nosplit
func probeStatus(sinkfd int, addr uintptr) int {
	o, errno := faultProbe(sinkfd, addr)
	switch o {
	case Mapped:
		return exitMapped
	case NotMapped:
		return exitNotMapped
	}
	if errno >= exitErrnoUnknown-exitIndeterminate {
		return exitErrnoUnknown
	}
	return exitIndeterminate + int(errno)
}

// workerChild is prepared by the parent before the fork and holds everything
// the child loop touches.
type workerChild struct {
	sink       int
	req        int // read end of the request pipe
	resp       int // write end of the response pipe
	parentReq  int
	parentResp int
	in         requestFrame
	out        responseFrame
}

// forkWorker duplicates the process; the child serves c until its request
// pipe is closed or the framing breaks.
//
//go:norace
//go:noinline
func forkWorker(c *workerChild) (int, syscall.Errno) {
	beforeFork()
	pid, _, errno := unix.RawSyscall6(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0)
	if errno != 0 || pid != 0 {
		afterFork()
		return int(pid), errno
	}

	afterForkInChild()
	exitChild(c.serve())
	return 0, 0
}

// serve is the worker loop. It alternates between awaiting a request and
// processing it; it never reads the next request before the full response
// was written. A short read or write ends the loop.
//
//go:norace
//go:nosplit
func (c *workerChild) serve() int {
	// The parent's ends must go, or closing the request pipe would never
	// reach this process as end of file.
	unix.RawSyscall(unix.SYS_CLOSE, uintptr(c.parentReq), 0, 0)
	unix.RawSyscall(unix.SYS_CLOSE, uintptr(c.parentResp), 0, 0)

	for {
		n, _, errno := unix.RawSyscall(unix.SYS_READ, uintptr(c.req), uintptr(unsafe.Pointer(&c.in[0])), RequestFrameSize)
		switch {
		case errno == unix.EINTR:
			continue
		case errno != 0:
			return workerExitReadError
		case n == 0:
			return workerExitClosed
		case n != RequestFrameSize:
			return workerExitShortRead
		}

		o, perr := faultProbe(c.sink, decodeRequest(&c.in))
		encodeResponse(&c.out, o, perr)

		for {
			n, _, errno = unix.RawSyscall(unix.SYS_WRITE, uintptr(c.resp), uintptr(unsafe.Pointer(&c.out[0])), ResponseFrameSize)
			if errno != unix.EINTR {
				break
			}
		}
		if errno != 0 || n != ResponseFrameSize {
			return workerExitShortWrite
		}
	}
}

//go:norace
//go:nosplit
func exitChild(code int) {
	for {
		unix.RawSyscall(unix.SYS_EXIT_GROUP, uintptr(code), 0, 0)
	}
}
