//go:build linux

package oracle

import (
	"context"
	"syscall"

	e "memprobe/error"
	"memprobe/pkg/logflags"

	"golang.org/x/sys/unix"
)

// ForkProbe runs every query in a freshly duplicated process. Each query
// sees the address space as of its own fork, at the cost of one process per
// query.
type ForkProbe struct {
	sink *Sink
	log  logflags.Logger
}

// NewForkProbe validates sink and returns a probe writing through it.
func NewForkProbe(sink *Sink) (*ForkProbe, error) {
	if err := sink.Validate(); err != nil {
		return nil, err
	}
	return &ForkProbe{sink: sink, log: logflags.ProbeLogger()}, nil
}

// Query implements Oracle.
func (p *ForkProbe) Query(ctx context.Context, addr Address) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Indeterminate, &ProbeError{Op: "probe", Addr: addr, Err: err}
	}

	syscall.ForkLock.Lock()
	pid, errno := forkProbe(p.sink.Fd(), uintptr(addr))
	syscall.ForkLock.Unlock()
	if errno != 0 {
		p.log.Warnf("fork for %s: %v", addr, errno)
		return Indeterminate, &ProbeError{Op: "fork", Addr: addr, Errno: errno, Err: e.ErrProcessFault}
	}

	ws, err := waitChild(ctx, pid)
	p.sink.Drain()
	if err != nil {
		p.log.Warnf("wait for probe %d at %s: %v", pid, addr, err)
		if cerr := ctx.Err(); cerr != nil {
			return Indeterminate, &ProbeError{Op: "wait", Addr: addr, Err: cerr}
		}
		return Indeterminate, &ProbeError{Op: "wait", Addr: addr, Err: e.ErrProcessFault, Cause: err}
	}

	o, perr := decodeProbeStatus(addr, ws)
	if perr != nil {
		p.log.Warnf("probe %d: %v", pid, perr)
		return Indeterminate, perr
	}
	p.log.Debugf("probe %d: %s is %s", pid, addr, o)
	return o, nil
}

func decodeProbeStatus(addr Address, ws unix.WaitStatus) (Outcome, error) {
	switch {
	case ws.Exited():
		switch code := ws.ExitStatus(); code {
		case exitMapped:
			return Mapped, nil
		case exitNotMapped:
			return NotMapped, nil
		case exitErrnoUnknown:
			return Indeterminate, &ProbeError{Op: "probe", Addr: addr, Err: e.ErrIndeterminate}
		default:
			return Indeterminate, &ProbeError{Op: "probe", Addr: addr, Errno: syscall.Errno(code - exitIndeterminate), Err: e.ErrIndeterminate}
		}
	case ws.Signaled():
		return Indeterminate, &ProbeError{Op: "probe", Addr: addr, Signal: ws.Signal(), Err: e.ErrProcessFault}
	}
	return Indeterminate, &ProbeError{Op: "probe", Addr: addr, Err: e.ErrProcessFault}
}

// wait4 reaps pid, retrying on EINTR.
func wait4(pid int, options int) (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, options, nil)
		if err == unix.EINTR {
			continue
		}
		return wpid, ws, err
	}
}

// waitChild blocks until pid terminates. A done ctx kills the child and
// reports the context error once the child has been reaped.
func waitChild(ctx context.Context, pid int) (unix.WaitStatus, error) {
	if ctx.Done() == nil {
		_, ws, err := wait4(pid, 0)
		return ws, err
	}

	type result struct {
		ws  unix.WaitStatus
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, ws, err := wait4(pid, 0)
		done <- result{ws, err}
	}()

	select {
	case r := <-done:
		return r.ws, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.ws, r.err
		default:
		}
		unix.Kill(pid, unix.SIGKILL)
		r := <-done
		return r.ws, ctx.Err()
	}
}
