//go:build linux

package oracle

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	e "memprobe/error"
	"memprobe/pkg/logflags"

	"golang.org/x/sys/unix"
)

var (
	_ Oracle = (*Worker)(nil)
	_ Oracle = (*ForkProbe)(nil)
)

// closeGrace is how long Close waits for the child to exit on its own.
const closeGrace = time.Second

type workerState int

const (
	awaitingRequest workerState = iota
	awaitingResponse
	workerDead
)

func (s workerState) String() string {
	switch s {
	case awaitingRequest:
		return "awaiting request"
	case awaitingResponse:
		return "awaiting response"
	default:
		return "dead"
	}
}

// Worker is a long-lived duplicated process answering queries over two
// pipes. It answers against the address space snapshot taken when it was
// started (see SnapshotTime).
//
// Queries are serialized: qmu is held for a whole round trip, mu only
// while state is read or changed, so Alive, State and Err never wait on a
// query in flight.
type Worker struct {
	qmu      sync.Mutex
	mu       sync.Mutex
	pid      int
	sink     *Sink
	req      *os.File
	resp     *os.File
	ch       *channel
	state    workerState
	err      error
	snapshot time.Time
	log      logflags.Logger
}

// NewWorker validates sink, duplicates the process and returns the handle
// to the child.
func NewWorker(sink *Sink) (*Worker, error) {
	if err := sink.Validate(); err != nil {
		return nil, err
	}

	var req, resp [2]int
	if err := unix.Pipe2(req[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("request pipe: %w", err)
	}
	if err := unix.Pipe2(resp[:], unix.O_CLOEXEC); err != nil {
		closeFds(req[0], req[1])
		return nil, fmt.Errorf("response pipe: %w", err)
	}

	child := &workerChild{
		sink:       sink.Fd(),
		req:        req[0],
		resp:       resp[1],
		parentReq:  req[1],
		parentResp: resp[0],
	}

	syscall.ForkLock.Lock()
	snapshot := time.Now()
	pid, errno := forkWorker(child)
	syscall.ForkLock.Unlock()
	closeFds(req[0], resp[1])
	if errno != 0 {
		closeFds(req[1], resp[0])
		return nil, fmt.Errorf("fork worker: %w", errno)
	}

	// Non-blocking parent ends get a poller, which is what lets queries
	// honour deadlines. The child's ends stay blocking.
	for _, fd := range []int{req[1], resp[0]} {
		if err := unix.SetNonblock(fd, true); err != nil {
			closeFds(req[1], resp[0])
			unix.Kill(pid, unix.SIGKILL)
			wait4(pid, 0)
			return nil, fmt.Errorf("worker pipe nonblock: %w", err)
		}
	}

	w := &Worker{
		pid:      pid,
		sink:     sink,
		req:      os.NewFile(uintptr(req[1]), "worker-request"),
		resp:     os.NewFile(uintptr(resp[0]), "worker-response"),
		snapshot: snapshot,
		log:      logflags.WorkerLogger(),
	}
	w.ch = newChannel(w.resp, w.req)
	w.log.Infof("worker spawned with pid = %d", pid)
	return w, nil
}

func closeFds(fds ...int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

// Pid returns the child's process id.
func (w *Worker) Pid() int {
	return w.pid
}

// SnapshotTime returns when the child's address space was copied.
func (w *Worker) SnapshotTime() time.Time {
	return w.snapshot
}

// State describes the caller side of the protocol.
func (w *Worker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.String()
}

// Err returns why the worker died, or nil while it is usable.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Query implements Oracle. ctx bounds the exchange; a query that does not
// complete kills the worker, since a late response would misalign the
// stream for every later query.
func (w *Worker) Query(ctx context.Context, addr Address) (Outcome, error) {
	w.qmu.Lock()
	defer w.qmu.Unlock()

	w.mu.Lock()
	if w.state == workerDead {
		err := w.err
		w.mu.Unlock()
		return Indeterminate, &ProbeError{Op: "query", Addr: addr, Err: e.ErrWorkerDead, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		w.mu.Unlock()
		return Indeterminate, &ProbeError{Op: "query", Addr: addr, Err: err}
	}
	w.state = awaitingResponse
	w.mu.Unlock()

	deadline, _ := ctx.Deadline()
	w.req.SetWriteDeadline(deadline)
	w.resp.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		now := time.Now()
		w.req.SetWriteDeadline(now)
		w.resp.SetReadDeadline(now)
	})
	defer stop()

	o, errno, err := w.ch.roundTrip(addr)
	if err != nil {
		if pe, ok := err.(*ProbeError); ok && ctx.Err() != nil {
			pe.Cause = ctx.Err()
		}
		w.mu.Lock()
		w.fail(err)
		w.mu.Unlock()
		return Indeterminate, err
	}

	w.mu.Lock()
	if w.state == awaitingResponse {
		w.state = awaitingRequest
	}
	w.mu.Unlock()
	w.sink.Drain()

	if o == Indeterminate {
		w.log.Warnf("worker %d: %s indeterminate: %v", w.pid, addr, errno)
		return Indeterminate, &ProbeError{Op: "probe", Addr: addr, Errno: errno, Err: e.ErrIndeterminate}
	}
	w.log.Debugf("worker %d: %s is %s", w.pid, addr, o)
	return o, nil
}

// fail marks the worker dead, closes the channels and reaps the child. A
// worker already found dead by Alive or Close has been reaped. Callers hold
// w.mu.
func (w *Worker) fail(err error) {
	if w.state == workerDead {
		w.log.Debugf("worker %d: %v after death", w.pid, err)
		return
	}
	w.log.Errorf("worker %d: %v", w.pid, err)
	w.state = workerDead
	w.err = err
	w.req.Close()
	w.resp.Close()
	unix.Kill(w.pid, unix.SIGKILL)
	wait4(w.pid, 0)
}

// Alive reports whether the child is still running and the channel usable.
// A child found to have exited marks the worker dead.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == workerDead {
		return false
	}

	wpid, ws, err := wait4(w.pid, unix.WNOHANG)
	switch {
	case err != nil:
		w.err = fmt.Errorf("%w: wait: %v", e.ErrWorkerDead, err)
	case wpid == w.pid:
		w.err = fmt.Errorf("%w: %s", e.ErrWorkerDead, describeWorkerExit(ws))
	default:
		return true
	}

	w.state = workerDead
	w.req.Close()
	w.resp.Close()
	w.log.Errorf("worker %d: %v", w.pid, w.err)
	return false
}

// Close closes the request channel, which ends the child's loop, and waits
// for the child, killing it if it lingers.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == workerDead {
		return nil
	}
	w.state = workerDead
	w.err = fmt.Errorf("%w: closed", e.ErrWorkerDead)
	w.req.Close()
	defer w.resp.Close()

	deadline := time.Now().Add(closeGrace)
	for time.Now().Before(deadline) {
		wpid, ws, err := wait4(w.pid, unix.WNOHANG)
		if err != nil {
			return fmt.Errorf("wait worker %d: %w", w.pid, err)
		}
		if wpid == w.pid {
			if !ws.Exited() || ws.ExitStatus() != workerExitClosed {
				return fmt.Errorf("worker %d: %s", w.pid, describeWorkerExit(ws))
			}
			w.log.Infof("worker %d exiting", w.pid)
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	unix.Kill(w.pid, unix.SIGKILL)
	wait4(w.pid, 0)
	return fmt.Errorf("worker %d: killed after %v", w.pid, closeGrace)
}

func describeWorkerExit(ws unix.WaitStatus) string {
	if ws.Signaled() {
		return fmt.Sprintf("killed by %v", ws.Signal())
	}
	switch code := ws.ExitStatus(); code {
	case workerExitClosed:
		return "request channel closed"
	case workerExitShortRead:
		return "short read on request channel"
	case workerExitShortWrite:
		return "short write on response channel"
	case workerExitReadError:
		return "request channel read error"
	default:
		return fmt.Sprintf("exit status %d", code)
	}
}
