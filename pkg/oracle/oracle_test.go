//go:build linux

package oracle

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
	"unsafe"

	e "memprobe/error"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

var dataItem = 3
var bssItem [100]int

// kernelAddr lies above the user address range on every 64-bit layout.
const kernelAddr = Address(0xffffffffffff0000)

func addrOf[T any](p *T) Address {
	return Address(uintptr(unsafe.Pointer(p)))
}

func openPipe(t *testing.T) *Sink {
	t.Helper()
	s, err := OpenPipe()
	assert.NilError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// unmappedPage returns the address of a page that was mapped and then
// unmapped, which leaves a hole in the user range.
func unmappedPage(t *testing.T) Address {
	t.Helper()
	b, err := unix.Mmap(-1, 0, 4096, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	assert.NilError(t, err)
	addr := addrOf(&b[0])
	assert.NilError(t, unix.Munmap(b))
	return addr
}

func TestGoodProbeAddresses(t *testing.T) {
	s := openPipe(t)
	local := 7
	heap := new([64]byte)

	addrs := []Address{
		addrOf(&local),    // On the stack.
		addrOf(&dataItem), // In data.
		addrOf(&bssItem),  // In bss.
		addrOf(&heap[63]),
	}
	for _, a := range addrs {
		o, errno := s.Probe(a)
		s.Drain()
		assert.Equal(t, o, Mapped, "%s: %v", a, errno)
	}
}

func TestBadProbeAddresses(t *testing.T) {
	s := openPipe(t)

	addrs := []Address{
		0,
		kernelAddr,
		Address(^uint64(0)),
		unmappedPage(t),
	}
	for _, a := range addrs {
		o, errno := s.Probe(a)
		assert.Equal(t, o, NotMapped, "%s: %v", a, errno)
	}
}

func TestDeviceSinkOnlyRangeChecks(t *testing.T) {
	s, err := OpenDevice("/dev/null")
	assert.NilError(t, err)
	defer s.Close()
	assert.Equal(t, s.Kind(), DeviceSink)

	o, _ := s.Probe(addrOf(&dataItem))
	assert.Equal(t, o, Mapped)
	o, _ = s.Probe(kernelAddr)
	assert.Equal(t, o, NotMapped)
}

func TestOpenDeviceRejectsRegularFile(t *testing.T) {
	path := t.TempDir() + "/sink"
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0600)
	assert.NilError(t, err)
	unix.Close(fd)

	_, err = OpenDevice(path)
	assert.Assert(t, errors.Is(err, e.ErrSinkInvalid), "got %v", err)
}

func TestClosedSinkIsIndeterminate(t *testing.T) {
	s, err := OpenPipe()
	assert.NilError(t, err)
	fp, err := NewForkProbe(s)
	assert.NilError(t, err)
	assert.NilError(t, s.Close())

	assert.Assert(t, errors.Is(s.Validate(), e.ErrSinkInvalid))

	for _, a := range []Address{addrOf(&dataItem), kernelAddr} {
		o, errno := s.Probe(a)
		assert.Equal(t, o, Indeterminate)
		assert.Equal(t, errno, syscall.EBADF)

		o, err := fp.Query(context.Background(), a)
		assert.Equal(t, o, Indeterminate)
		assert.Assert(t, errors.Is(err, e.ErrIndeterminate), "got %v", err)

		var pe *ProbeError
		assert.Assert(t, errors.As(err, &pe))
		assert.Equal(t, pe.Errno, syscall.EBADF)
	}
}

func TestForkProbe(t *testing.T) {
	fp, err := NewForkProbe(openPipe(t))
	assert.NilError(t, err)
	ctx := context.Background()

	o, err := fp.Query(ctx, addrOf(&bssItem))
	assert.NilError(t, err)
	assert.Equal(t, o, Mapped)

	o, err = fp.Query(ctx, kernelAddr)
	assert.NilError(t, err)
	assert.Equal(t, o, NotMapped)

	o, err = fp.Query(ctx, unmappedPage(t))
	assert.NilError(t, err)
	assert.Equal(t, o, NotMapped)
}

func TestForkProbeCanceled(t *testing.T) {
	fp, err := NewForkProbe(openPipe(t))
	assert.NilError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, err := fp.Query(ctx, addrOf(&dataItem))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, context.Canceled))
	assert.Assert(t, errors.Is(err, e.ErrIndeterminate))
}

// fillSink fills a pipe sink so the next write through it blocks.
func fillSink(t *testing.T, s *Sink) {
	t.Helper()
	assert.NilError(t, unix.SetNonblock(s.Fd(), true))
	defer func() { assert.NilError(t, unix.SetNonblock(s.Fd(), false)) }()

	chunk := make([]byte, 4096)
	for _, size := range []int{len(chunk), 1} {
		for {
			_, err := unix.Write(s.Fd(), chunk[:size])
			if err == unix.EAGAIN {
				break
			}
			assert.NilError(t, err)
		}
	}
}

func TestForkProbeTimesOutWhileWaiting(t *testing.T) {
	s := openPipe(t)
	fp, err := NewForkProbe(s)
	assert.NilError(t, err)
	fillSink(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	o, err := fp.Query(ctx, addrOf(&dataItem))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Assert(t, errors.Is(err, e.ErrIndeterminate))
	assert.Assert(t, !errors.Is(err, e.ErrProcessFault), "got %v", err)

	// The sink was drained, the next query answers.
	o, err = fp.Query(context.Background(), addrOf(&dataItem))
	assert.NilError(t, err)
	assert.Equal(t, o, Mapped)
}

func TestDecodeProbeStatus(t *testing.T) {
	o, err := decodeProbeStatus(1, unix.WaitStatus(exitNotMapped<<8))
	assert.NilError(t, err)
	assert.Equal(t, o, NotMapped)

	o, err = decodeProbeStatus(1, unix.WaitStatus((exitIndeterminate+int(syscall.EBADF))<<8))
	assert.Equal(t, o, Indeterminate)
	var pe *ProbeError
	assert.Assert(t, errors.As(err, &pe))
	assert.Equal(t, pe.Errno, syscall.EBADF)

	// An errno too large for the exit status is reported without one.
	o, err = decodeProbeStatus(1, unix.WaitStatus(exitErrnoUnknown<<8))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, e.ErrIndeterminate))
	assert.Assert(t, errors.As(err, &pe))
	assert.Equal(t, pe.Errno, syscall.Errno(0))

	o, err = decodeProbeStatus(1, unix.WaitStatus((exitIndeterminate+252)<<8))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.As(err, &pe))
	assert.Equal(t, pe.Errno, syscall.Errno(252))

	// A child killed by SIGSEGV is a process fault, never "not mapped".
	o, err = decodeProbeStatus(1, unix.WaitStatus(syscall.SIGSEGV))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, e.ErrProcessFault))
	assert.Assert(t, errors.As(err, &pe))
	assert.Equal(t, pe.Signal, syscall.SIGSEGV)
}

func TestWorker(t *testing.T) {
	w, err := NewWorker(openPipe(t))
	assert.NilError(t, err)
	defer w.Close()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		o, err := w.Query(ctx, addrOf(&bssItem[i]))
		assert.NilError(t, err)
		assert.Equal(t, o, Mapped)
	}

	o, err := w.Query(ctx, kernelAddr)
	assert.NilError(t, err)
	assert.Equal(t, o, NotMapped)
	assert.Assert(t, w.Alive())
	assert.Equal(t, w.State(), "awaiting request")
}

func TestBackendsAgree(t *testing.T) {
	s := openPipe(t)
	hole := unmappedPage(t)

	fp, err := NewForkProbe(s)
	assert.NilError(t, err)
	w, err := NewWorker(s)
	assert.NilError(t, err)
	defer w.Close()

	local := 1
	ctx := context.Background()
	for _, a := range []Address{addrOf(&local), addrOf(&dataItem), 0, kernelAddr, hole} {
		fo, ferr := fp.Query(ctx, a)
		wo, werr := w.Query(ctx, a)
		assert.NilError(t, ferr)
		assert.NilError(t, werr)
		assert.Equal(t, fo, wo, "%s", a)
	}
}

func TestWorkerSnapshot(t *testing.T) {
	s := openPipe(t)
	w, err := NewWorker(s)
	assert.NilError(t, err)
	defer w.Close()

	// Mapped after the worker's snapshot: invisible to the worker, visible
	// to a fresh fork.
	b, err := unix.Mmap(-1, 0, 4096, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	assert.NilError(t, err)
	defer unix.Munmap(b)
	addr := addrOf(&b[0])

	o, err := w.Query(context.Background(), addr)
	assert.NilError(t, err)
	assert.Equal(t, o, NotMapped)

	fp, err := NewForkProbe(s)
	assert.NilError(t, err)
	o, err = fp.Query(context.Background(), addr)
	assert.NilError(t, err)
	assert.Equal(t, o, Mapped)
	assert.Assert(t, !w.SnapshotTime().IsZero())
}

func TestWorkerClose(t *testing.T) {
	w, err := NewWorker(openPipe(t))
	assert.NilError(t, err)
	assert.NilError(t, w.Close())
	assert.Assert(t, !w.Alive())

	o, err := w.Query(context.Background(), addrOf(&dataItem))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, e.ErrWorkerDead), "got %v", err)
}

func TestWorkerDiesUnderCaller(t *testing.T) {
	w, err := NewWorker(openPipe(t))
	assert.NilError(t, err)
	assert.NilError(t, unix.Kill(w.Pid(), unix.SIGKILL))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := w.Query(ctx, addrOf(&dataItem))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, e.ErrIndeterminate))
	assert.Assert(t, !w.Alive())

	_, err = w.Query(ctx, addrOf(&dataItem))
	assert.Assert(t, errors.Is(err, e.ErrWorkerDead), "got %v", err)
}

func TestWorkerStoppedTimesOut(t *testing.T) {
	w, err := NewWorker(openPipe(t))
	assert.NilError(t, err)
	defer w.Close()
	assert.NilError(t, unix.Kill(w.Pid(), unix.SIGSTOP))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	o, err := w.Query(ctx, addrOf(&dataItem))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, e.ErrWorkerTimeout), "got %v", err)
	assert.Assert(t, !w.Alive())
}

func TestWorkerShortReadIsFatal(t *testing.T) {
	w, err := NewWorker(openPipe(t))
	assert.NilError(t, err)
	defer w.Close()
	w.ch.r = &shortReader{r: w.resp, n: 3}

	o, err := w.Query(context.Background(), addrOf(&dataItem))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, e.ErrProtocolDesync), "got %v", err)
	assert.Equal(t, w.State(), "dead")
	assert.Assert(t, errors.Is(w.Err(), e.ErrProtocolDesync))

	// The channel is never resumed.
	_, err = w.Query(context.Background(), addrOf(&dataItem))
	assert.Assert(t, errors.Is(err, e.ErrWorkerDead), "got %v", err)
}

func TestWorkerCanceledWhileWaiting(t *testing.T) {
	w, err := NewWorker(openPipe(t))
	assert.NilError(t, err)
	defer w.Close()
	assert.NilError(t, unix.Kill(w.Pid(), unix.SIGSTOP))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	o, err := w.Query(ctx, addrOf(&dataItem))
	assert.Equal(t, o, Indeterminate)
	assert.Assert(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Assert(t, errors.Is(err, e.ErrIndeterminate))
	assert.Assert(t, !w.Alive())
}

func TestWorkerAliveDuringQuery(t *testing.T) {
	w, err := NewWorker(openPipe(t))
	assert.NilError(t, err)
	defer w.Close()
	assert.NilError(t, unix.Kill(w.Pid(), unix.SIGSTOP))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := w.Query(ctx, addrOf(&dataItem))
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for w.State() != "awaiting response" {
		assert.Assert(t, time.Now().Before(deadline), "query never started")
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	assert.Assert(t, w.Alive())
	assert.Assert(t, w.Err() == nil)
	assert.Assert(t, time.Since(start) < 500*time.Millisecond, "Alive waited on the query")

	assert.Assert(t, errors.Is(<-done, e.ErrWorkerTimeout))
	assert.Assert(t, !w.Alive())
}
