//go:build linux

package oracle

import (
	"fmt"
	"syscall"
	"unsafe"

	e "memprobe/error"

	"golang.org/x/sys/unix"
)

// PipeSinkName selects the pipe sink in OpenSink.
const PipeSinkName = "pipe"

// SinkKind tells how the sink discards the probed byte.
type SinkKind int

const (
	// DeviceSink writes to a character device such as /dev/null. Such a
	// device discards without copying, so the kernel only checks that the
	// address lies in the user range; unmapped user pages read as mapped.
	DeviceSink SinkKind = iota
	// PipeSink writes into a pipe whose read end is drained after every
	// probe. The kernel copies the byte, so unmapped pages fault.
	PipeSink
)

func (k SinkKind) String() string {
	if k == PipeSink {
		return "pipe"
	}
	return "device"
}

// validationByte is the known-mapped source of the self-test write.
var validationByte byte = 0x5a

// Sink is the descriptor every fault probe writes through. It is opened once,
// validated, and inherited by every duplicated process. Close must not race
// with probes.
type Sink struct {
	kind  SinkKind
	name  string
	fd    int
	drain int
}

// OpenSink opens the pipe sink for PipeSinkName and a device sink for any
// other value, then validates it.
func OpenSink(name string) (*Sink, error) {
	if name == "" || name == PipeSinkName {
		return OpenPipe()
	}
	return OpenDevice(name)
}

// OpenDevice opens a discarding character device read/write and validates it.
func OpenDevice(path string) (*Sink, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", path, err)
	}

	s := &Sink{kind: DeviceSink, name: path, fd: fd, drain: -1}
	if err := s.Validate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenPipe creates a pipe sink and validates it.
func OpenPipe() (*Sink, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create sink pipe: %w", err)
	}
	if err := unix.SetNonblock(p[0], true); err != nil {
		unix.Close(p[0])
		unix.Close(p[1])
		return nil, fmt.Errorf("sink pipe nonblock: %w", err)
	}

	s := &Sink{kind: PipeSink, name: PipeSinkName, fd: p[1], drain: p[0]}
	if err := s.Validate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Kind returns how the sink discards bytes.
func (s *Sink) Kind() SinkKind {
	return s.kind
}

func (s *Sink) String() string {
	return fmt.Sprintf("%s sink %s (fd %d)", s.kind, s.name, s.fd)
}

// Fd returns the descriptor probes write to, or -1 once closed.
func (s *Sink) Fd() int {
	return s.fd
}

// Validate checks that the descriptor is open, writable, of the expected
// type, and that a write from a known-mapped byte succeeds.
func (s *Sink) Validate() error {
	if s.fd < 0 {
		return fmt.Errorf("%w: %s is closed", e.ErrSinkInvalid, s.name)
	}

	fl, err := unix.FcntlInt(uintptr(s.fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("%w: fcntl %s: %v", e.ErrSinkInvalid, s.name, err)
	}
	if acc := fl & unix.O_ACCMODE; acc != unix.O_WRONLY && acc != unix.O_RDWR {
		return fmt.Errorf("%w: %s is not writable", e.ErrSinkInvalid, s.name)
	}

	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err != nil {
		return fmt.Errorf("%w: fstat %s: %v", e.ErrSinkInvalid, s.name, err)
	}
	want := uint32(unix.S_IFCHR)
	if s.kind == PipeSink {
		want = unix.S_IFIFO
	}
	if st.Mode&unix.S_IFMT != want {
		return fmt.Errorf("%w: %s has file mode %#o", e.ErrSinkInvalid, s.name, st.Mode&unix.S_IFMT)
	}

	o, errno := s.Probe(Address(uintptr(unsafe.Pointer(&validationByte))))
	s.Drain()
	if o != Mapped {
		return fmt.Errorf("%w: self-test write through %s: %s %v", e.ErrSinkInvalid, s.name, o, errno)
	}
	return nil
}

// Probe is the fault probe: it asks the kernel to write the byte at addr to
// the sink. Success means Mapped, EFAULT means NotMapped, any other errno
// means Indeterminate and is returned.
func (s *Sink) Probe(addr Address) (Outcome, syscall.Errno) {
	return faultProbe(s.fd, uintptr(addr))
}

// Drain discards whatever probes left in a pipe sink.
func (s *Sink) Drain() {
	if s.drain < 0 {
		return
	}
	var buf [256]byte
	for {
		n, err := unix.Read(s.drain, buf[:])
		if err == unix.EINTR {
			continue
		}
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases the sink. Probes through a closed sink report EBADF.
func (s *Sink) Close() error {
	var err error
	if s.fd >= 0 {
		err = unix.Close(s.fd)
		s.fd = -1
	}
	if s.drain >= 0 {
		unix.Close(s.drain)
		s.drain = -1
	}
	return err
}

// faultProbe runs in forked children, so it may only make raw system calls.
//
//go:norace
//go:nosplit
func faultProbe(fd int, addr uintptr) (Outcome, syscall.Errno) {
	for {
		_, _, errno := unix.RawSyscall(unix.SYS_WRITE, uintptr(fd), addr, 1)
		switch errno {
		case 0:
			return Mapped, 0
		case unix.EFAULT:
			return NotMapped, 0
		case unix.EINTR:
			continue
		}
		return Indeterminate, errno
	}
}
