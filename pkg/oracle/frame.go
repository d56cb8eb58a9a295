package oracle

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"syscall"

	e "memprobe/error"
)

// Wire format between a Worker and its child. There is no version, magic
// or length prefix; changing a frame width breaks the protocol.
//
//	request:  8 bytes, little-endian address
//	response: 8 bytes, byte 0 outcome, bytes 4..7 little-endian errno
const (
	RequestFrameSize  = 8
	ResponseFrameSize = 8
)

// Response outcome bytes. NotMapped and Mapped keep the values of a boolean.
const (
	wireNotMapped     = 0
	wireMapped        = 1
	wireIndeterminate = 2
)

type requestFrame [RequestFrameSize]byte

type responseFrame [ResponseFrameSize]byte

// decodeRequest runs in the worker child.
//
//go:nosplit
func decodeRequest(f *requestFrame) uintptr {
	return uintptr(uint64(f[0]) | uint64(f[1])<<8 | uint64(f[2])<<16 | uint64(f[3])<<24 |
		uint64(f[4])<<32 | uint64(f[5])<<40 | uint64(f[6])<<48 | uint64(f[7])<<56)
}

// encodeResponse runs in the worker child.
//
//go:nosplit
func encodeResponse(f *responseFrame, o Outcome, errno syscall.Errno) {
	switch o {
	case Mapped:
		f[0] = wireMapped
	case NotMapped:
		f[0] = wireNotMapped
	default:
		f[0] = wireIndeterminate
	}
	f[1], f[2], f[3] = 0, 0, 0
	f[4] = byte(errno)
	f[5] = byte(errno >> 8)
	f[6] = byte(errno >> 16)
	f[7] = byte(errno >> 24)
}

// channel is the requesting side of the protocol. Exactly one frame is in
// flight: a request is written only after the previous response was read.
type channel struct {
	r    io.Reader
	w    io.Writer
	req  requestFrame
	resp responseFrame
}

func newChannel(r io.Reader, w io.Writer) *channel {
	return &channel{r: r, w: w}
}

// roundTrip sends one request and reads its response. Any error is fatal to
// the channel: the caller must not use it again.
func (c *channel) roundTrip(addr Address) (Outcome, syscall.Errno, error) {
	binary.LittleEndian.PutUint64(c.req[:], uint64(addr))
	n, err := c.w.Write(c.req[:])
	if n != RequestFrameSize {
		return Indeterminate, 0, frameError("write request", addr, n, err)
	}

	n, err = c.r.Read(c.resp[:])
	if n != ResponseFrameSize {
		return Indeterminate, 0, frameError("read response", addr, n, err)
	}

	errno := syscall.Errno(binary.LittleEndian.Uint32(c.resp[4:]))
	switch c.resp[0] {
	case wireMapped:
		return Mapped, 0, nil
	case wireNotMapped:
		return NotMapped, 0, nil
	case wireIndeterminate:
		return Indeterminate, errno, nil
	}
	return Indeterminate, 0, &ProbeError{Op: "read response", Addr: addr, Err: e.ErrProtocolDesync}
}

// frameError classifies a failed frame transfer. A partial frame is always a
// desync; nothing transferred is a dead peer or a timeout.
func frameError(op string, addr Address, n int, err error) error {
	pe := &ProbeError{Op: op, Addr: addr, Err: e.ErrProtocolDesync, Cause: err}
	if n > 0 {
		return pe
	}
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		pe.Err = e.ErrWorkerTimeout
	case errors.Is(err, io.EOF), errors.Is(err, syscall.EPIPE), errors.Is(err, os.ErrClosed):
		pe.Err = e.ErrWorkerDead
	}
	return pe
}
