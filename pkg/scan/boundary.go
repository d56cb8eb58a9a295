// Package scan walks an oracle backward from a mapped address to the edge of
// the mapped run that contains it.
package scan

import (
	"context"
	"fmt"

	e "memprobe/error"
	"memprobe/pkg/logflags"
	"memprobe/pkg/oracle"
)

// DefaultStride is one page on the platforms memprobe runs on.
const DefaultStride = 0x1000

// Boundary is the result of a successful scan. Index is the largest i for
// which Start - i*Stride was reported mapped, and Reached is that address.
type Boundary struct {
	Start   oracle.Address
	Stride  uint64
	Index   uint64
	Reached oracle.Address
	Steps   uint64
}

func (b Boundary) String() string {
	return fmt.Sprintf("i = %d, stack = %s, reached = %s", b.Index, b.Start, b.Reached)
}

// Scanner queries Oracle at Start, Start-Stride, Start-2*Stride, ... and stops
// at the first address that is not mapped. The mapped addresses are assumed
// to form one contiguous run in that direction, which holds for a stack
// sitting above its guard area.
//
// Limit, when non-zero, bounds the number of queries.
type Scanner struct {
	Oracle oracle.Oracle
	Stride uint64
	Limit  uint64

	log logflags.Logger
}

// New returns a Scanner over o with the given stride and no step limit.
func New(o oracle.Oracle, stride uint64) *Scanner {
	return &Scanner{Oracle: o, Stride: stride}
}

func (s *Scanner) logger() logflags.Logger {
	if s.log == nil {
		s.log = logflags.ScanLogger()
	}
	return s.log
}

// Scan finds the boundary below start.
//
// An unmapped start yields ErrNoBoundary. A run that would continue past
// address zero yields ErrAddressUnderflow. An indeterminate answer aborts the
// scan with the oracle's error; it is never read as "not mapped".
func (s *Scanner) Scan(ctx context.Context, start oracle.Address) (Boundary, error) {
	if s.Stride == 0 {
		return Boundary{}, e.ErrInvalidStride
	}
	log := s.logger()
	b := Boundary{Start: start, Stride: s.Stride}

	for i := uint64(0); ; i++ {
		if s.Limit != 0 && b.Steps == s.Limit {
			return b, fmt.Errorf("%w: %d steps from %s", e.ErrScanLimit, b.Steps, start)
		}
		if i > uint64(start)/s.Stride {
			return b, fmt.Errorf("%w: %s - %d*%#x", e.ErrAddressUnderflow, start, i, s.Stride)
		}
		addr := start - oracle.Address(i*s.Stride)

		o, err := s.Oracle.Query(ctx, addr)
		b.Steps++
		if err != nil {
			log.Warnf("scan aborted at i = %d (%s): %v", i, addr, err)
			return b, fmt.Errorf("scan at %s: %w", addr, err)
		}

		switch o {
		case oracle.Mapped:
			b.Index = i
			b.Reached = addr
			log.Debugf("i = %d, %s mapped", i, addr)
		case oracle.NotMapped:
			if i == 0 {
				return b, fmt.Errorf("%w: start %s is not mapped", e.ErrNoBoundary, start)
			}
			log.Infof("boundary at i = %d, reached = %s", b.Index, b.Reached)
			return b, nil
		default:
			return b, fmt.Errorf("scan at %s: %w", addr, e.ErrIndeterminate)
		}
	}
}

// FindBoundary returns the largest i such that start - i*stride is mapped.
func FindBoundary(ctx context.Context, start oracle.Address, stride uint64, o oracle.Oracle) (uint64, error) {
	b, err := New(o, stride).Scan(ctx, start)
	if err != nil {
		return 0, err
	}
	return b.Index, nil
}
