package proc

import (
	"fmt"
	"strconv"

	e "memprobe/error"
)

// HintProvider supplies an address believed to lie inside a mapped stack
// region. A hint only seeds a scan; the oracle re-derives the truth with a
// live probe because mappings can change after the hint was read.
type HintProvider interface {
	StackHint() (uint64, error)
}

// MapsHint takes the start of the stack region listed in /proc/[pid]/maps.
// Pid 0 means the calling process.
type MapsHint struct {
	Pid int
}

func (h MapsHint) StackHint() (uint64, error) {
	regions, err := ReadMaps(h.Pid)
	if err != nil {
		return 0, err
	}
	r, ok := StackRegion(regions)
	if !ok {
		return 0, fmt.Errorf("%w: no stack region in %s", e.ErrNoStackHint, mapsPath(h.Pid))
	}
	return r.Start, nil
}

// AuxvHint takes the AT_RANDOM pointer, which points into the initial
// stack. Pid 0 means the calling process.
type AuxvHint struct {
	Pid int
}

func (h AuxvHint) StackHint() (uint64, error) {
	auxv, err := readAuxv(h.Pid)
	if err != nil {
		return 0, err
	}
	addr, ok := RandomFromAuxv(auxv, strconv.IntSize/8)
	if !ok {
		return 0, fmt.Errorf("%w: no AT_RANDOM entry", e.ErrNoStackHint)
	}
	return addr, nil
}

// FirstHint asks each provider in turn and returns the first hint.
type FirstHint []HintProvider

func (hs FirstHint) StackHint() (uint64, error) {
	var last error = e.ErrNoStackHint
	for _, h := range hs {
		addr, err := h.StackHint()
		if err == nil {
			return addr, nil
		}
		last = err
	}
	return 0, last
}

// DefaultHint reads the maps table and falls back to the auxiliary vector.
func DefaultHint() HintProvider {
	return FirstHint{MapsHint{}, AuxvHint{}}
}
