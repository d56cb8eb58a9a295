package proc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	_AT_NULL   = 0
	_AT_RANDOM = 25
)

// RandomFromAuxv searches the elf auxiliary vector for AT_RANDOM, the
// address of 16 random bytes the kernel places on the initial stack.
// For a description of the auxiliary vector (auxv) format see:
// System V Application Binary Interface, AMD64 Architecture Processor
// Supplement, section 3.4.3.
func RandomFromAuxv(auxv []byte, ptrSize int) (uint64, bool) {
	rd := bytes.NewBuffer(auxv)

	for {
		tag, err := readUintRaw(rd, binary.LittleEndian, ptrSize)
		if err != nil {
			return 0, false
		}
		val, err := readUintRaw(rd, binary.LittleEndian, ptrSize)
		if err != nil {
			return 0, false
		}

		switch tag {
		case _AT_NULL:
			return 0, false
		case _AT_RANDOM:
			return val, val != 0
		}
	}
}

// readUintRaw reads an integer of ptrSize bytes, with the specified byte order, from reader.
func readUintRaw(reader io.Reader, order binary.ByteOrder, ptrSize int) (uint64, error) {
	switch ptrSize {
	case 4:
		var n uint32
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 8:
		var n uint64
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("not supported ptr size %d", ptrSize)
}

func readAuxv(pid int) ([]byte, error) {
	path := "/proc/self/auxv"
	if pid > 0 {
		path = fmt.Sprintf("/proc/%d/auxv", pid)
	}
	auxvbuf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read auxiliary vector: %v", err)
	}
	return auxvbuf, nil
}
