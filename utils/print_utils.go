package utils

import (
	"errors"
	"fmt"
	e "memprobe/error"
	"memprobe/pkg/oracle"
	"strconv"
	"strings"
)

func PrintStringLine(s ...string) {
	for _, str := range s {
		fmt.Println(str)
	}
}

// FormatOutcome renders a query result as "mapped", "not mapped" or
// "indeterminate: <reason>".
func FormatOutcome(o oracle.Outcome, err error) string {
	if err == nil && o != oracle.Indeterminate {
		return o.String()
	}
	if err == nil {
		err = e.ErrIndeterminate
	}
	return fmt.Sprintf("%s: %v", oracle.Indeterminate, err)
}

// ParseAddress accepts hex with or without a 0x prefix.
func ParseAddress(s string) (oracle.Address, error) {
	h := strings.TrimSpace(s)
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
	n, err := strconv.ParseUint(h, 16, 64)
	if err != nil || h == "" {
		return 0, fmt.Errorf("%w %q", e.ErrInvalidAddress, s)
	}
	return oracle.Address(n), nil
}

// ParseSize accepts decimal, or hex with a 0x prefix.
func ParseSize(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) {
			err = ne.Err
		}
		return 0, fmt.Errorf("invalid size %q: %v", s, err)
	}
	return n, nil
}
