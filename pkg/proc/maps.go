package proc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MemoryRegion is one line of /proc/[pid]/maps.
type MemoryRegion struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Device string
	Inode  uint64
	Path   string
}

// Size returns End-Start.
func (r MemoryRegion) Size() uint64 {
	return r.End - r.Start
}

// Contains reports whether addr lies in [Start, End).
func (r MemoryRegion) Contains(addr uint64) bool {
	return r.Start <= addr && addr < r.End
}

func (r MemoryRegion) String() string {
	return fmt.Sprintf("%016x-%016x %s %#x %s", r.Start, r.End, r.Perms, r.Size(), r.Path)
}

// 解析 /proc/[pid]/maps
func ReadMaps(pid int) ([]MemoryRegion, error) {
	f, err := os.Open(mapsPath(pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseMaps(f)
}

func mapsPath(pid int) string {
	if pid <= 0 {
		return "/proc/self/maps"
	}
	return fmt.Sprintf("/proc/%d/maps", pid)
}

// ParseMaps parses maps text. Lines that do not have at least the five
// fixed fields are skipped.
func ParseMaps(r io.Reader) ([]MemoryRegion, error) {
	var regions []MemoryRegion
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		// 解析地址范围
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil || end <= start {
			continue
		}

		region := MemoryRegion{
			Start:  start,
			End:    end,
			Perms:  fields[1],
			Offset: parseHex(fields[2]),
			Device: fields[3],
			Inode:  parseUint(fields[4]),
		}
		if len(fields) > 5 {
			region.Path = strings.Join(fields[5:], " ")
		}
		regions = append(regions, region)
	}
	return regions, sc.Err()
}

// StackRegion returns the last region whose path mentions "stack".
func StackRegion(regions []MemoryRegion) (MemoryRegion, bool) {
	var (
		found MemoryRegion
		ok    bool
	)
	for _, r := range regions {
		if strings.Contains(r.Path, "stack") {
			found, ok = r, true
		}
	}
	return found, ok
}

// Find returns the region containing addr.
func Find(regions []MemoryRegion, addr uint64) (MemoryRegion, bool) {
	for _, r := range regions {
		if r.Contains(addr) {
			return r, true
		}
	}
	return MemoryRegion{}, false
}

func parseHex(s string) uint64 {
	if s == "0" {
		return 0
	}
	val, _ := strconv.ParseUint(s, 16, 64)
	return val
}

func parseUint(s string) uint64 {
	val, _ := strconv.ParseUint(s, 10, 64)
	return val
}
