package service

type CmdType int

const (
	Probe CmdType = iota
	Scan
	Maps
	Respawn
	Status
)

func (t CmdType) String() string {
	switch t {
	case Probe:
		return "probe"
	case Scan:
		return "scan"
	case Maps:
		return "maps"
	case Respawn:
		return "respawn"
	case Status:
		return "status"
	}
	return "unknown"
}

// Client sends terminal commands to a memprobe server. Addresses are
// resolved in the server's address space.
type Client interface {
	SendExpr(exprType CmdType, args string) (string, error)
	IsMemprobeServer() bool
}
