package service

import (
	"memprobe/pkg/logflags"
	"net"
)

// Server represents a server for a remote client
// to connect to.
type Server interface {
	Run() error
	Stop() error
}

type ServerImpl struct {
	Logger   logflags.Logger
	Listener net.Listener
	StopChan chan struct{}
}

// SetupLogger picks the component logger for kind, "http" or "grpc".
// logflags.Setup must have run before.
func (si *ServerImpl) SetupLogger(kind string) {
	switch kind {
	case "grpc":
		si.Logger = logflags.GRPCLogger()
	case "http":
		fallthrough
	default:
		si.Logger = logflags.HTTPLogger()
	}
}

// Addr returns the listening address.
func (si *ServerImpl) Addr() string {
	return si.Listener.Addr().String()
}
