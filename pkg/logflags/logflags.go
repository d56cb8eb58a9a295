package logflags

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	// DefaultLogDesc writes logs to stderr.
	DefaultLogDesc = ""
	// DefaultLogStr enables every component.
	DefaultLogStr = "probe,worker,scan,http,grpc"
)

var (
	debug  bool
	probe  bool
	worker bool
	scan   bool
	http   bool
	grpc   bool

	mu     sync.Mutex
	logOut io.WriteCloser = nopCloser{os.Stderr}
)

// Logger is the logging surface used by every component.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Setup configures logging. When logFlag is false only errors are
// written. logStr is a comma separated list of components, logDest a file
// path; an empty logDest keeps stderr.
func Setup(logFlag bool, logStr, logDest string) error {
	mu.Lock()
	defer mu.Unlock()

	if logDest != "" {
		f, err := os.OpenFile(logDest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log destination %s: %w", logDest, err)
		}
		logOut.Close()
		logOut = f
	}

	debug = logFlag
	probe, worker, scan, http, grpc = false, false, false, false, false
	if !logFlag {
		return nil
	}
	if logStr == "" {
		logStr = DefaultLogStr
	}

	for _, c := range strings.Split(logStr, ",") {
		switch strings.TrimSpace(c) {
		case "probe":
			probe = true
		case "worker":
			worker = true
		case "scan":
			scan = true
		case "http":
			http = true
		case "grpc":
			grpc = true
		case "":
		default:
			return fmt.Errorf("unknown log component %q", c)
		}
	}

	return nil
}

// Close releases the log destination.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	err := logOut.Close()
	logOut = nopCloser{os.Stderr}
	return err
}

// Debug reports whether debug logging is on.
func Debug() bool {
	return debug
}
