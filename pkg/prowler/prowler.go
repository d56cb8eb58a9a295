package prowler

import (
	"context"
	"fmt"
	e "memprobe/error"
	"memprobe/pkg/logflags"
	"memprobe/pkg/oracle"
	"memprobe/pkg/proc"
	"memprobe/pkg/scan"
	"memprobe/utils"
	"strings"
	"sync"
	"time"
)

type Backend string

const (
	Fork   Backend = "fork"
	Worker Backend = "worker"
)

// ParseBackend accepts "fork" and "worker"; an empty string means fork.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", Fork:
		return Fork, nil
	case Worker:
		return Worker, nil
	}
	return "", fmt.Errorf("unknown backend %q, want %q or %q", s, Fork, Worker)
}

type Config struct {
	// Sink is "pipe" or the path of a character device.
	Sink string
	// Stride is the scan step in bytes.
	Stride uint64
	// Limit bounds the number of scan queries, 0 means unbounded.
	Limit uint64
	// Timeout bounds a single query, 0 means unbounded.
	Timeout time.Duration
	// Backend answers probe and scan requests that do not name one.
	Backend Backend
}

func DefaultConfig() Config {
	return Config{
		Sink:    oracle.PipeSinkName,
		Stride:  scan.DefaultStride,
		Timeout: 5 * time.Second,
		Backend: Fork,
	}
}

// Status describes the sink and the worker.
type Status struct {
	Sink        string    `json:"sink"`
	Backend     Backend   `json:"backend"`
	WorkerPid   int       `json:"worker_pid"`
	WorkerAlive bool      `json:"worker_alive"`
	WorkerState string    `json:"worker_state"`
	WorkerErr   string    `json:"worker_err,omitempty"`
	Snapshot    time.Time `json:"snapshot,omitempty"`
}

func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sink: %s\n", s.Sink)
	fmt.Fprintf(&b, "backend: %s\n", s.Backend)
	if s.WorkerPid == 0 {
		fmt.Fprintf(&b, "worker: %s", s.WorkerState)
		return b.String()
	}
	fmt.Fprintf(&b, "worker: pid = %d, alive = %t, state = %s\n", s.WorkerPid, s.WorkerAlive, s.WorkerState)
	fmt.Fprintf(&b, "snapshot: %s", s.Snapshot.Format(time.RFC3339Nano))
	if s.WorkerErr != "" {
		fmt.Fprintf(&b, "\nerror: %s", s.WorkerErr)
	}
	return b.String()
}

// Prowler owns the sink, both oracles and the hint provider. It is the only
// holder of the worker handle: Respawn replaces it under mu. Worker queries
// are serialized by the Worker itself, so mu is never held during a query.
type Prowler struct {
	cfg  Config
	sink *oracle.Sink
	fork *oracle.ForkProbe
	hint proc.HintProvider

	mu     sync.Mutex
	worker *oracle.Worker

	log logflags.Logger
}

func NewProwler(cfg Config) (*Prowler, error) {
	if cfg.Stride == 0 {
		return nil, e.ErrInvalidStride
	}
	if _, err := ParseBackend(string(cfg.Backend)); err != nil {
		return nil, err
	}

	sink, err := oracle.OpenSink(cfg.Sink)
	if err != nil {
		return nil, err
	}
	fork, err := oracle.NewForkProbe(sink)
	if err != nil {
		sink.Close()
		return nil, err
	}

	return &Prowler{
		cfg:  cfg,
		sink: sink,
		fork: fork,
		hint: proc.DefaultHint(),
		log:  logflags.ProbeLogger(),
	}, nil
}

func (p *Prowler) Config() Config {
	return p.cfg
}

// SetHint replaces the hint provider used by Scan.
func (p *Prowler) SetHint(h proc.HintProvider) {
	p.hint = h
}

// Probe asks backend whether addr is mapped. An empty backend uses the
// configured default.
func (p *Prowler) Probe(ctx context.Context, addr oracle.Address, b Backend) (oracle.Outcome, error) {
	o, err := p.oracle(b)
	if err != nil {
		return oracle.Indeterminate, err
	}
	return o.Query(ctx, addr)
}

// Scan walks backward from the stack hint.
func (p *Prowler) Scan(ctx context.Context, b Backend) (scan.Boundary, error) {
	start, err := p.hint.StackHint()
	if err != nil {
		return scan.Boundary{}, err
	}
	p.log.Debugf("stack hint = %#x", start)
	return p.ScanFrom(ctx, oracle.Address(start), b)
}

// ScanFrom walks backward from start.
func (p *Prowler) ScanFrom(ctx context.Context, start oracle.Address, b Backend) (scan.Boundary, error) {
	o, err := p.oracle(b)
	if err != nil {
		return scan.Boundary{}, err
	}

	s := &scan.Scanner{Oracle: o, Stride: p.cfg.Stride, Limit: p.cfg.Limit}
	return s.Scan(ctx, start)
}

// Maps lists the mapping table of pid, 0 for this process. With prefixes
// only regions whose path starts with one of them are kept.
func (p *Prowler) Maps(pid int, prefixes []string) ([]proc.MemoryRegion, error) {
	regions, err := proc.ReadMaps(pid)
	if err != nil {
		return nil, err
	}
	if len(prefixes) == 0 {
		return regions, nil
	}

	var res []proc.MemoryRegion
	for _, r := range regions {
		if utils.PrefixIn(r.Path, prefixes) {
			res = append(res, r)
		}
	}
	return res, nil
}

// Respawn stops the current worker, if any, and starts a new one with a
// fresh snapshot of the address space. The old worker is closed first so
// the new child does not inherit its request channel.
func (p *Prowler) Respawn() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.worker != nil {
		if err := p.worker.Close(); err != nil {
			p.log.Warnf("close worker %d: %v", p.worker.Pid(), err)
		}
		p.worker = nil
	}
	if err := p.startWorker(); err != nil {
		return 0, err
	}
	return p.worker.Pid(), nil
}

// WorkerAlive reports whether a worker has been started and still answers.
func (p *Prowler) WorkerAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.worker != nil && p.worker.Alive()
}

func (p *Prowler) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Sink:        p.sink.String(),
		Backend:     p.cfg.Backend,
		WorkerState: "not started",
	}
	if w := p.worker; w != nil {
		st.WorkerPid = w.Pid()
		st.WorkerAlive = w.Alive()
		st.WorkerState = w.State()
		st.Snapshot = w.SnapshotTime()
		if err := w.Err(); err != nil {
			st.WorkerErr = err.Error()
		}
	}
	return st
}

func (p *Prowler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.worker != nil {
		err = p.worker.Close()
		p.worker = nil
	}
	if cerr := p.sink.Close(); err == nil {
		err = cerr
	}
	return err
}

// oracle resolves b to an Oracle bounded by the configured timeout. The
// worker is started on first use. A worker replaced by Respawn while a scan
// holds it answers ErrWorkerDead from then on.
func (p *Prowler) oracle(b Backend) (oracle.Oracle, error) {
	if b == "" {
		b = p.cfg.Backend
	}

	switch b {
	case Fork:
		return p.withTimeout(p.fork), nil
	case Worker:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.worker == nil {
			if err := p.startWorker(); err != nil {
				return nil, err
			}
		}
		return p.withTimeout(p.worker), nil
	}
	return nil, fmt.Errorf("unknown backend %q", b)
}

// startWorker is called with mu held.
func (p *Prowler) startWorker() error {
	w, err := oracle.NewWorker(p.sink)
	if err != nil {
		return err
	}
	p.worker = w
	return nil
}

func (p *Prowler) withTimeout(o oracle.Oracle) oracle.Oracle {
	if p.cfg.Timeout <= 0 {
		return o
	}
	return timeoutOracle{o: o, d: p.cfg.Timeout}
}

// timeoutOracle bounds every query it forwards.
type timeoutOracle struct {
	o oracle.Oracle
	d time.Duration
}

func (t timeoutOracle) Query(ctx context.Context, addr oracle.Address) (oracle.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.o.Query(ctx, addr)
}
