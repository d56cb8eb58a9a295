package cmd

import (
	"context"
	"errors"
	"fmt"
	"github.com/oklog/run"
	"github.com/urfave/cli"
	"memprobe/pkg/oracle"
	"memprobe/pkg/prowler"
	"memprobe/pkg/terminal"
	"memprobe/service"
	"memprobe/service/grpc"
	"memprobe/service/http"
	"memprobe/utils"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

type ExecType int

const (
	Probe ExecType = iota
	Scan
	Maps
	Repl
	Serve
	Conn
)

const (
	defaultAddr = "127.0.0.1:0"
)

type executor struct {
	et      ExecType
	ctx     *cli.Context
	prowler *prowler.Prowler
}

func newExecutor(et ExecType, ctx *cli.Context) (*executor, error) {
	ex := &executor{
		et:  et,
		ctx: ctx,
	}
	if et == Conn {
		return ex, nil
	}

	cfg, err := config(ctx)
	if err != nil {
		return nil, err
	}
	ex.prowler, err = prowler.NewProwler(cfg)
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func (e *executor) run() error {
	switch e.et {
	case Probe:
		return e.probe()
	case Scan:
		return e.scan()
	case Maps:
		return e.maps()
	case Repl:
		return e.repl()
	case Serve:
		return e.serve()
	case Conn:
		args := e.ctx.Args()
		return e.connect(args.First())
	}

	return nil
}

func (e *executor) close() {
	if e.prowler != nil {
		if err := e.prowler.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

func exec(et ExecType, ctx *cli.Context) error {
	ex, err := newExecutor(et, ctx)
	if err != nil {
		return err
	}
	defer ex.close()
	return ex.run()
}

func (e *executor) probe() error {
	var addrs []oracle.Address
	for _, arg := range e.ctx.Args() {
		addr, err := utils.ParseAddress(arg)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	failed := 0
	for _, addr := range addrs {
		o, err := e.prowler.Probe(context.Background(), addr, "")
		if err != nil {
			failed++
		}
		if len(addrs) > 1 {
			fmt.Printf("%s: ", addr)
		}
		fmt.Println(utils.FormatOutcome(o, err))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d probes indeterminate", failed, len(addrs))
	}
	return nil
}

func (e *executor) scan() error {
	var (
		b   fmt.Stringer
		err error
	)
	if from := e.ctx.String("from"); from != "" {
		addr, perr := utils.ParseAddress(from)
		if perr != nil {
			return perr
		}
		b, err = e.prowler.ScanFrom(context.Background(), addr, "")
	} else {
		b, err = e.prowler.Scan(context.Background(), "")
	}
	if err != nil {
		return err
	}

	fmt.Println(b)
	return nil
}

func (e *executor) maps() error {
	pid := 0
	if e.ctx.NArg() == 1 {
		n, err := strconv.Atoi(e.ctx.Args().First())
		if err != nil {
			return err
		}
		pid = n
	}

	regions, err := e.prowler.Maps(pid, e.ctx.StringSlice("prefixes"))
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(regions))
	for _, r := range regions {
		lines = append(lines, r.String())
	}
	utils.PrintStringLine(lines...)
	return nil
}

// repl serves the prowler on a loopback port and attaches a terminal to it.
func (e *executor) repl() error {
	listener, err := net.Listen("tcp", defaultAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}

	server := http.NewServer(listener, e.prowler)
	defer server.Stop()
	if err := server.Run(); err != nil {
		return err
	}

	return e.connect(listener.Addr().String())
}

func (e *executor) serve() error {
	var g run.Group

	if e.ctx.Bool("worker") {
		if _, err := e.prowler.Respawn(); err != nil {
			return err
		}
	}

	httpLis, err := net.Listen("tcp", e.ctx.String("http"))
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	hs := http.NewServer(httpLis, e.prowler)
	g.Add(func() error {
		if err := hs.Run(); err != nil {
			return err
		}
		return hs.Wait()
	}, func(error) {
		hs.Stop()
	})

	if addr := e.ctx.String("grpc"); addr != "" {
		grpcLis, err := net.Listen("tcp", addr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("failed to listen: %v", err)
		}
		gs := grpc.NewServer(grpcLis, e.prowler)
		g.Add(gs.Run, func(error) {
			gs.Stop()
		})
	}

	g.Add(signalActor(syscall.SIGINT, syscall.SIGTERM))

	fmt.Printf("memprobe serving on %s\n", httpLis.Addr())
	err = g.Run()
	var se signalError
	if errors.As(err, &se) {
		return nil
	}
	return err
}

type signalError struct {
	sig os.Signal
}

func (s signalError) Error() string {
	return fmt.Sprintf("received signal %s", s.sig)
}

// signalActor returns a run.Group actor that ends on the first of sigs.
func signalActor(sigs ...os.Signal) (func() error, func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	return func() error {
			c := make(chan os.Signal, 1)
			signal.Notify(c, sigs...)
			defer signal.Stop(c)
			select {
			case sig := <-c:
				return signalError{sig: sig}
			case <-ctx.Done():
				return ctx.Err()
			}
		}, func(error) {
			cancel()
		}
}

func (e *executor) connect(addr string) (err error) {
	var client service.Client
	client, err = http.NewClient(addr)
	if err != nil {
		return
	}

	term := terminal.New(client)
	return term.Run()
}
