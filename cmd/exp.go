package cmd

import (
	"github.com/urfave/cli"
	"memprobe/pkg/logflags"
	"memprobe/pkg/oracle"
	"memprobe/pkg/prowler"
	"memprobe/utils"
	"time"
)

const (
	usage = `memprobe tells whether an address is mapped in its own address space,
             probing from duplicated processes so that a bad address never faults the caller`
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "sink",
		Usage:  `"pipe" or the path of a character device the probes write through`,
		Value:  oracle.PipeSinkName,
		EnvVar: "MEMPROBE_SINK",
	},
	cli.StringFlag{
		Name:   "stride",
		Usage:  "scan step in bytes, decimal or 0x hex",
		Value:  "0x1000",
		EnvVar: "MEMPROBE_STRIDE",
	},
	cli.DurationFlag{
		Name:   "timeout",
		Usage:  "bound on a single query, 0 for none",
		Value:  5 * time.Second,
		EnvVar: "MEMPROBE_TIMEOUT",
	},
	cli.Uint64Flag{
		Name:   "limit",
		Usage:  "maximum number of scan queries, 0 for none",
		EnvVar: "MEMPROBE_LIMIT",
	},
	cli.StringFlag{
		Name:   "backend, b",
		Usage:  `"fork" for a process per query, "worker" for one persistent process`,
		Value:  string(prowler.Fork),
		EnvVar: "MEMPROBE_BACKEND",
	},
	cli.BoolFlag{
		Name:   "log, f",
		Usage:  "enable debug logging",
		EnvVar: "MEMPROBE_LOG",
	},
	cli.StringFlag{
		Name:   "log-output, s",
		Usage:  "comma separated components to debug: " + logflags.DefaultLogStr,
		Value:  logflags.DefaultLogStr,
		EnvVar: "MEMPROBE_LOG_OUTPUT",
	},
	cli.StringFlag{
		Name:   "log-dest, d",
		Usage:  "log file path, stderr when empty",
		Value:  logflags.DefaultLogDesc,
		EnvVar: "MEMPROBE_LOG_DEST",
	},
}

func NewExp() *cli.App {
	app := cli.NewApp()
	app.Name = "memprobe"
	app.Usage = usage
	app.Flags = globalFlags
	app.Before = func(context *cli.Context) error {
		return logflags.Setup(context.GlobalBool("log"), context.GlobalString("log-output"), context.GlobalString("log-dest"))
	}
	app.After = func(context *cli.Context) error {
		return logflags.Close()
	}
	app.Commands = []cli.Command{
		probe,
		scan,
		maps,
		repl,
		serve,
		conn,
	}

	return app
}

// config builds the prowler configuration from the global flags.
func config(context *cli.Context) (prowler.Config, error) {
	cfg := prowler.DefaultConfig()

	stride, err := utils.ParseSize(context.GlobalString("stride"))
	if err != nil {
		return cfg, err
	}
	backend, err := prowler.ParseBackend(context.GlobalString("backend"))
	if err != nil {
		return cfg, err
	}

	cfg.Sink = context.GlobalString("sink")
	cfg.Stride = stride
	cfg.Timeout = context.GlobalDuration("timeout")
	cfg.Limit = context.GlobalUint64("limit")
	cfg.Backend = backend
	return cfg, nil
}
