package cmd

import (
	"github.com/urfave/cli"
	"memprobe/utils"
)

var serve = cli.Command{
	Name:  "serve",
	Usage: "answer probes over HTTP and report worker health over gRPC",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:   "http",
			Usage:  "HTTP listen address",
			Value:  "127.0.0.1:7070",
			EnvVar: "MEMPROBE_HTTP",
		},
		cli.StringFlag{
			Name:   "grpc",
			Usage:  "gRPC health listen address, empty to disable",
			Value:  "127.0.0.1:7071",
			EnvVar: "MEMPROBE_GRPC",
		},
		cli.BoolFlag{
			Name:  "worker, w",
			Usage: "start the worker before serving",
		},
	},
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 0, utils.ExactArgs, noArgsCheck); err != nil {
			return err
		}

		return exec(Serve, context)
	},
}
