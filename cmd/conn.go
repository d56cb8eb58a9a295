package cmd

import (
	"fmt"
	"github.com/urfave/cli"
	"memprobe/utils"
	"time"
)

var conn = cli.Command{
	Name:      "conn",
	Usage:     "connect a terminal to a memprobe server",
	ArgsUsage: "<host:port>",
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 1, utils.ExactArgs, connArgsCheck); err != nil {
			return err
		}

		return exec(Conn, context)
	},
}

func connArgsCheck(args cli.Args) error {
	addr := args.First()
	if utils.Telnet(addr, 5*time.Second) {
		return nil
	}

	return fmt.Errorf("invalid connection address: %s", addr)
}
