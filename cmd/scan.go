package cmd

import (
	"github.com/urfave/cli"
	"memprobe/utils"
)

var scan = cli.Command{
	Name:  "scan",
	Usage: "walk backward from the stack hint to the edge of the mapping",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "from",
			Usage: "start at this address instead of the stack hint",
		},
	},
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 0, utils.ExactArgs, noArgsCheck); err != nil {
			return err
		}

		return exec(Scan, context)
	},
}

func noArgsCheck(cli.Args) error {
	return nil
}
