package cmd

import (
	"github.com/urfave/cli"
	"memprobe/utils"
)

var repl = cli.Command{
	Name:  "repl",
	Usage: "probe interactively",
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 0, utils.ExactArgs, noArgsCheck); err != nil {
			return err
		}

		return exec(Repl, context)
	},
}
