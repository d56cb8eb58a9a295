package cmd

import (
	"fmt"
	"github.com/urfave/cli"
	"memprobe/utils"
)

var maps = cli.Command{
	Name:      "maps",
	Usage:     "list the mapping table, of this process by default",
	ArgsUsage: "[pid]",
	Flags: []cli.Flag{
		cli.StringSliceFlag{
			Name:  "prefixes, p",
			Usage: "path prefix filtering",
		},
	},
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 1, utils.MaxArgs, mapsArgsCheck); err != nil {
			return err
		}

		return exec(Maps, context)
	},
}

func mapsArgsCheck(args cli.Args) error {
	if len(args) == 0 {
		return nil
	}

	pid := args.First()
	if !utils.CheckPid(pid) {
		return fmt.Errorf("pid %s does not exist", pid)
	}

	return nil
}
