package cmd

import (
	"github.com/urfave/cli"
	"memprobe/utils"
)

var probe = cli.Command{
	Name:      "probe",
	Usage:     "tell whether addresses are mapped",
	ArgsUsage: "<address>...",
	Action: func(context *cli.Context) error {
		if err := utils.CheckArgs(context, 1, utils.MinArgs, probeArgsCheck); err != nil {
			return err
		}

		return exec(Probe, context)
	},
}

func probeArgsCheck(args cli.Args) error {
	for _, arg := range args {
		if _, err := utils.ParseAddress(arg); err != nil {
			return err
		}
	}

	return nil
}
