package terminal

import (
	"errors"
	"fmt"
	"github.com/google/shlex"
	"memprobe/service"
	"memprobe/utils"
	"os"
	"strings"
	"text/tabwriter"
)

type cmdFn func(term *Term, args string) error

type command struct {
	aliases []string
	fn      cmdFn
	help    string
}

func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

type Commands struct {
	cmds   []command
	client service.Client
}

func NewCommands(client service.Client) *Commands {
	c := &Commands{
		client: client,
	}

	c.cmds = []command{
		{
			aliases: []string{"help", "h"},
			fn:      c.help,
			help: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{
			aliases: []string{"probe", "p"},
			fn:      remote(service.Probe),
			help: `Reports whether addresses are mapped.

	probe [fork|worker] <address>...

Addresses are hex, with or without 0x. A line holding a single address is
probed with the default backend. Each answer is "mapped", "not mapped" or
"indeterminate: <reason>". The worker answers against the address space it
copied when it was started, see respawn.`},
		{
			aliases: []string{"scan", "sc"},
			fn:      remote(service.Scan),
			help: `Walks backward from a mapped address to the edge of its mapping.

	scan [fork|worker] [address]

Without an address the scan starts at the stack hint of the server.`},
		{
			aliases: []string{"maps", "m"},
			fn:      remote(service.Maps),
			help: `Lists the mapping table of the server.

	maps [pid] [prefix...]

Only regions whose path starts with one of the prefixes are listed.`},
		{
			aliases: []string{"respawn", "r"},
			fn:      remote(service.Respawn),
			help:    "Replaces the worker with a new one copying the current address space.",
		},
		{
			aliases: []string{"status", "st"},
			fn:      remote(service.Status),
			help:    "Shows the sink and the state of the worker.",
		},
		{
			aliases: []string{"transcript"},
			fn:      transcript,
			help: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of memprobe's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{
			aliases: []string{"exit", "quit", "q"},
			fn:      exit,
			help:    "exit memprobe",
		},
	}
	return c
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) command {
	if cmdstr == "" {
		return command{aliases: []string{"nullcmd"}, fn: nullCommand}
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v
		}
	}

	return command{aliases: []string{"nocmd"}, fn: noCmdAvailable}
}

// Call runs cmdStr. A line that is a single address is a probe.
func (c *Commands) Call(cmdStr string, t *Term) error {
	cmdStr = strings.TrimSpace(cmdStr)
	cmd, argStr, _ := strings.Cut(cmdStr, " ")

	found := c.Find(cmd)
	if found.aliases[0] == "nocmd" && argStr == "" {
		if _, err := utils.ParseAddress(cmd); err == nil {
			return remote(service.Probe)(t, cmd)
		}
	}
	return found.fn(t, strings.TrimSpace(argStr))
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		cmd := c.Find(args)
		if cmd.aliases[0] == "nocmd" {
			return fmt.Errorf("unknown command %q", args)
		}
		fmt.Fprintln(t.stdout, cmd.help)
		return nil
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.help
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// remote forwards the command to the server and prints its answer.
func remote(cmdType service.CmdType) cmdFn {
	return func(t *Term, args string) error {
		v, err := t.client.SendExpr(cmdType, args)
		if err != nil {
			t.RedirectTo(os.Stderr)
			return err
		}

		if cmdType == service.Probe {
			t.printOutcomes(v)
			return nil
		}
		_, err = fmt.Fprintln(t.stdout, v)
		return err
	}
}

// printOutcomes colors each probe answer by outcome.
func (t *Term) printOutcomes(out string) {
	for _, line := range strings.Split(out, "\n") {
		answer := line
		if _, rest, ok := strings.Cut(line, ": "); ok && strings.HasPrefix(line, "0x") {
			answer = rest
		}

		switch {
		case strings.HasPrefix(answer, "mapped"):
			t.stdout.ColorizePrint(colorGreen, line)
		case strings.HasPrefix(answer, "not mapped"):
			t.stdout.ColorizePrint(colorYellow, line)
		default:
			t.stdout.ColorizePrint(colorRed, line)
		}
		fmt.Fprintln(t.stdout)
	}
}

func transcript(t *Term, argstr string) error {
	args, err := shlex.Split(argstr)
	if err != nil {
		return err
	}

	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range args {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exit(t *Term, args string) error {
	return ExitRequestError{}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}
