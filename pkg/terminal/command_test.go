package terminal

import (
	"bytes"
	"errors"
	"memprobe/service"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

type sent struct {
	cmd  service.CmdType
	args string
}

type fakeClient struct {
	sent  []sent
	reply string
	err   error
}

func (c *fakeClient) SendExpr(cmd service.CmdType, args string) (string, error) {
	c.sent = append(c.sent, sent{cmd, args})
	return c.reply, c.err
}

func (c *fakeClient) IsMemprobeServer() bool { return true }

func newTestTerm(c service.Client) (*Term, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Term{
		client: c,
		prompt: prompt,
		cmds:   NewCommands(c),
		stdout: &transcriptWriter{pw: newPagingWriter(&buf, false)},
	}, &buf
}

func TestBareAddressIsProbe(t *testing.T) {
	c := &fakeClient{reply: "mapped"}
	term, out := newTestTerm(c)

	assert.NilError(t, term.cmds.Call("0x7ffe1000", term))
	assert.Equal(t, len(c.sent), 1)
	assert.Equal(t, c.sent[0], sent{service.Probe, "0x7ffe1000"})
	assert.Equal(t, out.String(), "mapped\n")
}

func TestCommandsDispatch(t *testing.T) {
	c := &fakeClient{reply: "ok"}
	term, _ := newTestTerm(c)

	for line, want := range map[string]sent{
		"probe worker 0x10 0x20": {service.Probe, "worker 0x10 0x20"},
		"p 0x10":                 {service.Probe, "0x10"},
		"scan fork":              {service.Scan, "fork"},
		"maps  [stack]":          {service.Maps, "[stack]"},
		"respawn":                {service.Respawn, ""},
		"st":                     {service.Status, ""},
	} {
		c.sent = nil
		assert.NilError(t, term.cmds.Call(line, term), line)
		assert.Equal(t, len(c.sent), 1, line)
		assert.Equal(t, c.sent[0], want, line)
	}
}

func TestUnknownCommand(t *testing.T) {
	c := &fakeClient{}
	term, _ := newTestTerm(c)

	err := term.cmds.Call("peek 0x10", term)
	assert.Assert(t, errors.Is(err, errNoCmd))
	err = term.cmds.Call("not-an-address", term)
	assert.Assert(t, errors.Is(err, errNoCmd))
	assert.Equal(t, len(c.sent), 0)
}

func TestExit(t *testing.T) {
	term, _ := newTestTerm(&fakeClient{})
	err := term.cmds.Call("exit", term)
	_, ok := err.(ExitRequestError)
	assert.Assert(t, ok)
}

func TestRemoteError(t *testing.T) {
	c := &fakeClient{err: errors.New("no mapped boundary found")}
	term, _ := newTestTerm(c)
	err := term.cmds.Call("scan 0x1000", term)
	assert.ErrorContains(t, err, "no mapped boundary found")
}

func TestProbeOutcomesPlain(t *testing.T) {
	c := &fakeClient{reply: "0x0: not mapped\n0x10: indeterminate: worker is dead"}
	term, out := newTestTerm(c)
	assert.NilError(t, term.cmds.Call("probe 0 0x10", term))
	assert.Equal(t, out.String(), "0x0: not mapped\n0x10: indeterminate: worker is dead\n")
}

func TestHelp(t *testing.T) {
	term, out := newTestTerm(&fakeClient{})
	assert.NilError(t, term.cmds.Call("help", term))
	for _, name := range []string{"probe", "scan", "maps", "respawn", "status", "exit"} {
		assert.Assert(t, strings.Contains(out.String(), name), name)
	}

	out.Reset()
	assert.NilError(t, term.cmds.Call("help scan", term))
	assert.Assert(t, strings.HasPrefix(out.String(), "Walks backward"))

	assert.ErrorContains(t, term.cmds.Call("help peek", term), "unknown command")
}

func TestTranscript(t *testing.T) {
	c := &fakeClient{reply: "status ok"}
	term, out := newTestTerm(c)
	path := filepath.Join(t.TempDir(), "transcript.txt")

	assert.NilError(t, term.cmds.Call("transcript -x "+path, term))
	assert.NilError(t, term.cmds.Call("status", term))
	assert.NilError(t, term.cmds.Call("transcript -off", term))
	assert.Equal(t, out.String(), "")

	bs, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, string(bs), "status ok\n")

	assert.ErrorContains(t, term.cmds.Call("transcript", term), "no output path")
}
