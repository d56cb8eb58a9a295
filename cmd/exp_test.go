package cmd

import (
	"memprobe/pkg/prowler"
	"testing"
	"time"

	"github.com/urfave/cli"
	"gotest.tools/v3/assert"
)

func runConfig(t *testing.T, args ...string) (prowler.Config, error) {
	t.Helper()
	var (
		cfg prowler.Config
		err error
	)
	app := NewExp()
	app.Commands = []cli.Command{{
		Name: "capture",
		Action: func(context *cli.Context) error {
			cfg, err = config(context)
			return nil
		},
	}}
	assert.NilError(t, app.Run(append(append([]string{"memprobe"}, args...), "capture")))
	return cfg, err
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := runConfig(t)
	assert.NilError(t, err)
	assert.Equal(t, cfg, prowler.DefaultConfig())
}

func TestConfigFlags(t *testing.T) {
	cfg, err := runConfig(t, "--stride", "0x2000", "--backend", "worker", "--timeout", "250ms", "--limit", "64", "--sink", "/dev/null")
	assert.NilError(t, err)
	assert.Equal(t, cfg.Stride, uint64(0x2000))
	assert.Equal(t, cfg.Backend, prowler.Worker)
	assert.Equal(t, cfg.Timeout, 250*time.Millisecond)
	assert.Equal(t, cfg.Limit, uint64(64))
	assert.Equal(t, cfg.Sink, "/dev/null")
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("MEMPROBE_STRIDE", "8192")
	t.Setenv("MEMPROBE_LIMIT", "10")
	cfg, err := runConfig(t)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Stride, uint64(8192))
	assert.Equal(t, cfg.Limit, uint64(10))
}

func TestConfigRejects(t *testing.T) {
	_, err := runConfig(t, "--stride", "page")
	assert.ErrorContains(t, err, "invalid size")

	_, err = runConfig(t, "--backend", "thread")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestProbeArgsCheck(t *testing.T) {
	assert.NilError(t, probeArgsCheck(cli.Args{"0x1000", "7ffe0000"}))
	assert.ErrorContains(t, probeArgsCheck(cli.Args{"0x1000", "stack"}), "invalid address")
}
