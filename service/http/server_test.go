package http

import (
	"fmt"
	"memprobe/pkg/prowler"
	"memprobe/service"
	"net"
	"net/http"
	"strings"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

var served [8]uint64

func startServer(t *testing.T) *Client {
	t.Helper()
	p, err := prowler.NewProwler(prowler.DefaultConfig())
	assert.NilError(t, err)
	t.Cleanup(func() { p.Close() })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	s := NewServer(lis, p)
	assert.NilError(t, s.Run())
	t.Cleanup(func() { s.Stop() })

	c, err := NewClient(lis.Addr().String())
	assert.NilError(t, err)
	return c
}

func TestExpressionResolve(t *testing.T) {
	cmd, args, err := newExpression(`maps 1 "[stack]"`, 0).resolve()
	assert.NilError(t, err)
	assert.Equal(t, cmd, "maps")
	assert.Equal(t, len(args), 2)
	assert.Equal(t, args[1], "[stack]")

	cmd, args, err = newExpression("", 0).resolve()
	assert.NilError(t, err)
	assert.Equal(t, cmd, "")
	assert.Equal(t, len(args), 0)

	_, _, err = newExpression(`probe "0x1`, 0).resolve()
	assert.ErrorContains(t, err, "parse expression")
}

func TestProbe(t *testing.T) {
	c := startServer(t)
	addr := fmt.Sprintf("%#x", uintptr(unsafe.Pointer(&served[2])))

	out, err := c.SendExpr(service.Probe, addr)
	assert.NilError(t, err)
	assert.Equal(t, out, "mapped")

	out, err = c.SendExpr(service.Probe, "worker 0")
	assert.NilError(t, err)
	assert.Equal(t, out, "not mapped")

	out, err = c.SendExpr(service.Probe, "fork 0 "+addr)
	assert.NilError(t, err)
	assert.Equal(t, out, "0x0: not mapped\n"+addr+": mapped")

	_, err = c.SendExpr(service.Probe, "")
	assert.ErrorContains(t, err, "invalid number of arguments")

	_, err = c.SendExpr(service.Probe, "nothex")
	assert.ErrorContains(t, err, "invalid address")
}

func TestScan(t *testing.T) {
	c := startServer(t)

	b, err := unix.Mmap(-1, 0, 3*4096, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	assert.NilError(t, err)
	defer unix.Munmap(b)
	assert.NilError(t, unix.MunmapPtr(unsafe.Pointer(&b[0]), 4096))
	top := uintptr(unsafe.Pointer(&b[len(b)-1]))

	out, err := c.SendExpr(service.Scan, fmt.Sprintf("%#x", top))
	assert.NilError(t, err)
	assert.Equal(t, out, fmt.Sprintf("i = 1, stack = %#x, reached = %#x", top, top-4096))

	_, err = c.SendExpr(service.Scan, "0x1000")
	assert.ErrorContains(t, err, "no mapped boundary found")
}

func TestStatusAndRespawn(t *testing.T) {
	c := startServer(t)

	out, err := c.SendExpr(service.Status, "")
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(out, "worker: not started"), out)

	out, err = c.SendExpr(service.Respawn, "")
	assert.NilError(t, err)
	assert.Assert(t, strings.HasPrefix(out, "worker respawned with pid = "), out)

	out, err = c.SendExpr(service.Status, "")
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(out, "alive = true"), out)
}

func TestMaps(t *testing.T) {
	c := startServer(t)

	out, err := c.SendExpr(service.Maps, "")
	assert.NilError(t, err)
	assert.Assert(t, strings.Count(out, "\n") > 2)

	out, err = c.SendExpr(service.Maps, `"[vdso]"`)
	assert.NilError(t, err)
	for _, line := range strings.Split(out, "\n") {
		if line != "" {
			assert.Assert(t, strings.HasSuffix(line, "[vdso]"), line)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	c := startServer(t)
	resp, err := c.do(&doRequest{method: http.MethodGet, path: "/nowhere"})
	assert.NilError(t, err)
	assert.Equal(t, resp.Status, http.StatusNotFound)

	// Wrong command for the route.
	resp, err = c.do(&doRequest{method: http.MethodPost, path: "/probe", expr: "scan"})
	assert.NilError(t, err)
	assert.Equal(t, resp.Status, http.StatusBadRequest)
}
