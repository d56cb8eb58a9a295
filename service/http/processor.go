package http

import (
	"errors"
	"fmt"
	"github.com/derekparker/trie"
	e "memprobe/error"
	"memprobe/pkg/oracle"
	"memprobe/pkg/prowler"
	"memprobe/utils"
	"net/http"
	"strconv"
	"strings"
)

type Router struct {
	method string
	path   string
	cmd    string
	fn     func(ctx *Context, args []string)
}

type processor struct {
	prowler *prowler.Prowler
	router  []*Router
	trie    *trie.Trie
}

func (p *processor) route(method, path string) *Router {
	node, found := p.trie.Find(utils.MD5(methodPath(method, path)))
	if found {
		return node.Meta().(*Router)
	}

	return nil
}

func (p *processor) worker(ctx *Context) {
	if ctx.responded() {
		return
	}

	req := ctx.request
	r := p.route(req.method, req.path)
	if r == nil {
		ctx.respFailed(http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}

	cmd, args, err := ctx.expr.resolve()
	if err != nil {
		ctx.respFailed(http.StatusBadRequest, err.Error())
		return
	}
	if r.cmd != "" && strings.ToLower(cmd) != r.cmd {
		ctx.respFailed(http.StatusBadRequest, fmt.Sprintf("invalid command: %s", cmd))
		return
	}

	r.fn(ctx, args)
}

func newProcessor(p *prowler.Prowler) *processor {
	proc := &processor{
		prowler: p,
	}

	register(proc)
	return proc
}

func register(p *processor) {
	r := []*Router{
		{
			method: http.MethodGet,
			path:   "/memprobe",
			fn: func(ctx *Context, _ []string) {
				ctx.respSuccess(nil)
			},
		},
		{
			method: http.MethodPost,
			path:   "/probe",
			cmd:    "probe",
			fn:     p.probe,
		},
		{
			method: http.MethodPost,
			path:   "/scan",
			cmd:    "scan",
			fn:     p.scan,
		},
		{
			method: http.MethodGet,
			path:   "/maps",
			cmd:    "maps",
			fn:     p.maps,
		},
		{
			method: http.MethodPost,
			path:   "/respawn",
			cmd:    "respawn",
			fn:     p.respawn,
		},
		{
			method: http.MethodGet,
			path:   "/status",
			cmd:    "status",
			fn:     p.status,
		},
	}

	p.router = r

	t := trie.New()
	for _, router := range p.router {
		md5 := utils.MD5(methodPath(router.method, router.path))
		t.Add(md5, router)
	}

	p.trie = t
}

func methodPath(method, path string) string {
	return fmt.Sprintf("%s:%s", method, path)
}

// backendArg strips a leading "fork" or "worker" from args.
func backendArg(args []string) (prowler.Backend, []string) {
	if len(args) > 0 {
		switch b := prowler.Backend(strings.ToLower(args[0])); b {
		case prowler.Fork, prowler.Worker:
			return b, args[1:]
		}
	}
	return "", args
}

func (p *processor) probe(ctx *Context, args []string) {
	backend, args := backendArg(args)
	if len(args) < 1 {
		ctx.respFailed(http.StatusBadRequest, fmt.Sprintf("invalid number of arguments: %d", len(args)))
		return
	}

	addrs := make([]oracle.Address, 0, len(args))
	for _, arg := range args {
		addr, err := utils.ParseAddress(arg)
		if err != nil {
			ctx.respFailed(http.StatusBadRequest, err.Error())
			return
		}
		addrs = append(addrs, addr)
	}

	var buf strings.Builder
	for _, addr := range addrs {
		o, err := p.prowler.Probe(ctx.Ctx(), addr, backend)
		if len(addrs) > 1 {
			fmt.Fprintf(&buf, "%s: ", addr)
		}
		buf.WriteString(utils.FormatOutcome(o, err))
		buf.WriteString("\n")
	}

	ctx.respSuccess(strings.TrimSuffix(buf.String(), "\n"))
}

func (p *processor) scan(ctx *Context, args []string) {
	backend, args := backendArg(args)
	if len(args) > 1 {
		ctx.respFailed(http.StatusBadRequest, fmt.Sprintf("invalid number of arguments: %d", len(args)))
		return
	}

	var (
		b   fmt.Stringer
		err error
	)
	if len(args) == 1 {
		addr, perr := utils.ParseAddress(args[0])
		if perr != nil {
			ctx.respFailed(http.StatusBadRequest, perr.Error())
			return
		}
		b, err = p.prowler.ScanFrom(ctx.Ctx(), addr, backend)
	} else {
		b, err = p.prowler.Scan(ctx.Ctx(), backend)
	}
	if err != nil {
		ctx.respFailed(scanStatus(err), err.Error())
		return
	}

	ctx.respSuccess(b.String())
}

// scanStatus separates scans that ran and found no answer from failures of
// the oracle itself.
func scanStatus(err error) int {
	switch {
	case errors.Is(err, e.ErrIndeterminate):
		return http.StatusServiceUnavailable
	case errors.Is(err, e.ErrNoStackHint):
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func (p *processor) maps(ctx *Context, args []string) {
	pid := 0
	if len(args) > 0 && utils.CheckPid(args[0]) {
		if n, err := strconv.Atoi(args[0]); err == nil {
			pid, args = n, args[1:]
		}
	}

	regions, err := p.prowler.Maps(pid, args)
	if err != nil {
		ctx.respFailed(http.StatusInternalServerError, err.Error())
		return
	}

	var buf strings.Builder
	for _, r := range regions {
		buf.WriteString(r.String())
		buf.WriteString("\n")
	}

	ctx.respSuccess(strings.TrimSuffix(buf.String(), "\n"))
}

func (p *processor) respawn(ctx *Context, _ []string) {
	pid, err := p.prowler.Respawn()
	if err != nil {
		ctx.respFailed(http.StatusInternalServerError, err.Error())
		return
	}

	ctx.respSuccess(fmt.Sprintf("worker respawned with pid = %d", pid))
}

func (p *processor) status(ctx *Context, _ []string) {
	ctx.respSuccess(p.prowler.Status().String())
}
