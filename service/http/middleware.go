package http

import (
	"encoding/json"
	"github.com/google/uuid"
	"io"
	"memprobe/utils"
	"net/http"
)

type Handler func(ctx *Context)

type HandlerChain []Handler

func httpHandlerChain(do Handler) HandlerChain {
	return []Handler{
		parseRequest,
		printRequest,
		parseExpression,
		do,
		printResponse,
	}
}

func (h HandlerChain) exec(ctx *Context) {
	for ctx.index = 0; ctx.index < len(h); ctx.index++ {
		h[ctx.index](ctx)
	}
}

func parseRequest(ctx *Context) {
	if ctx.read != nil {
		r := &request{
			requestID: uuid.New().String(),
			url:       utils.GetFullURL(ctx.read),
			path:      ctx.read.URL.Path,
			method:    ctx.read.Method,
			clientIP:  utils.GetClientIP(ctx.read),
		}

		bs, err := io.ReadAll(ctx.read.Body)
		if err != nil {
			ctx.respFailed(http.StatusBadRequest, err.Error())
			return
		}
		r.body = bs

		ctx.request = r
	}
}

func parseExpression(ctx *Context) {
	req := ctx.request
	if req != nil && !ctx.responded() {
		exr := new(Expression)
		if len(req.body) > 0 {
			if err := json.Unmarshal(req.body, exr); err != nil {
				ctx.respFailed(http.StatusBadRequest, err.Error())
				return
			}
		}

		ctx.expr = exr
	}
}

func printRequest(ctx *Context) {
	logger := ctx.logger
	req := ctx.request
	if logger != nil && req != nil {
		logger.Debug("=========== request info ===========")
		logger.Debugf("id: %s", req.requestID)
		logger.Debugf("url: %s", req.url)
		logger.Debugf("method: %s", req.method)
		logger.Debugf("clientIP: %s", req.clientIP)
		logger.Debugf("path: %s", req.path)
		logger.Debugf("body: %s", string(req.body))
	}
}

func printResponse(ctx *Context) {
	logger := ctx.logger
	res := ctx.response
	if logger != nil && res != nil {
		logger.Debug("=========== response info ===========")
		if ctx.request != nil {
			logger.Debugf("id: %s", ctx.request.requestID)
		}
		logger.Debugf("status: %d", res.Status)
		logger.Debugf("msg: %s", res.Msg)
		logger.Debugf("data: %+v", res.Data)
	}
}
