package http

import (
	"context"
	"encoding/json"
	"memprobe/pkg/logflags"
	"net/http"
)

type Context struct {
	logger   logflags.Logger
	expr     *Expression
	index    int
	chain    HandlerChain
	request  *request
	response *response
	read     *http.Request
	write    http.ResponseWriter
}

func newContext(logger logflags.Logger, w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		logger: logger,
		read:   r,
		write:  w,
	}
}

// Ctx is the context of the underlying request. It is done when the client
// goes away, which cancels any probe still running for it.
func (c *Context) Ctx() context.Context {
	if c.read == nil {
		return context.Background()
	}
	return c.read.Context()
}

// responded reports whether a response has been written already.
func (c *Context) responded() bool {
	return c.response != nil
}

func (c *Context) respSuccess(data interface{}) {
	c.resp(http.StatusOK, "", data)
}

func (c *Context) respFailed(code int, message string) {
	c.resp(code, message, nil)
}

func (c *Context) resp(status int, msg string, data interface{}) {
	c.response = &response{
		Status: status,
		Msg:    msg,
		Data:   data,
	}

	bs, err := json.Marshal(c.response)
	if err != nil {
		c.write.WriteHeader(http.StatusInternalServerError)
		c.write.Write([]byte(err.Error()))
		return
	}
	c.write.Header().Set("Content-Type", "application/json")
	c.write.WriteHeader(status)
	c.write.Write(bs)
}

func (c *Context) Next() {
	c.index++
	if c.index < len(c.chain) {
		handler := c.chain[c.index]
		handler(c)
	}
}
