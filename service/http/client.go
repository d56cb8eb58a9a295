package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"memprobe/service"
	"net/http"
	"os"
	"time"
)

type Client struct {
	addr    string
	url     string
	timeout time.Duration
	http    *http.Client
}

func NewClient(addr string) (*Client, error) {
	c := &Client{
		addr:    addr,
		url:     fmt.Sprintf("http://%s", addr),
		timeout: time.Second * 30,
	}
	c.http = &http.Client{Timeout: c.timeout}

	if !c.IsMemprobeServer() {
		return nil, fmt.Errorf("%s is not a memprobe server", c.addr)
	}
	return c, nil
}

func (c *Client) SendExpr(cmdType service.CmdType, args string) (string, error) {
	var method, path string
	switch cmdType {
	case service.Probe:
		method, path = http.MethodPost, "/probe"
	case service.Scan:
		method, path = http.MethodPost, "/scan"
	case service.Maps:
		method, path = http.MethodGet, "/maps"
	case service.Respawn:
		method, path = http.MethodPost, "/respawn"
	case service.Status:
		method, path = http.MethodGet, "/status"
	default:
		return "", fmt.Errorf("unknown command type %d", cmdType)
	}

	resp, err := c.do(&doRequest{
		method: method,
		path:   path,
		expr:   expr(cmdType, args),
	})
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusOK {
		if resp.Msg == "" {
			resp.Msg = http.StatusText(resp.Status)
		}
		return "", errors.New(resp.Msg)
	}

	respStr, ok := resp.Data.(string)
	if !ok {
		return "", fmt.Errorf("unexpected response type %T", resp.Data)
	}

	return respStr, nil
}

func (c *Client) IsMemprobeServer() bool {
	if c.addr == "" {
		return false
	}

	resp, err := c.do(&doRequest{
		method: http.MethodGet,
		path:   "/memprobe",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "client recv err: ", err)
		return false
	}

	return resp.Status == http.StatusOK
}

func expr(cmdType service.CmdType, args string) string {
	if args == "" {
		return cmdType.String()
	}
	return fmt.Sprintf("%s %s", cmdType, args)
}

type doRequest struct {
	method string
	path   string
	header http.Header
	expr   string
}

func (c *Client) jsonHeader() http.Header {
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return header
}

func (c *Client) do(req *doRequest) (resp *response, err error) {
	url := c.url + req.path

	exr := newExpression(req.expr, os.Getpid())
	bs, err := json.Marshal(exr)
	if err != nil {
		return
	}

	bodyReader := bytes.NewReader(bs)
	r, err := http.NewRequest(req.method, url, bodyReader)
	if err != nil {
		return
	}

	if req.header == nil {
		r.Header = c.jsonHeader()
	} else {
		r.Header = req.header
	}

	res, err := c.http.Do(r)
	if err != nil {
		return
	}
	defer res.Body.Close()

	bs, err = io.ReadAll(res.Body)
	if err != nil {
		return
	}

	err = json.Unmarshal(bs, &resp)
	return
}
