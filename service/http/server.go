package http

import (
	"context"
	"errors"
	"memprobe/pkg/prowler"
	"memprobe/service"
	"net"
	"net/http"
	"sync"
	"time"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	service.ServerImpl
	httpServer *http.Server
	pool       sync.Pool
	errChan    chan error
}

// NewServer serves p on listener. logflags.Setup must have run before.
func NewServer(listener net.Listener, p *prowler.Prowler) *Server {
	impl := service.ServerImpl{
		Listener: listener,
		StopChan: make(chan struct{}),
	}
	impl.SetupLogger("http")

	s := &Server{
		ServerImpl: impl,
		pool: sync.Pool{
			New: func() interface{} {
				return newProcessor(p)
			},
		},
		errChan: make(chan error, 1),
	}

	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Run starts serving in the background.
func (s *Server) Run() error {
	go func() {
		err := s.httpServer.Serve(s.Listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Errorf("http server: %v", err)
		}
		s.errChan <- err
		close(s.StopChan)
	}()

	s.Logger.Infof("http server listening on %s", s.Addr())
	return nil
}

// Wait blocks until the server stops and returns why.
func (s *Server) Wait() error {
	<-s.StopChan
	err := <-s.errChan
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := newContext(s.Logger, w, r)
	p := s.pool.Get().(*processor)
	defer s.pool.Put(p)
	ctx.chain = httpHandlerChain(p.worker)
	ctx.chain.exec(ctx)
}
