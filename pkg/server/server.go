// Package server runs the cache API on network listeners.
package server

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrServerClosed       = errors.New("server closed")
	errMissingHTTPHandler = errors.New("missing http handler")
)

var nopLogger = zap.NewNop()

type ServerOpts struct {
	// Logger is optional.
	Logger *zap.Logger

	// HttpHandler serves the cache API, see http_handler.Handler.
	HttpHandler http.Handler

	// ProxyProtocol reads a PROXY protocol header before each connection.
	ProxyProtocol bool

	// IdleTimeout of keep-alive connections. Default is 60s.
	IdleTimeout time.Duration
}

func (opts *ServerOpts) init() {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
}

// Server can serve on several listeners. Close stops all of them.
type Server struct {
	opts ServerOpts

	mu      sync.Mutex
	closed  bool
	serving map[io.Closer]struct{}
}

func NewServer(opts ServerOpts) *Server {
	opts.init()
	return &Server{
		opts:    opts,
		serving: make(map[io.Closer]struct{}),
	}
}

func (s *Server) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// trackCloser registers c to be closed by Close, or forgets it if add is
// false. It reports false if the Server is already closed.
func (s *Server) trackCloser(c io.Closer, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.serving, c)
		return true
	}
	if s.closed {
		return false
	}
	s.serving[c] = struct{}{}
	return true
}

// Close closes every tracked closer. Closers run without the lock held.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	serving := s.serving
	s.serving = make(map[io.Closer]struct{})
	s.mu.Unlock()

	var errs []error
	for c := range serving {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
