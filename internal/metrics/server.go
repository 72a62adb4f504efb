package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/spadev/internal/logging"
)

// Server exposes a Collector on its own address so scrapes never pass
// through the fallback proxy.
type Server struct {
	collector *Collector
	path      string
	logger    logging.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer creates a metrics server for collector mounted at path.
func NewServer(collector *Collector, path string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if path == "" {
		path = "/metrics"
	}
	return &Server{collector: collector, path: path, logger: logger.WithComponent("metrics")}
}

// Start binds addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), err, "Metrics server stopped")
		}
	}()
	s.logger.Info(context.Background(), "Serving metrics", "addr", ln.Addr().String(), "path", s.path)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops the server. Calling it more than once, or before Start,
// is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
