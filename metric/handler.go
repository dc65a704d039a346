package metric

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/semconnect/errors"
)

// Server exposes the registry in Prometheus format over HTTP
type Server struct {
	addr     string
	path     string
	server   *http.Server
	listener net.Listener
	registry *MetricsRegistry
	mu       sync.Mutex
}

// NewServer creates a new metrics server. An empty addr listens on :9090.
func NewServer(addr, path string, registry *MetricsRegistry) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}
	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
	}
}

// Handler returns the HTTP handler serving metrics and the liveness endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start binds the listener and serves in the background. It returns once the
// listener is bound so that Address reports the effective port.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"Server", "Start", "start metrics server")
	}
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry lookup")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", s.addr))
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	go func() {
		_ = srv.Serve(ln)
	}()
	return nil
}

// Stop shuts the metrics server down
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Address returns the URL of the metrics endpoint
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.addr
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return fmt.Sprintf("http://%s%s", addr, s.path)
}
