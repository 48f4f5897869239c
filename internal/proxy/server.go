// Package proxy serves the daemon's OpenAI-compatible HTTP surface.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acplabs/cursor-acp/internal/pipeline"
)

// Options configure the server.
type Options struct {
	Host string
	Port int
	// ReuseExisting probes the fixed port for a healthy daemon before
	// binding; when one answers, Start reports it instead of binding a
	// second instance.
	ReuseExisting bool

	Runner *pipeline.Runner
	Logger *slog.Logger
}

// Server is the daemon's HTTP front end.
type Server struct {
	opts Options

	httpServer *http.Server
	listener   net.Listener
	baseURL    string
	reused     bool
}

// New builds a server. Start binds the listener.
func New(opts Options) *Server {
	return &Server{opts: opts}
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/models", s.handleModels)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/chat/completions", s.handleChat)
	mux.HandleFunc("/v1/chat/completions", s.handleChat)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start claims the listener. When the fixed port is taken by a healthy
// instance and reuse is enabled, no listener is bound and Reused
// reports true; when it is taken by something else, an ephemeral port
// is used instead.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if s.opts.ReuseExisting && probeHealth("http://"+addr+"/health") {
			s.baseURL = "http://" + addr
			s.reused = true
			if s.opts.Logger != nil {
				s.opts.Logger.Info("reusing running instance", "base_url", s.baseURL)
			}
			return nil
		}
		listener, err = net.Listen("tcp", fmt.Sprintf("%s:0", s.opts.Host))
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
	}

	s.listener = listener
	s.baseURL = "http://" + listener.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.opts.Logger != nil {
				s.opts.Logger.Error("http server error", "error", err)
			}
		}
	}()

	if s.opts.Logger != nil {
		s.opts.Logger.Info("listening", "base_url", s.baseURL)
	}
	return nil
}

// BaseURL is the URL callers should use, valid after Start.
func (s *Server) BaseURL() string { return s.baseURL }

// Reused reports whether Start found a running instance instead of
// binding.
func (s *Server) Reused() bool { return s.reused }

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// probeHealth checks whether an existing daemon answers on the fixed
// port.
func probeHealth(url string) bool {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.OK
}
