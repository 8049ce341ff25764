package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lance13c/casepilot/internal/logging"
)

// Server exposes /metrics and /events while a run is in progress
type Server struct {
	srv    *http.Server
	ln     net.Listener
	stream *Stream
}

// NewServer builds the mux for metrics and stream
func NewServer(metrics *Metrics, stream *Stream) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/events", stream)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		stream: stream,
	}
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.ln = ln
	logging.Info("Telemetry listening on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Telemetry server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown closes stream clients and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	return s.srv.Shutdown(ctx)
}
