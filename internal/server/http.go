package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/vibesec/vibesec-login/internal/log"
)

// HTTPServer manages the callback server lifecycle
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer creates a new HTTP server with the given handler and address
func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Listen binds the address without serving yet, so callers can learn the
// real port when addr ends in :0.
func (h *HTTPServer) Listen() error {
	if h.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return err
	}
	h.listener = ln
	return nil
}

// Addr is the bound address, or the configured one before Listen
func (h *HTTPServer) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.server.Addr
}

// HealthHandler handles health check requests
type HealthHandler struct{}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP implements http.Handler for health checks
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start serves until Stop is called
func (h *HTTPServer) Start() error {
	if err := h.Listen(); err != nil {
		return err
	}
	log.LogInfoWithFields("http", "Callback server starting", map[string]any{
		"addr": h.Addr(),
	})

	if err := h.server.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "Callback server stopping", map[string]any{
		"addr": h.Addr(),
	})

	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.LogInfoWithFields("http", "Callback server stopped", map[string]any{
		"addr": h.Addr(),
	})
	return nil
}
