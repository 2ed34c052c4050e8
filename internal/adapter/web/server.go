package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server wraps the HTTP server hosting the webhook endpoint.
type Server struct {
	httpSrv *http.Server
	ln      net.Listener
}

// NewServer builds the server and its routes.
func NewServer(addr string, handler *WebhookHandler) *Server {
	mux := http.NewServeMux()
	mux.Handle("POST /api/webhook", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, "ok")
	})

	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Listen binds the listener without serving yet, so the caller can log
// the bound address before traffic starts.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.httpSrv.Addr
	}
	return s.ln.Addr().String()
}

// Serve runs the server until ctx is canceled, then shuts down
// gracefully, letting in-flight reviews finish.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(s.ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
