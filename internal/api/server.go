package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"docdelta/internal/logging"
	"docdelta/internal/metrics"
	"docdelta/internal/middleware"

	"go.uber.org/zap"
)

// Routes registers the planning API. A nil m leaves /metrics unregistered.
func Routes(h *Handler, m *metrics.Metrics, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/estimate", h.Estimate)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("POST /api/plan", h.Plan)
	mux.HandleFunc("POST /api/run", h.Run)
	mux.HandleFunc("GET /api/state", h.State)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /api/history/{commit}", h.HistoryCommit)
	mux.HandleFunc("GET /api/diff", h.Diff)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Recover(logger),
	)
}

type Server struct {
	srv    *http.Server
	logger *logging.Logger
}

func NewServer(addr string, handler http.Handler, logger *logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Or(),
	}
}

// Serve listens until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving planning API", zap.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		s.logger.Info("planning API stopped")
		return nil
	}
}
