// Package ops is the observability surface of the daemon: Prometheus
// metrics, a liveness endpoint and a JSON view of running captures.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/govdl/govdl/internal/capture"
)

const shutdownTimeout = 5 * time.Second

// CaptureLister exposes the running captures; the Supervisor implements it.
type CaptureLister interface {
	Active() []capture.Info
}

// Server is the ops HTTP endpoint. It is read-only and unauthenticated, so
// it should listen on localhost or an internal interface.
type Server struct {
	addr    string
	handler http.Handler
}

func NewServer(addr string, metrics *Metrics, lister CaptureLister) *Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/captures", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lister.Active()); err != nil {
			slog.DebugContext(r.Context(), "encoding captures listing", "error", err)
		}
	})
	return &Server{addr: addr, handler: r}
}

// Handler is exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains connections briefly. The
// ops endpoint never blocks daemon shutdown beyond shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.handler}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	slog.InfoContext(ctx, "ops server listening", "addr", s.addr)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
