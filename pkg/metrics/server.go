package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/explorer"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
	"github.com/devicelab-dev/app-explorer/pkg/report"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Source is what the server reports on. *explorer.Supervisor satisfies it.
type Source interface {
	Status() (explorer.Status, bool)
	Graph() *graph.Graph
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	App     string           `json:"app"`
	Running bool             `json:"running"`
	Run     *explorer.Status `json:"run,omitempty"`
	States  int              `json:"states"`
	Edges   int              `json:"edges"`
}

// Server serves metrics and live exploration state.
type Server struct {
	app      string
	source   Source
	observer *Observer
	logger   *zap.Logger
	srv      *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr, app string, source Source, observer *Observer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app:      app,
		source:   source,
		observer: observer,
		logger:   logger.Named("metrics"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.observer.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	r.Get("/graph.json", s.handleGraphJSON)
	r.Get("/graph.mmd", s.handleMermaid)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics server listening", zap.String("addr", ln.Addr().String()))
		errc <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	g := s.source.Graph()
	resp := StatusResponse{
		App:    s.app,
		States: g.NodeCount(),
		Edges:  g.EdgeCount(),
	}
	if st, ok := s.source.Status(); ok {
		resp.Run = &st
		resp.Running = st.Phase != "done"
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleGraphJSON(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, report.NewDocument(s.app, s.source.Graph().Snapshot()))
}

func (s *Server) handleMermaid(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(report.Mermaid(s.source.Graph().Export())))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Response encode failed", zap.Error(err))
	}
}
