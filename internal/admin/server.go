// Package admin serves the operational HTTP endpoints of a running client.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/cmdflow/internal/runtime/engine"
	"github.com/drblury/cmdflow/internal/runtime/jsoncodec"
	"github.com/drblury/cmdflow/internal/runtime/logging"
	"github.com/drblury/cmdflow/internal/runtime/state"
)

// Source is the view of a client the admin endpoints report on.
type Source interface {
	State() state.State
	Destinations() []engine.Destination
}

// Server exposes /metrics, /destinations and /healthz.
type Server struct {
	addr     string
	source   Source
	gatherer prometheus.Gatherer
	logger   logging.ServiceLogger
	server   *http.Server
}

// destinationView is the JSON form of a subscription.
type destinationView struct {
	Topic       string `json:"topic"`
	Share       string `json:"share,omitempty"`
	QoS         string `json:"qos"`
	AutoConfirm bool   `json:"auto_confirm"`
	TTLMs       int64  `json:"ttl_ms,omitempty"`
}

// New builds a server listening on addr. A nil gatherer serves the default
// Prometheus registry.
func New(addr string, source Source, gatherer prometheus.Gatherer, logger logging.ServiceLogger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Server{
		addr:     addr,
		source:   source,
		gatherer: gatherer,
		logger:   logger.With(logging.LogFields{"component": "admin"}),
	}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/destinations", s.handleDestinations)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Start serves until ctx ends, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Admin server starting", logging.LogFields{"addr": s.addr})

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	current := s.source.State()
	status := http.StatusOK
	if current != state.Started {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"state": current.String()})
}

func (s *Server) handleDestinations(w http.ResponseWriter, _ *http.Request) {
	dests := s.source.Destinations()
	views := make([]destinationView, 0, len(dests))
	for _, d := range dests {
		views = append(views, destinationView{
			Topic:       d.Topic,
			Share:       d.Share,
			QoS:         d.QoS.String(),
			AutoConfirm: d.AutoConfirm,
			TTLMs:       d.TTL.Milliseconds(),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode admin response", err, nil)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
