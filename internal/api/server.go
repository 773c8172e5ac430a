// Package api serves the trader's HTTP surface: health, a position
// snapshot, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marlinquant/marlin-trading/internal/logger"
	"github.com/marlinquant/marlin-trading/internal/metrics"
	"github.com/marlinquant/marlin-trading/internal/position"
)

// Server exposes read-only runtime state over HTTP. It never mutates the
// engine; operators act through config and process signals.
type Server struct {
	tracker *position.Tracker
	metrics *metrics.Metrics
	logger  *logger.Logger
	httpSrv *http.Server
}

// NewServer creates an HTTP server bound to addr.
func NewServer(addr string, tracker *position.Tracker, m *metrics.Metrics, log *logger.Logger) *Server {
	server := &Server{
		tracker: tracker,
		metrics: m,
		logger:  log,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", server.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", server.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	server.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server
}

// Start serves until the listener fails or Shutdown is called. Run it on
// its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpSrv.Addr))

	err := s.httpSrv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statusResponse is the /status payload.
type statusResponse struct {
	Time      time.Time        `json:"time"`
	Positions []positionStatus `json:"positions"`
}

type positionStatus struct {
	Symbol        string  `json:"symbol"`
	State         string  `json:"state"`
	Direction     string  `json:"direction,omitempty"`
	Quantity      float64 `json:"quantity,omitempty"`
	EntryPrice    float64 `json:"entry_price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	TargetPrice   float64 `json:"target_price,omitempty"`
	ExitAttempts  int     `json:"exit_attempts,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	positions := s.tracker.All()

	response := statusResponse{
		Time:      time.Now().UTC(),
		Positions: make([]positionStatus, 0, len(positions)),
	}

	for _, p := range positions {
		response.Positions = append(response.Positions, positionStatus{
			Symbol:        p.Symbol,
			State:         string(p.State),
			Direction:     string(p.Direction),
			Quantity:      p.Quantity,
			EntryPrice:    p.EntryPrice,
			StopPrice:     p.StopPrice,
			TargetPrice:   p.TargetPrice,
			ExitAttempts:  p.ExitAttempts,
			ClientOrderID: p.ClientOrderID,
		})
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to encode status", zap.Error(err))
	}
}
