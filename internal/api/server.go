// Package api is the operator HTTP surface: REST triggers for the replay
// phases, journalled event and report lookups, health and Prometheus
// endpoints, and the /ws upgrade into the distributor.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"marketflow/internal/dist"
	"marketflow/internal/execution"
	"marketflow/internal/model"
)

// PhaseControl is the slice of the orchestrator the REST triggers drive.
// StartTrading's destination is the subscriber that should receive the
// snapshot events directly; a nil destination broadcasts them instead.
type PhaseControl interface {
	StartPlanning(date string, days int) error
	StartTrading(to dist.EventSender) error
	StopPhase(p model.Phase) error
}

// EventStore looks up a trading day's journalled events.
type EventStore interface {
	Events(day string) ([]json.RawMessage, error)
}

// Reporter folds a day's order ledger into the summary behind /api/report.
type Reporter interface {
	Report(date string) (*execution.DailyReport, error)
}

// Deps collects the collaborators behind the operator endpoints.
type Deps struct {
	Control PhaseControl
	Hub     *dist.Hub
	Events  EventStore
	Reports Reporter
	Health  http.Handler
	Metrics http.Handler
	Log     zerolog.Logger
}

// Server serves the operator surface on a single mux.
type Server struct {
	deps  Deps
	srv   *http.Server
	start time.Time
}

// New builds the server on addr with every route registered.
func New(addr string, d Deps) *Server {
	s := &Server{deps: d, start: time.Now()}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.deps.Log.Info().Str("addr", s.srv.Addr).Msg("operator api listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
