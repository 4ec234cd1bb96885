// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cadencehq/cadence/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// SubmitEvent appends one domain event and triggers recomputation.
	SubmitEvent(ctx context.Context, e model.Event) (model.Event, error)

	// Read operations expose the four analytics reports.
	PulseMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.PulseReport, error)
	ShoutoutMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ShoutoutReport, error)
	CheckinComplianceMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ComplianceReport, error)
	ReviewComplianceMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ComplianceReport, error)

	// Backfill rebuilds rollups for a historical range.
	Backfill(ctx context.Context, organizationID string, from, to time.Time) error
}

// Server wires HTTP routes for the analytics API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	eventsHandler    *EventsHandler
	analyticsHandler *AnalyticsHandler
	backfillHandler  *BackfillHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		eventsHandler:    NewEventsHandler(deps),
		analyticsHandler: NewAnalyticsHandler(deps),
		backfillHandler:  NewBackfillHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/analytics/pulse", MetricsMiddleware(s.analyticsHandler.HandlePulse, "pulse"))
	mux.HandleFunc("/analytics/shoutouts", MetricsMiddleware(s.analyticsHandler.HandleShoutouts, "shoutouts"))
	mux.HandleFunc("/analytics/checkin-compliance", MetricsMiddleware(s.analyticsHandler.HandleCheckinCompliance, "checkin_compliance"))
	mux.HandleFunc("/analytics/review-compliance", MetricsMiddleware(s.analyticsHandler.HandleReviewCompliance, "review_compliance"))
	mux.HandleFunc("/admin/backfill", MetricsMiddleware(s.backfillHandler.HandleBackfill, "backfill"))
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
