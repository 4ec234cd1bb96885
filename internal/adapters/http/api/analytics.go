// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	service "github.com/cadencehq/cadence/internal/app"
	"github.com/cadencehq/cadence/internal/domain/model"
	"github.com/cadencehq/cadence/internal/query"
)

const dayLayout = "2006-01-02"

// AnalyticsHandler handles the four analytics report endpoints.
type AnalyticsHandler struct {
	deps Dependencies
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(deps Dependencies) *AnalyticsHandler {
	return &AnalyticsHandler{deps: deps}
}

// parseQueryOptions reads the shared query parameters. organization_id is
// mandatory; scope defaults to organization; from/to are calendar days.
func parseQueryOptions(r *http.Request) (string, model.QueryOptions, error) {
	q := r.URL.Query()
	organizationID := q.Get("organization_id")
	if organizationID == "" {
		return "", model.QueryOptions{}, errors.New("missing organization_id")
	}
	opts := model.QueryOptions{
		Scope:    model.Scope(q.Get("scope")),
		EntityID: q.Get("entity_id"),
		Period:   model.Period(q.Get("period")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(dayLayout, v)
		if err != nil {
			return "", model.QueryOptions{}, errors.New("invalid from; must be YYYY-MM-DD")
		}
		opts.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(dayLayout, v)
		if err != nil {
			return "", model.QueryOptions{}, errors.New("invalid to; must be YYYY-MM-DD")
		}
		opts.To = t
	}
	return organizationID, opts, nil
}

// HandlePulse handles GET /analytics/pulse requests.
func (h *AnalyticsHandler) HandlePulse(w http.ResponseWriter, r *http.Request) {
	handleReport(w, r, h.deps.PulseMetrics)
}

// HandleShoutouts handles GET /analytics/shoutouts requests.
func (h *AnalyticsHandler) HandleShoutouts(w http.ResponseWriter, r *http.Request) {
	handleReport(w, r, h.deps.ShoutoutMetrics)
}

// HandleCheckinCompliance handles GET /analytics/checkin-compliance requests.
func (h *AnalyticsHandler) HandleCheckinCompliance(w http.ResponseWriter, r *http.Request) {
	handleReport(w, r, h.deps.CheckinComplianceMetrics)
}

// HandleReviewCompliance handles GET /analytics/review-compliance requests.
func (h *AnalyticsHandler) HandleReviewCompliance(w http.ResponseWriter, r *http.Request) {
	handleReport(w, r, h.deps.ReviewComplianceMetrics)
}

func handleReport[T any](w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, organizationID string, opts model.QueryOptions) (*T, error)) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	organizationID, opts, err := parseQueryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	report, err := fetch(r.Context(), organizationID, opts)
	if err != nil {
		if isBadQuery(err) {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// isBadQuery translates query validation failures into client errors.
func isBadQuery(err error) bool {
	return errors.Is(err, query.ErrInvalidPeriod) ||
		errors.Is(err, query.ErrInvalidScope) ||
		errors.Is(err, query.ErrMissingEntity)
}

// isBadEvent translates event validation failures into client errors.
func isBadEvent(err error) bool {
	return errors.Is(err, service.ErrInvalidEvent)
}
