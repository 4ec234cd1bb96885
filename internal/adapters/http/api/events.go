// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/adapters/repository"
	"github.com/cadencehq/cadence/internal/domain/model"
)

// eventRequest mirrors the wire schema for POST /events.
type eventRequest struct {
	EventID        string `json:"event_id"`
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id"`
	TeamID         string `json:"team_id"`
	Kind           string `json:"kind"`
	OccurredAt     string `json:"occurred_at"`

	Checkin  *checkinBody  `json:"checkin,omitempty"`
	Shoutout *shoutoutBody `json:"shoutout,omitempty"`
	Vacation *vacationBody `json:"vacation,omitempty"`
}

type checkinBody struct {
	Mood        int        `json:"mood"`
	Completed   bool       `json:"completed"`
	DueAt       time.Time  `json:"due_at"`
	SubmittedAt time.Time  `json:"submitted_at"`
	WeekOf      time.Time  `json:"week_of"`
	ReviewerID  string     `json:"reviewer_id,omitempty"`
	ReviewDueAt *time.Time `json:"review_due_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

type shoutoutBody struct {
	Public bool `json:"public"`
}

type vacationBody struct {
	WeekOf time.Time `json:"week_of"`
	On     bool      `json:"on"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.OrganizationID) == "":
		return errors.New("missing organization_id")
	case strings.TrimSpace(e.UserID) == "":
		return errors.New("missing user_id")
	case strings.TrimSpace(e.Kind) == "":
		return errors.New("missing kind")
	}
	if e.OccurredAt != "" {
		if _, err := time.Parse(time.RFC3339, e.OccurredAt); err != nil {
			return errors.New("invalid occurred_at; must be RFC3339")
		}
	}
	return nil
}

func (e eventRequest) toModel() model.Event {
	ev := model.Event{
		ID:             e.EventID,
		OrganizationID: e.OrganizationID,
		UserID:         e.UserID,
		TeamID:         e.TeamID,
		Kind:           model.EventKind(e.Kind),
	}
	if e.OccurredAt != "" {
		ev.OccurredAt, _ = time.Parse(time.RFC3339, e.OccurredAt)
	}
	if e.Checkin != nil {
		ev.Checkin = &model.CheckinPayload{
			Mood:        e.Checkin.Mood,
			Completed:   e.Checkin.Completed,
			DueAt:       e.Checkin.DueAt,
			SubmittedAt: e.Checkin.SubmittedAt,
			WeekOf:      e.Checkin.WeekOf,
			ReviewerID:  e.Checkin.ReviewerID,
			ReviewDueAt: e.Checkin.ReviewDueAt,
			ReviewedAt:  e.Checkin.ReviewedAt,
		}
	}
	if e.Shoutout != nil {
		ev.Shoutout = &model.ShoutoutPayload{Public: e.Shoutout.Public}
	}
	if e.Vacation != nil {
		ev.Vacation = &model.VacationPayload{WeekOf: e.Vacation.WeekOf, On: e.Vacation.On}
	}
	return ev
}

// EventsHandler handles event ingestion requests.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvent handles POST /events requests. Replays of an already
// accepted event id are acknowledged rather than rejected, so producers
// can retry safely.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	e, err := h.deps.SubmitEvent(r.Context(), req.toModel())
	switch {
	case errors.Is(err, repository.ErrDuplicateEvent):
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: req.EventID, Duplicate: true})
	case err != nil && isBadEvent(err):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	default:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: e.ID})
	}
}
