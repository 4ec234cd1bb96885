// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cadencehq/cadence/internal/sweep"
)

// backfillRequest mirrors the wire schema for POST /admin/backfill.
type backfillRequest struct {
	OrganizationID string `json:"organization_id"`
	From           string `json:"from"`
	To             string `json:"to"`
}

// BackfillHandler handles admin backfill requests.
type BackfillHandler struct {
	deps Dependencies
}

// NewBackfillHandler creates a new backfill handler.
func NewBackfillHandler(deps Dependencies) *BackfillHandler {
	return &BackfillHandler{deps: deps}
}

// HandleBackfill handles POST /admin/backfill requests. The call is
// synchronous: it returns once the range has been recomputed.
func (h *BackfillHandler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if req.OrganizationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing organization_id"))
		return
	}
	from, err := time.Parse(dayLayout, req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("invalid from; must be YYYY-MM-DD"))
		return
	}
	to, err := time.Parse(dayLayout, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("invalid to; must be YYYY-MM-DD"))
		return
	}

	if err := h.deps.Backfill(r.Context(), req.OrganizationID, from, to); err != nil {
		if errors.Is(err, sweep.ErrBackfillRange) {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
