package api

import (
	"net/http"

	service "github.com/cadencehq/cadence/internal/app"
)

// StatsProvider exposes a snapshot of the engine's runtime state.
type StatsProvider interface {
	GetStats() service.Stats
}

// StatsHandler serves the engine snapshot as JSON.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a stats handler backed by provider.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.provider.GetStats())
}
