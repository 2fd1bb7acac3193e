package handler

import (
	"net/http"

	"github.com/alanyoungcy/polycopy/internal/copier"
)

// StatusSource reports the live worker state.
type StatusSource interface {
	Status() copier.Status
}

// StatusHandler serves the worker status: counters, pending aggregations,
// tracked positions and risk states.
type StatusHandler struct {
	Mode   string
	Wallet string
	source StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, wallet string, source StatusSource) *StatusHandler {
	return &StatusHandler{Mode: mode, Wallet: wallet, source: source}
}

type statusResponse struct {
	Mode   string `json:"mode"`
	Wallet string `json:"wallet"`
	copier.Status
}

// GetStatus responds with the current worker snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "copy worker not running in this mode")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:   h.Mode,
		Wallet: h.Wallet,
		Status: h.source.Status(),
	})
}
