package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// StreamReader reads the newest entries of a stream.
type StreamReader interface {
	StreamRevRange(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// ExecutionsHandler serves recent execution outcomes from the signal bus.
type ExecutionsHandler struct {
	stream string
	reader StreamReader
	logger *slog.Logger
}

// NewExecutionsHandler creates an ExecutionsHandler reading stream.
func NewExecutionsHandler(stream string, reader StreamReader, logger *slog.Logger) *ExecutionsHandler {
	return &ExecutionsHandler{stream: stream, reader: reader, logger: logger}
}

type executionEntry struct {
	ID      string          `json:"id"`
	Outcome json.RawMessage `json:"outcome"`
}

type listExecutionsResponse struct {
	Executions []executionEntry `json:"executions"`
}

// ListRecent returns the newest outcomes, newest first.
// GET /api/executions?limit=50
func (h *ExecutionsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)

	msgs, err := h.reader.StreamRevRange(r.Context(), h.stream, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("stream", h.stream),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := listExecutionsResponse{Executions: make([]executionEntry, 0, len(msgs))}
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		resp.Executions = append(resp.Executions, executionEntry{ID: m.ID, Outcome: m.Payload})
	}
	writeJSON(w, http.StatusOK, resp)
}
