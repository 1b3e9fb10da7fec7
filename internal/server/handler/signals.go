package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// SignalPublisher hands alerts to the controller's signal source.
type SignalPublisher interface {
	Publish(ctx context.Context, ev domain.SignalEvent) error
}

// SignalHandler accepts alerts over HTTP.
type SignalHandler struct {
	publisher SignalPublisher
	logger    *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(publisher SignalPublisher, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{publisher: publisher, logger: logger}
}

// PostSignals accepts one SignalEvent or an array. Every event is validated
// before any is published.
// POST /api/signals
func (h *SignalHandler) PostSignals(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	body = bytes.TrimSpace(body)

	var events []domain.SignalEvent
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &events)
	} else {
		var ev domain.SignalEvent
		err = json.Unmarshal(body, &ev)
		events = []domain.SignalEvent{ev}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("signal %d: %v", i, err))
			return
		}
	}
	for _, ev := range events {
		if err := h.publisher.Publish(r.Context(), ev); err != nil {
			writeDomainError(w, r, h.logger, err, "failed to publish signal")
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}
