package api

import (
	"encoding/json"
	"net/http"

	"github.com/testquill/hookd/internal/dispatch"
	"github.com/testquill/hookd/internal/models"
)

// EventHandler accepts events from the platform's domain services and
// hands them to the dispatcher. The response is 202 as soon as fan-out
// rows exist; outbound calls happen asynchronously.
type EventHandler struct {
	dispatcher *dispatch.Dispatcher
}

func NewEventHandler(dispatcher *dispatch.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

type emitEventRequest struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

const maxPayloadSize = 256 * 1024 // 256KB

func (h *EventHandler) Emit(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	var req emitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if !models.KnownEventType(req.EventType) {
		// Unknown names are a dispatch no-op, but reject them here so a
		// misconfigured producer fails loudly instead of silently.
		writeError(w, http.StatusBadRequest, "unsupported event type")
		return
	}

	h.dispatcher.Dispatch(r.Context(), tenantID, req.EventType, req.Payload)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"event_type": req.EventType,
		"accepted":   true,
	})
}
