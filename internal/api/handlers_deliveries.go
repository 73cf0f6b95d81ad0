package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/testquill/hookd/internal/models"
	"github.com/testquill/hookd/internal/storage"
)

// DeliveryHandler exposes delivery history. Read-only: attempt outcomes
// are owned by the delivery worker, operators only inspect them.
type DeliveryHandler struct {
	store storage.Storage
}

func NewDeliveryHandler(store storage.Storage) *DeliveryHandler {
	return &DeliveryHandler{store: store}
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}

	wh, err := h.store.GetWebhook(r.Context(), d.WebhookID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if wh == nil || wh.TenantID != TenantFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *DeliveryHandler) ListByWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wh, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get webhook")
		return
	}
	if wh == nil || wh.TenantID != TenantFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	deliveries, err := h.store.ListDeliveries(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}
