package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/testquill/hookd/internal/models"
	"github.com/testquill/hookd/internal/storage"
)

// PlanChecker is the entitlement lookup deciding how many webhooks a
// tenant may register. The lookup itself lives in the billing service; a
// nil checker means no limit.
type PlanChecker interface {
	MaxWebhooks(ctx context.Context, tenantID string) (int, error)
}

type WebhookHandler struct {
	store storage.Storage
	plans PlanChecker
}

func NewWebhookHandler(store storage.Storage, plans PlanChecker) *WebhookHandler {
	return &WebhookHandler{store: store, plans: plans}
}

type createWebhookRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
}

func validateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be a valid HTTP or HTTPS URL")
	}
	return nil
}

func validateEventTypes(names []string) error {
	for _, name := range names {
		if !models.KnownEventType(name) {
			return fmt.Errorf("unsupported event type %q", name)
		}
	}
	return nil
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())

	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := validateTargetURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateEventTypes(req.EventTypes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.plans != nil {
		max, err := h.plans.MaxWebhooks(r.Context(), tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check plan limit")
			return
		}
		count, err := h.store.CountWebhooks(r.Context(), tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to count webhooks")
			return
		}
		if count >= max {
			writeError(w, http.StatusForbidden, "webhook limit for plan reached")
			return
		}
	}

	now := time.Now().UTC()
	wh := &models.Webhook{
		ID:         models.NewID("wh"),
		TenantID:   tenantID,
		URL:        req.URL,
		Secret:     models.NewSecret(),
		EventTypes: req.EventTypes,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if wh.EventTypes == nil {
		wh.EventTypes = []string{}
	}

	if err := h.store.CreateWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	// The only response that carries the secret besides rotation.
	writeJSON(w, http.StatusCreated, wh)
}

// getOwned loads the webhook and enforces tenant ownership.
func (h *WebhookHandler) getOwned(w http.ResponseWriter, r *http.Request) *models.Webhook {
	id := chi.URLParam(r, "id")
	wh, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get webhook")
		return nil
	}
	if wh == nil || wh.TenantID != TenantFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return nil
	}
	return wh
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	wh := h.getOwned(w, r)
	if wh == nil {
		return
	}
	wh.Secret = ""
	writeJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.store.ListWebhooks(r.Context(), TenantFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	if webhooks == nil {
		webhooks = []models.Webhook{}
	}
	for i := range webhooks {
		webhooks[i].Secret = ""
	}
	writeJSON(w, http.StatusOK, webhooks)
}

type updateWebhookRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Active     *bool    `json:"active"`
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	wh := h.getOwned(w, r)
	if wh == nil {
		return
	}

	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != "" {
		if err := validateTargetURL(req.URL); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		wh.URL = req.URL
	}
	if req.EventTypes != nil {
		if err := validateEventTypes(req.EventTypes); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		wh.EventTypes = req.EventTypes
	}
	if req.Active != nil {
		wh.Active = *req.Active
	}

	if err := h.store.UpdateWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	wh.Secret = ""
	writeJSON(w, http.StatusOK, wh)
}

// Delete hard-deletes a webhook; its delivery history goes with it.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	wh := h.getOwned(w, r)
	if wh == nil {
		return
	}

	if err := h.store.DeleteWebhook(r.Context(), wh.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	wh := h.getOwned(w, r)
	if wh == nil {
		return
	}

	newActive := !wh.Active
	if err := h.store.SetWebhookActive(r.Context(), wh.ID, newActive); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle webhook")
		return
	}

	wh.Active = newActive
	wh.Secret = ""
	writeJSON(w, http.StatusOK, wh)
}

// RotateSecret replaces the signing secret. Signatures made with the old
// secret become unverifiable the moment this returns.
func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	wh := h.getOwned(w, r)
	if wh == nil {
		return
	}

	newSecret := models.NewSecret()
	if err := h.store.RotateSecret(r.Context(), wh.ID, newSecret); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rotate secret")
		return
	}

	wh.Secret = newSecret
	writeJSON(w, http.StatusOK, wh)
}
