package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/testquill/hookd/internal/models"
)

// Memory is an in-process Storage used by tests and the emit command's
// dry-run mode. Mutations take the store lock, matching the single-row
// last-write-wins semantics of the SQLite implementation.
type Memory struct {
	mu         sync.Mutex
	webhooks   map[string]*models.Webhook
	deliveries map[string]*models.Delivery
}

func NewMemory() *Memory {
	return &Memory{
		webhooks:   map[string]*models.Webhook{},
		deliveries: map[string]*models.Delivery{},
	}
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }
func (m *Memory) Close() error                      { return nil }

// --- Webhooks ---

func (m *Memory) CreateWebhook(ctx context.Context, wh *models.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wh
	m.webhooks[wh.ID] = &cp
	return nil
}

func (m *Memory) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return nil, nil
	}
	cp := *wh
	return &cp, nil
}

func (m *Memory) ListWebhooks(ctx context.Context, tenantID string) ([]models.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Webhook
	for _, wh := range m.webhooks {
		if wh.TenantID == tenantID {
			out = append(out, *wh)
		}
	}
	return out, nil
}

func (m *Memory) UpdateWebhook(ctx context.Context, wh *models.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.webhooks[wh.ID]
	if !ok {
		return nil
	}
	cur.URL = wh.URL
	cur.EventTypes = wh.EventTypes
	cur.Active = wh.Active
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteWebhook(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.webhooks, id)
	// cascade, as the SQLite schema does via foreign keys
	for did, d := range m.deliveries {
		if d.WebhookID == id {
			delete(m.deliveries, did)
		}
	}
	return nil
}

func (m *Memory) SetWebhookActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wh, ok := m.webhooks[id]; ok {
		wh.Active = active
		wh.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *Memory) RotateSecret(ctx context.Context, id, newSecret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wh, ok := m.webhooks[id]; ok {
		wh.Secret = newSecret
		wh.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *Memory) CountWebhooks(ctx context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, wh := range m.webhooks {
		if wh.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) FindActiveSubscribers(ctx context.Context, tenantID, eventType string) ([]models.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Webhook
	for _, wh := range m.webhooks {
		if wh.TenantID == tenantID && wh.Active && wh.Subscribes(eventType) {
			out = append(out, *wh)
		}
	}
	return out, nil
}

func (m *Memory) GetSecret(ctx context.Context, webhookID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wh, ok := m.webhooks[webhookID]; ok {
		return wh.Secret, nil
	}
	return "", nil
}

// --- Deliveries ---

func (m *Memory) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *Memory) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Delivery
	for _, d := range m.deliveries {
		if d.WebhookID == webhookID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RecordAttemptResult(ctx context.Context, id string, statusCode int, body string, deliveredAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return 0, nil
	}
	d.AttemptCount++
	d.LastStatusCode = statusCode
	d.LastResponse = body
	at := deliveredAt
	d.DeliveredAt = &at
	d.UpdatedAt = time.Now().UTC()
	return d.AttemptCount, nil
}

func (m *Memory) SetNextRetry(ctx context.Context, id string, status models.DeliveryStatus, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok {
		d.Status = status
		d.NextRetryAt = at
		d.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *Memory) FindDueDeliveries(ctx context.Context, now time.Time, limit int) ([]models.DueDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.DueDelivery
	for _, d := range m.deliveries {
		if d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		wh, ok := m.webhooks[d.WebhookID]
		if !ok || !wh.Active {
			continue
		}
		due = append(due, models.DueDelivery{Delivery: *d, TenantID: wh.TenantID, URL: wh.URL, Secret: wh.Secret})
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}
