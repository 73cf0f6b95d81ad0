package storage

import (
	"context"
	"time"

	"github.com/testquill/hookd/internal/models"
)

// Registry is the webhook-subscription side of storage: registration CRUD
// plus the lookups the dispatcher needs at fan-out time.
type Registry interface {
	CreateWebhook(ctx context.Context, wh *models.Webhook) error
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
	ListWebhooks(ctx context.Context, tenantID string) ([]models.Webhook, error)
	UpdateWebhook(ctx context.Context, wh *models.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	SetWebhookActive(ctx context.Context, id string, active bool) error
	RotateSecret(ctx context.Context, id, newSecret string) error
	CountWebhooks(ctx context.Context, tenantID string) (int, error)

	// FindActiveSubscribers returns active webhooks of the tenant whose
	// subscribed set contains eventType. Order is unspecified.
	FindActiveSubscribers(ctx context.Context, tenantID, eventType string) ([]models.Webhook, error)
	GetSecret(ctx context.Context, webhookID string) (string, error)
}

// DeliveryStore persists one row per (webhook, event occurrence) and its
// retry lifecycle. Every mutation is scoped to a single row by id; the
// last write to a row wins.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]models.Delivery, error)

	// RecordAttemptResult increments the attempt count by one, stores the
	// response status and truncated body, and stamps delivered-at. It
	// returns the attempt count after the increment.
	RecordAttemptResult(ctx context.Context, id string, statusCode int, body string, deliveredAt time.Time) (int, error)

	// SetNextRetry moves the delivery to status and schedules (or, with
	// nil, clears) the next retry time.
	SetNextRetry(ctx context.Context, id string, status models.DeliveryStatus, at *time.Time) error

	// FindDueDeliveries returns deliveries whose next retry time has
	// passed, joined with their still-active owning webhook so the URL
	// and secret reflect current registration state.
	FindDueDeliveries(ctx context.Context, now time.Time, limit int) ([]models.DueDelivery, error)
}

type Storage interface {
	Registry
	DeliveryStore

	Migrate(ctx context.Context) error
	Close() error
}
