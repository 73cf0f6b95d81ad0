package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/testquill/hookd/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			event_types TEXT NOT NULL DEFAULT '[]',
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_status_code INTEGER NOT NULL DEFAULT 0,
			last_response TEXT NOT NULL DEFAULT '',
			delivered_at DATETIME,
			next_retry_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhooks_tenant ON webhooks(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON deliveries(webhook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(next_retry_at) WHERE next_retry_at IS NOT NULL`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Webhooks ---

func (s *SQLiteStorage) CreateWebhook(ctx context.Context, wh *models.Webhook) error {
	eventTypes, _ := json.Marshal(wh.EventTypes)
	active := 0
	if wh.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, tenant_id, url, secret, event_types, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wh.ID, wh.TenantID, wh.URL, wh.Secret, string(eventTypes), active, wh.CreatedAt, wh.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanWebhook(row interface{ Scan(...interface{}) error }) (*models.Webhook, error) {
	var wh models.Webhook
	var eventTypes string
	var active int
	err := row.Scan(&wh.ID, &wh.TenantID, &wh.URL, &wh.Secret, &eventTypes, &active, &wh.CreatedAt, &wh.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(eventTypes), &wh.EventTypes)
	wh.Active = active == 1
	return &wh, nil
}

func (s *SQLiteStorage) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, url, secret, event_types, active, created_at, updated_at FROM webhooks WHERE id = ?`, id)
	wh, err := s.scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wh, err
}

func (s *SQLiteStorage) ListWebhooks(ctx context.Context, tenantID string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, url, secret, event_types, active, created_at, updated_at FROM webhooks WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		wh, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, *wh)
	}
	return webhooks, rows.Err()
}

func (s *SQLiteStorage) UpdateWebhook(ctx context.Context, wh *models.Webhook) error {
	eventTypes, _ := json.Marshal(wh.EventTypes)
	active := 0
	if wh.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET url = ?, event_types = ?, active = ?, updated_at = ? WHERE id = ?`,
		wh.URL, string(eventTypes), active, time.Now().UTC(), wh.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteWebhook(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) SetWebhookActive(ctx context.Context, id string, active bool) error {
	a := 0
	if active {
		a = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE webhooks SET active = ?, updated_at = ? WHERE id = ?`, a, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) RotateSecret(ctx context.Context, id, newSecret string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET secret = ?, updated_at = ? WHERE id = ?`,
		newSecret, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStorage) CountWebhooks(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhooks WHERE tenant_id = ?`, tenantID).Scan(&n)
	return n, err
}

func (s *SQLiteStorage) FindActiveSubscribers(ctx context.Context, tenantID, eventType string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, url, secret, event_types, active, created_at, updated_at
		 FROM webhooks WHERE tenant_id = ? AND active = 1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		wh, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		if wh.Subscribes(eventType) {
			webhooks = append(webhooks, *wh)
		}
	}
	return webhooks, rows.Err()
}

func (s *SQLiteStorage) GetSecret(ctx context.Context, webhookID string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, `SELECT secret FROM webhooks WHERE id = ?`, webhookID).Scan(&secret)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return secret, err
}

// --- Deliveries ---

func (s *SQLiteStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, webhook_id, event_type, payload, status, attempt_count, last_status_code, last_response, delivered_at, next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WebhookID, d.EventType, string(d.Payload), d.Status, d.AttemptCount, d.LastStatusCode, d.LastResponse, d.DeliveredAt, d.NextRetryAt, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
	var d models.Delivery
	var payload string
	err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &payload, &d.Status, &d.AttemptCount, &d.LastStatusCode, &d.LastResponse, &d.DeliveredAt, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	return &d, nil
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, webhook_id, event_type, payload, status, attempt_count, last_status_code, last_response, delivered_at, next_retry_at, created_at, updated_at
		 FROM deliveries WHERE id = ?`, id)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, webhook_id, event_type, payload, status, attempt_count, last_status_code, last_response, delivered_at, next_retry_at, created_at, updated_at
		 FROM deliveries WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		webhookID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func (s *SQLiteStorage) RecordAttemptResult(ctx context.Context, id string, statusCode int, body string, deliveredAt time.Time) (int, error) {
	// Increment in SQL so concurrent attempts on the same row never lose
	// a count; the rest of the row is last-write-wins.
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET attempt_count = attempt_count + 1, last_status_code = ?, last_response = ?, delivered_at = ?, updated_at = ? WHERE id = ?`,
		statusCode, body, deliveredAt, time.Now().UTC(), id,
	)
	if err != nil {
		return 0, err
	}

	var attempts int
	err = s.db.QueryRowContext(ctx, `SELECT attempt_count FROM deliveries WHERE id = ?`, id).Scan(&attempts)
	return attempts, err
}

func (s *SQLiteStorage) SetNextRetry(ctx context.Context, id string, status models.DeliveryStatus, at *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, next_retry_at = ?, updated_at = ? WHERE id = ?`,
		status, at, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStorage) FindDueDeliveries(ctx context.Context, now time.Time, limit int) ([]models.DueDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.webhook_id, d.event_type, d.payload, d.status, d.attempt_count, d.last_status_code, d.last_response, d.delivered_at, d.next_retry_at, d.created_at, d.updated_at, w.tenant_id, w.url, w.secret
		 FROM deliveries d JOIN webhooks w ON d.webhook_id = w.id
		 WHERE w.active = 1 AND d.next_retry_at IS NOT NULL AND d.next_retry_at <= ?
		 ORDER BY d.next_retry_at ASC LIMIT ?`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []models.DueDelivery
	for rows.Next() {
		var dd models.DueDelivery
		var payload string
		if err := rows.Scan(&dd.ID, &dd.WebhookID, &dd.EventType, &payload, &dd.Status, &dd.AttemptCount, &dd.LastStatusCode, &dd.LastResponse, &dd.DeliveredAt, &dd.NextRetryAt, &dd.CreatedAt, &dd.UpdatedAt, &dd.TenantID, &dd.URL, &dd.Secret); err != nil {
			return nil, err
		}
		dd.Payload = json.RawMessage(payload)
		due = append(due, dd)
	}
	return due, rows.Err()
}
