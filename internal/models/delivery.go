package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Delivery tracks the full retry lifecycle of sending one event occurrence
// to one webhook. AttemptCount only grows; once it reaches the retry bound,
// NextRetryAt is null and the row is never picked up again.
type Delivery struct {
	ID             string          `json:"id"`
	WebhookID      string          `json:"webhook_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	LastStatusCode int             `json:"last_status_code"`
	LastResponse   string          `json:"last_response"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DueDelivery is a delivery joined with its still-active webhook, carrying
// the URL and secret as persisted at sweep time rather than at dispatch time.
type DueDelivery struct {
	Delivery
	TenantID string `json:"tenant_id"`
	URL      string `json:"url"`
	Secret   string `json:"-"`
}
