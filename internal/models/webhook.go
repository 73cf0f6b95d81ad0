package models

import "time"

// Webhook is a tenant-owned subscription to a set of event types.
// Secret is only serialized on create and rotate responses; handlers
// blank it before returning a stored webhook.
type Webhook struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	EventTypes []string  `json:"event_types"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Subscribes reports whether the webhook is subscribed to eventType.
func (w *Webhook) Subscribes(eventType string) bool {
	for _, et := range w.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}
