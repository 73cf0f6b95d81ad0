package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/testquill/hookd/internal/metrics"
	"github.com/testquill/hookd/internal/models"
	"github.com/testquill/hookd/internal/realtime"
	"github.com/testquill/hookd/internal/storage"
)

// Dispatcher fans a domain event out to every active subscribed webhook
// of the tenant. It creates one delivery row per subscriber and submits
// each attempt for asynchronous execution; no network I/O happens inside
// Dispatch itself.
type Dispatcher struct {
	store    storage.Storage
	submit   Submitter
	notifier Notifier
	log      zerolog.Logger
}

func NewDispatcher(store storage.Storage, submit Submitter, notifier Notifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		submit:   submit,
		notifier: notifier,
		log:      log,
	}
}

// Dispatch never fails the caller: the domain action that produced the
// event must not block or error because a webhook side effect did. An
// unknown event type and a tenant with no matching subscribers are both
// silent no-ops. A failure to create one subscriber's delivery row does
// not stop fan-out to the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, eventType string, payload map[string]any) {
	if !models.KnownEventType(eventType) {
		d.log.Debug().Str("event_type", eventType).Msg("ignoring unknown event type")
		return
	}

	subscribers, err := d.store.FindActiveSubscribers(ctx, tenantID, eventType)
	if err != nil {
		d.log.Error().Err(err).Str("tenant_id", tenantID).Str("event_type", eventType).Msg("subscriber lookup failed")
		return
	}
	if len(subscribers) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Error().Err(err).Str("event_type", eventType).Msg("failed to serialize event payload")
		return
	}

	now := time.Now().UTC()
	for _, wh := range subscribers {
		delivery := &models.Delivery{
			ID:        models.NewID("dlv"),
			WebhookID: wh.ID,
			EventType: eventType,
			Payload:   body,
			Status:    models.DeliveryPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := d.store.CreateDelivery(ctx, delivery); err != nil {
			d.log.Error().Err(err).Str("webhook_id", wh.ID).Str("event_type", eventType).Msg("failed to create delivery")
			continue
		}

		d.submit.Submit(Task{
			DeliveryID: delivery.ID,
			TenantID:   tenantID,
			WebhookID:  wh.ID,
			EventType:  eventType,
			URL:        wh.URL,
			Secret:     wh.Secret,
			Payload:    body,
		})
	}

	metrics.Dispatched.WithLabelValues(eventType).Inc()

	if d.notifier != nil {
		d.notifier.Publish(realtime.Notice{
			Kind:      "event.dispatched",
			TenantID:  tenantID,
			EventType: eventType,
			At:        now,
		})
	}

	d.log.Info().
		Str("tenant_id", tenantID).
		Str("event_type", eventType).
		Int("subscribers", len(subscribers)).
		Msg("event dispatched")
}
