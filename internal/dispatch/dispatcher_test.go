package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/testquill/hookd/internal/models"
	"github.com/testquill/hookd/internal/storage"
)

// recordingSubmitter captures submitted tasks instead of running them.
type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []Task
}

func (r *recordingSubmitter) Submit(task Task) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
}

func seedWebhook(t *testing.T, store storage.Storage, tenantID string, active bool, eventTypes ...string) *models.Webhook {
	t.Helper()
	now := time.Now().UTC()
	wh := &models.Webhook{
		ID:         models.NewID("wh"),
		TenantID:   tenantID,
		URL:        "http://example.invalid/hook",
		Secret:     models.NewSecret(),
		EventTypes: eventTypes,
		Active:     active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.CreateWebhook(context.Background(), wh); err != nil {
		t.Fatalf("seed webhook: %v", err)
	}
	return wh
}

func countDeliveries(t *testing.T, store storage.Storage, webhookID string) int {
	t.Helper()
	ds, err := store.ListDeliveries(context.Background(), webhookID, 100, 0)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	return len(ds)
}

func TestDispatchFansOutToActiveSubscribers(t *testing.T) {
	store := storage.NewMemory()
	sub := &recordingSubmitter{}
	d := NewDispatcher(store, sub, nil, zerolog.Nop())

	a := seedWebhook(t, store, "t1", true, models.EventTestCaseCreated)
	b := seedWebhook(t, store, "t1", true, models.EventTestCaseCreated, models.EventReportCreated)
	inactive := seedWebhook(t, store, "t1", false, models.EventTestCaseCreated)
	otherEvent := seedWebhook(t, store, "t1", true, models.EventReportCreated)
	otherTenant := seedWebhook(t, store, "t2", true, models.EventTestCaseCreated)

	d.Dispatch(context.Background(), "t1", models.EventTestCaseCreated, map[string]any{"id": "tc_1"})

	if n := countDeliveries(t, store, a.ID); n != 1 {
		t.Errorf("webhook a: got %d deliveries, want 1", n)
	}
	if n := countDeliveries(t, store, b.ID); n != 1 {
		t.Errorf("webhook b: got %d deliveries, want 1", n)
	}
	for _, wh := range []*models.Webhook{inactive, otherEvent, otherTenant} {
		if n := countDeliveries(t, store, wh.ID); n != 0 {
			t.Errorf("webhook %s: got %d deliveries, want 0", wh.ID, n)
		}
	}
	if len(sub.tasks) != 2 {
		t.Fatalf("got %d submitted tasks, want 2", len(sub.tasks))
	}
	for _, task := range sub.tasks {
		if task.EventType != models.EventTestCaseCreated {
			t.Errorf("task event type = %q", task.EventType)
		}
		if task.Secret == "" || task.URL == "" || task.DeliveryID == "" {
			t.Errorf("task missing fields: %+v", task)
		}
	}
}

func TestDispatchNoSubscribersIsNoop(t *testing.T) {
	store := storage.NewMemory()
	sub := &recordingSubmitter{}
	d := NewDispatcher(store, sub, nil, zerolog.Nop())

	d.Dispatch(context.Background(), "t1", models.EventReportCreated, map[string]any{"id": "r_1"})

	if len(sub.tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(sub.tasks))
	}
}

func TestDispatchUnknownEventTypeIsNoop(t *testing.T) {
	store := storage.NewMemory()
	sub := &recordingSubmitter{}
	d := NewDispatcher(store, sub, nil, zerolog.Nop())

	wh := seedWebhook(t, store, "t1", true, models.EventTestCaseCreated)

	d.Dispatch(context.Background(), "t1", "billing.invoice_paid", map[string]any{})

	if n := countDeliveries(t, store, wh.ID); n != 0 {
		t.Fatalf("got %d deliveries for unknown event, want 0", n)
	}
	if len(sub.tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(sub.tasks))
	}
}

// failingCreateStore fails delivery creation for one webhook id.
type failingCreateStore struct {
	*storage.Memory
	failFor string
}

func (f *failingCreateStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	if d.WebhookID == f.failFor {
		return fmt.Errorf("injected create failure")
	}
	return f.Memory.CreateDelivery(ctx, d)
}

func TestDispatchIsolatesPerSubscriberFailures(t *testing.T) {
	mem := storage.NewMemory()
	sub := &recordingSubmitter{}

	a := seedWebhook(t, mem, "t1", true, models.EventTestExecutionCreated)
	b := seedWebhook(t, mem, "t1", true, models.EventTestExecutionCreated)
	c := seedWebhook(t, mem, "t1", true, models.EventTestExecutionCreated)

	store := &failingCreateStore{Memory: mem, failFor: b.ID}
	d := NewDispatcher(store, sub, nil, zerolog.Nop())

	d.Dispatch(context.Background(), "t1", models.EventTestExecutionCreated, map[string]any{"id": "ex_1"})

	if n := countDeliveries(t, mem, a.ID); n != 1 {
		t.Errorf("webhook a: got %d deliveries, want 1", n)
	}
	if n := countDeliveries(t, mem, c.ID); n != 1 {
		t.Errorf("webhook c: got %d deliveries, want 1", n)
	}
	if len(sub.tasks) != 2 {
		t.Fatalf("got %d submitted tasks, want 2 (failed subscriber skipped)", len(sub.tasks))
	}
}
