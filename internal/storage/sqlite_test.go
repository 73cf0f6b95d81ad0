package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/testquill/hookd/internal/models"
)

func openTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "hookd.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSQLiteWebhookRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	wh := mkWebhook("t1", true, models.EventTestCaseCreated, models.EventReportCreated)
	if err := s.CreateWebhook(ctx, wh); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetWebhook(ctx, wh.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("webhook not found after create")
	}
	if got.TenantID != "t1" || got.URL != wh.URL || got.Secret != wh.Secret || !got.Active {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.EventTypes) != 2 {
		t.Errorf("event types = %v", got.EventTypes)
	}

	missing, err := s.GetWebhook(ctx, "wh_missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for missing webhook")
	}
}

func TestSQLiteFindActiveSubscribers(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	match := mkWebhook("t1", true, models.EventTestCaseCreated)
	inactive := mkWebhook("t1", false, models.EventTestCaseCreated)
	wrongEvent := mkWebhook("t1", true, models.EventReportCreated)
	for _, wh := range []*models.Webhook{match, inactive, wrongEvent} {
		if err := s.CreateWebhook(ctx, wh); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	subs, err := s.FindActiveSubscribers(ctx, "t1", models.EventTestCaseCreated)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].ID != match.ID {
		t.Fatalf("got %d subscribers, want only the matching one", len(subs))
	}
}

func TestSQLiteRotateSecret(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	wh := mkWebhook("t1", true, models.EventTestCaseCreated)
	s.CreateWebhook(ctx, wh)

	if err := s.RotateSecret(ctx, wh.ID, "whsec_rotated"); err != nil {
		t.Fatal(err)
	}
	secret, err := s.GetSecret(ctx, wh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if secret != "whsec_rotated" {
		t.Fatalf("secret = %q after rotation", secret)
	}
}

func TestSQLiteRecordAttemptResult(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	wh := mkWebhook("t1", true, models.EventTestCaseCreated)
	s.CreateWebhook(ctx, wh)
	d := mkDelivery(wh.ID)
	if err := s.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	attempts, err := s.RecordAttemptResult(ctx, d.ID, 500, "oops", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}

	attempts, err = s.RecordAttemptResult(ctx, d.ID, 200, "", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}

	got, err := s.GetDelivery(ctx, d.ID)
	if err != nil || got == nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.AttemptCount != 2 || got.LastStatusCode != 200 {
		t.Errorf("delivery after attempts: %+v", got)
	}
	if got.DeliveredAt == nil {
		t.Error("delivered_at not set")
	}
}

func TestSQLiteFindDueDeliveriesJoinsActiveWebhook(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	active := mkWebhook("t1", true, models.EventTestCaseCreated)
	inactive := mkWebhook("t1", false, models.EventTestCaseCreated)
	s.CreateWebhook(ctx, active)
	s.CreateWebhook(ctx, inactive)

	dueActive := mkDelivery(active.ID)
	dueInactive := mkDelivery(inactive.ID)
	terminal := mkDelivery(active.ID)
	s.CreateDelivery(ctx, dueActive)
	s.CreateDelivery(ctx, dueInactive)
	s.CreateDelivery(ctx, terminal)
	s.SetNextRetry(ctx, dueActive.ID, models.DeliveryRetrying, &past)
	s.SetNextRetry(ctx, dueInactive.ID, models.DeliveryRetrying, &past)
	s.SetNextRetry(ctx, terminal.ID, models.DeliveryFailed, nil)

	due, err := s.FindDueDeliveries(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != dueActive.ID {
		t.Fatalf("got %d due deliveries, want only the active webhook's", len(due))
	}
	if due[0].URL != active.URL || due[0].Secret != active.Secret || due[0].TenantID != "t1" {
		t.Errorf("joined webhook state mismatch: %+v", due[0])
	}
}

func TestSQLiteDeleteWebhookCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	wh := mkWebhook("t1", true, models.EventTestCaseCreated)
	s.CreateWebhook(ctx, wh)
	d := mkDelivery(wh.ID)
	s.CreateDelivery(ctx, d)

	if err := s.DeleteWebhook(ctx, wh.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("delivery survived webhook deletion; foreign key cascade missing")
	}
}
