package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/testquill/hookd/internal/config"
	"github.com/testquill/hookd/internal/dispatch"
	"github.com/testquill/hookd/internal/models"
	"github.com/testquill/hookd/internal/storage"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []dispatch.Task
}

func (r *recordingSubmitter) Submit(task dispatch.Task) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
}

type fixedPlan struct{ max int }

func (p fixedPlan) MaxWebhooks(ctx context.Context, tenantID string) (int, error) {
	return p.max, nil
}

type testEnv struct {
	ts    *httptest.Server
	store *storage.Memory
	sub   *recordingSubmitter
}

func newTestEnv(t *testing.T, plans PlanChecker) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	sub := &recordingSubmitter{}
	dispatcher := dispatch.NewDispatcher(store, sub, nil, zerolog.Nop())
	srv := NewServer(config.ServerConfig{}, store, dispatcher, plans, nil, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store, sub: sub}
}

func (e *testEnv) do(t *testing.T, method, path, tenant string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCreateWebhook(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, out := e.do(t, "POST", "/api/v1/webhooks", "t1", map[string]any{
		"url":         "https://example.com/hook",
		"event_types": []string{models.EventTestCaseCreated},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, out)
	}
	secret, _ := out["secret"].(string)
	if !strings.HasPrefix(secret, "whsec_") {
		t.Errorf("create response secret = %q, want whsec_ prefix", secret)
	}
	if out["tenant_id"] != "t1" || out["active"] != true {
		t.Errorf("unexpected webhook: %v", out)
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	e := newTestEnv(t, nil)

	cases := []map[string]any{
		{"url": ""},
		{"url": "ftp://example.com/hook"},
		{"url": "not a url at all", "event_types": []string{models.EventTestCaseCreated}},
		{"url": "https://example.com/hook", "event_types": []string{"billing.paid"}},
	}
	for _, body := range cases {
		resp, _ := e.do(t, "POST", "/api/v1/webhooks", "t1", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestCreateWebhookRequiresTenantHeader(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, _ := e.do(t, "POST", "/api/v1/webhooks", "", map[string]any{"url": "https://example.com/hook"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without tenant header", resp.StatusCode)
	}
}

func TestCreateWebhookPlanLimit(t *testing.T) {
	e := newTestEnv(t, fixedPlan{max: 1})

	body := map[string]any{"url": "https://example.com/hook", "event_types": []string{models.EventReportCreated}}
	if resp, _ := e.do(t, "POST", "/api/v1/webhooks", "t1", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create: status = %d", resp.StatusCode)
	}
	resp, out := e.do(t, "POST", "/api/v1/webhooks", "t1", body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("second create: status = %d, want 403, body = %v", resp.StatusCode, out)
	}

	// another tenant is unaffected
	if resp, _ := e.do(t, "POST", "/api/v1/webhooks", "t2", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("other tenant create: status = %d", resp.StatusCode)
	}
}

func TestGetWebhookHidesSecret(t *testing.T) {
	e := newTestEnv(t, nil)

	_, created := e.do(t, "POST", "/api/v1/webhooks", "t1", map[string]any{
		"url":         "https://example.com/hook",
		"event_types": []string{models.EventTestCaseCreated},
	})
	id := created["id"].(string)

	resp, out := e.do(t, "GET", "/api/v1/webhooks/"+id, "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := out["secret"]; ok {
		t.Errorf("secret exposed on get: %v", out)
	}

	// other tenants cannot see it at all
	resp, _ = e.do(t, "GET", "/api/v1/webhooks/"+id, "t2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-tenant get: status = %d, want 404", resp.StatusCode)
	}
}

func TestRotateSecret(t *testing.T) {
	e := newTestEnv(t, nil)

	_, created := e.do(t, "POST", "/api/v1/webhooks", "t1", map[string]any{
		"url":         "https://example.com/hook",
		"event_types": []string{models.EventTestCaseCreated},
	})
	id := created["id"].(string)
	oldSecret := created["secret"].(string)

	resp, out := e.do(t, "POST", "/api/v1/webhooks/"+id+"/rotate-secret", "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	newSecret, _ := out["secret"].(string)
	if newSecret == "" || newSecret == oldSecret {
		t.Fatalf("rotation returned secret %q (old %q)", newSecret, oldSecret)
	}

	stored, _ := e.store.GetSecret(context.Background(), id)
	if stored != newSecret {
		t.Error("stored secret does not match rotation response")
	}
}

func TestToggleWebhook(t *testing.T) {
	e := newTestEnv(t, nil)

	_, created := e.do(t, "POST", "/api/v1/webhooks", "t1", map[string]any{
		"url":         "https://example.com/hook",
		"event_types": []string{models.EventTestCaseCreated},
	})
	id := created["id"].(string)

	resp, out := e.do(t, "PATCH", "/api/v1/webhooks/"+id+"/toggle", "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["active"] != false {
		t.Errorf("active = %v after toggle, want false", out["active"])
	}
}

func TestEmitEventCreatesDeliveries(t *testing.T) {
	e := newTestEnv(t, nil)

	_, created := e.do(t, "POST", "/api/v1/webhooks", "t1", map[string]any{
		"url":         "https://example.com/hook",
		"event_types": []string{models.EventTestExecutionReported},
	})
	id := created["id"].(string)

	resp, _ := e.do(t, "POST", "/api/v1/events", "t1", map[string]any{
		"event_type": models.EventTestExecutionReported,
		"payload":    map[string]any{"execution_id": "ex_1", "passed": 12},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(e.sub.tasks) != 1 {
		t.Fatalf("got %d submitted tasks, want 1", len(e.sub.tasks))
	}

	resp, _ = e.do(t, "GET", fmt.Sprintf("/api/v1/webhooks/%s/deliveries", id), "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	deliveries, _ := e.store.ListDeliveries(context.Background(), id, 10, 0)
	if len(deliveries) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(deliveries))
	}
	if deliveries[0].EventType != models.EventTestExecutionReported {
		t.Errorf("delivery event type = %q", deliveries[0].EventType)
	}
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, _ := e.do(t, "POST", "/api/v1/events", "t1", map[string]any{
		"event_type": "billing.invoice_paid",
		"payload":    map[string]any{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
