package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/testquill/hookd/internal/metrics"
	"github.com/testquill/hookd/internal/models"
	"github.com/testquill/hookd/internal/realtime"
	"github.com/testquill/hookd/internal/storage"
)

// Task carries everything one delivery attempt needs. URL and secret are
// captured at submission time: dispatch time for first attempts, sweep
// time for retries, so a rotated secret or updated URL takes effect on
// the next attempt.
type Task struct {
	DeliveryID string
	TenantID   string
	WebhookID  string
	EventType  string
	URL        string
	Secret     string
	Payload    []byte
}

// Submitter accepts a delivery attempt for asynchronous execution.
type Submitter interface {
	Submit(task Task)
}

// Notifier receives realtime notices about dispatch activity. A nil
// notifier is valid and means no realtime feed is attached.
type Notifier interface {
	Publish(n realtime.Notice)
}

// Worker executes delivery attempts and applies the retry policy.
type Worker struct {
	store         storage.DeliveryStore
	sender        *Sender
	maxRetries    int
	retrySchedule []time.Duration
	notifier      Notifier
	log           zerolog.Logger
}

func NewWorker(store storage.DeliveryStore, sender *Sender, maxRetries int, retrySchedule []time.Duration, notifier Notifier, log zerolog.Logger) *Worker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if len(retrySchedule) == 0 {
		retrySchedule = DefaultRetrySchedule
	}
	return &Worker{
		store:         store,
		sender:        sender,
		maxRetries:    maxRetries,
		retrySchedule: retrySchedule,
		notifier:      notifier,
		log:           log,
	}
}

// Submit runs the attempt on its own goroutine. Panics and errors stay
// inside the goroutine; the submitting caller is never affected.
func (w *Worker) Submit(task Task) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error().Interface("panic", r).Str("delivery_id", task.DeliveryID).Msg("delivery attempt panicked")
			}
		}()
		w.Attempt(context.Background(), task)
	}()
}

// Attempt performs one outbound call and records its outcome. The outcome
// is recorded for failures as much as for successes: attempt count,
// response status (0 for transport failure), truncated body, and
// delivered-at all update unconditionally.
func (w *Worker) Attempt(ctx context.Context, task Task) {
	result := w.sender.Send(ctx, task.URL, task.Secret, task.DeliveryID, task.EventType, task.Payload)
	success := result.Error == "" && IsSuccess(result.StatusCode)

	attempts, err := w.store.RecordAttemptResult(ctx, task.DeliveryID, result.StatusCode, result.ResponseBody, time.Now().UTC())
	if err != nil {
		// The delivery stays in its last persisted state; if a retry was
		// already scheduled the sweep will pick it up again.
		w.log.Error().Err(err).Str("delivery_id", task.DeliveryID).Msg("failed to record attempt result")
		return
	}

	outcome := "success"
	if success {
		if err := w.store.SetNextRetry(ctx, task.DeliveryID, models.DeliverySuccess, nil); err != nil {
			w.log.Error().Err(err).Str("delivery_id", task.DeliveryID).Msg("failed to mark delivery succeeded")
		}
		w.log.Info().
			Str("delivery_id", task.DeliveryID).
			Str("event_type", task.EventType).
			Int("status_code", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Msg("delivery succeeded")
	} else {
		outcome = w.scheduleRetry(ctx, task, attempts, result)
	}

	metrics.Attempts.WithLabelValues(task.EventType, outcome).Inc()
	metrics.AttemptLatency.WithLabelValues(task.EventType, outcome).Observe(float64(result.LatencyMs))

	if w.notifier != nil {
		w.notifier.Publish(realtime.Notice{
			Kind:       "delivery.attempted",
			TenantID:   task.TenantID,
			WebhookID:  task.WebhookID,
			DeliveryID: task.DeliveryID,
			EventType:  task.EventType,
			StatusCode: result.StatusCode,
			At:         time.Now().UTC(),
		})
	}
}

// scheduleRetry applies the backoff policy after a failed attempt and
// returns the resulting outcome label.
func (w *Worker) scheduleRetry(ctx context.Context, task Task, attempts int, result *SendResult) string {
	if attempts >= w.maxRetries {
		if err := w.store.SetNextRetry(ctx, task.DeliveryID, models.DeliveryFailed, nil); err != nil {
			w.log.Error().Err(err).Str("delivery_id", task.DeliveryID).Msg("failed to mark delivery terminally failed")
		}
		w.log.Warn().
			Str("delivery_id", task.DeliveryID).
			Str("event_type", task.EventType).
			Int("attempts", attempts).
			Int("status_code", result.StatusCode).
			Str("error", result.Error).
			Msg("delivery permanently failed")
		return "failed"
	}

	next := time.Now().UTC().Add(RetryDelay(attempts, w.retrySchedule))
	if err := w.store.SetNextRetry(ctx, task.DeliveryID, models.DeliveryRetrying, &next); err != nil {
		w.log.Error().Err(err).Str("delivery_id", task.DeliveryID).Msg("failed to schedule retry")
		return "failed"
	}
	w.log.Info().
		Str("delivery_id", task.DeliveryID).
		Str("event_type", task.EventType).
		Int("attempt", attempts).
		Int("status_code", result.StatusCode).
		Time("next_retry", next).
		Msg("delivery scheduled for retry")
	return "retrying"
}
