package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/testquill/hookd/internal/signing"
)

// maxResponseBytes bounds how much of an endpoint's response body is
// retained on the delivery row for operator inspection.
const maxResponseBytes = 1000

type SendResult struct {
	StatusCode   int // 0 on transport failure or timeout
	ResponseBody string
	LatencyMs    int64
	Error        string
}

type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send performs one signed HTTP POST. It never retries; retrying is the
// scheduler's concern. A timeout or connection error leaves StatusCode 0.
func (s *Sender) Send(ctx context.Context, url, secret, deliveryID, eventType string, payload []byte) *SendResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "testquill-hookd/1.0")
	req.Header.Set("X-Testquill-Delivery", deliveryID)
	req.Header.Set("X-Testquill-Event", eventType)
	req.Header.Set("X-Testquill-Signature", signing.Sign(secret, payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}
