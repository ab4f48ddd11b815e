// Package notifier pushes terminal task state to caller-supplied webhook
// URLs. Delivery is best-effort, single attempt.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/nadmax/harvest/internal/metrics"
	"github.com/nadmax/harvest/internal/task"
)

const deliveryTimeout = 10 * time.Second

// payload deliberately omits source, query, model, timeout and
// callback_url so potentially sensitive configuration is never echoed to
// the webhook endpoint.
type payload struct {
	ID               string          `json:"id"`
	Status           task.Status     `json:"status"`
	Result           string          `json:"result,omitempty"`
	ResultJSON       json.RawMessage `json:"result_json,omitempty"`
	Error            string          `json:"error,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}

type WebhookNotifier struct {
	client *http.Client
}

func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: deliveryTimeout},
	}
}

// Deliver posts the terminal record to the task's callback URL and reports
// whether the endpoint acknowledged it. Failures are logged, never
// propagated; a notification failure must not touch the task's state.
func (n *WebhookNotifier) Deliver(ctx context.Context, t *task.Task) bool {
	if t.CallbackURL == "" {
		return false
	}

	body, err := json.Marshal(payload{
		ID:               t.ID,
		Status:           t.Status,
		Result:           t.Result,
		ResultJSON:       t.ResultJSON,
		Error:            t.Error,
		ProcessingTimeMs: t.ProcessingTimeMs,
	})
	if err != nil {
		log.Printf("Webhook payload for task %s could not be encoded: %v", t.ID, err)
		metrics.RecordWebhookDelivery(false)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.CallbackURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("Webhook request for task %s could not be built: %v", t.ID, err)
		metrics.RecordWebhookDelivery(false)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("Webhook delivery for task %s to %s failed: %v", t.ID, t.CallbackURL, err)
		metrics.RecordWebhookDelivery(false)
		return false
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close webhook response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Webhook delivery for task %s to %s rejected: status %d", t.ID, t.CallbackURL, resp.StatusCode)
		metrics.RecordWebhookDelivery(false)
		return false
	}

	log.Printf("Webhook delivered for task %s (status: %d)", t.ID, resp.StatusCode)
	metrics.RecordWebhookDelivery(true)
	return true
}
