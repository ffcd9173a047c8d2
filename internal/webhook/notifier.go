// Package webhook delivers task completion notices to caller-supplied URLs.
// Delivery is best-effort: bounded retries, then give up. It never feeds
// back into the task's own state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"rankarena/internal/domain"
)

type Notifier struct {
	Client      *http.Client
	MaxAttempts int
	Backoff     time.Duration
}

func New(timeout, backoff time.Duration, maxAttempts int) *Notifier {
	return &Notifier{
		Client:      &http.Client{Timeout: timeout},
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
	}
}

// Notify posts the payload to url, retrying transient failures with
// exponential backoff. The returned error reports final failure after all
// attempts; callers log it but never re-open the task.
func (n *Notifier) Notify(ctx context.Context, url string, payload domain.WebhookPayload) error {
	log := clog.FromContext(ctx).With("task_id", payload.TaskID).With("url", url)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	attempts := n.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := n.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = n.post(ctx, url, payload.TaskID, data)
		if lastErr == nil {
			log.With("attempt", attempt+1).Info("webhook delivered")
			return nil
		}
		log.With("attempt", attempt+1).
			With("max_attempts", attempts).
			With("error", lastErr.Error()).
			Warn("webhook delivery failed")
	}
	return fmt.Errorf("webhook to %s failed after %d attempts: %w", url, attempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, url, taskID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Source", "rankarena")
	req.Header.Set("X-Task-Id", taskID)
	res, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
