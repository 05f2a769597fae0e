// Package slack delivers pipeline events to a webhook channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/gateline/gateline/internal/domain"
)

// DefaultMaxAttempts bounds webhook delivery retries.
const DefaultMaxAttempts = 3

// Notifier implements [domain.Notifier] over an incoming-webhook URL.
// Delivery is at-least-once with bounded retries; an undeliverable
// event is logged and dropped, never surfaced to the pipeline.
type Notifier struct {
	WebhookURL  string
	HTTPClient  *http.Client
	MaxAttempts int
	Log         *logrus.Logger
}

type payload struct {
	RunID       string `json:"runId"`
	Environment string `json:"environment"`
	Stage       string `json:"stage"`
	Status      string `json:"status"`
	Severity    string `json:"severity"`
	Text        string `json:"text"`
}

func (n *Notifier) Notify(ctx context.Context, event domain.NotificationEvent) error {
	body, err := json.Marshal(payload{
		RunID:       string(event.RunID),
		Environment: string(event.Environment),
		Stage:       string(event.Stage),
		Status:      string(event.Status),
		Severity:    string(event.Severity),
		Text:        event.Summary,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	attempts := 0
	post := func() error {
		attempts++
		return n.post(ctx, body)
	}

	maxAttempts := n.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxAttempts-1)), ctx)
	if err := backoff.Retry(post, bo); err != nil {
		n.log().WithFields(logrus.Fields{
			"run":      event.RunID,
			"stage":    event.Stage,
			"status":   event.Status,
			"attempts": attempts,
		}).WithError(err).Error("dropping undeliverable notification")
		return nil
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func (n *Notifier) httpClient() *http.Client {
	if n.HTTPClient != nil {
		return n.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (n *Notifier) log() *logrus.Logger {
	if n.Log != nil {
		return n.Log
	}
	return logrus.StandardLogger()
}
