package slack_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/gateline/gateline/internal/domain"
	"github.com/gateline/gateline/internal/infrastructure/slack"
)

func testEvent() domain.NotificationEvent {
	return domain.NotificationEvent{
		RunID:       "r1",
		Environment: "prod",
		Stage:       domain.StageVerify,
		Status:      domain.RunStatusSucceeded,
		Severity:    domain.SeverityInfo,
		Summary:     "revision abc123 deployed to prod",
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNotifier_DeliversPayload(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	n := &slack.Notifier{WebhookURL: srv.URL, Log: quietLogger()}
	if err := n.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	want := map[string]string{
		"runId":       "r1",
		"environment": "prod",
		"stage":       "verify-sync",
		"status":      "succeeded",
		"severity":    "info",
		"text":        "revision abc123 deployed to prod",
	}
	for key, value := range want {
		if body[key] != value {
			t.Errorf("payload[%q] = %q, want %q", key, body[key], value)
		}
	}
}

func TestNotifier_RetriesUntilDelivered(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}))
	defer srv.Close()

	n := &slack.Notifier{WebhookURL: srv.URL, MaxAttempts: 3, Log: quietLogger()}
	if err := n.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("deliveries attempted = %d, want 3", got)
	}
}

func TestNotifier_DropsAfterExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := &slack.Notifier{WebhookURL: srv.URL, MaxAttempts: 2, Log: quietLogger()}
	if err := n.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify must swallow delivery failure, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("deliveries attempted = %d, want 2", got)
	}
}

func TestNotifier_UnreachableWebhookIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	n := &slack.Notifier{WebhookURL: srv.URL, MaxAttempts: 2, Log: quietLogger()}
	if err := n.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify must swallow delivery failure, got %v", err)
	}
}
