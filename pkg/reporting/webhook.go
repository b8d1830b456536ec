package reporting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook event names. A run that aborted before evaluating alerts is
// "failed"; one that finished with per-alert failures is "degraded".
const (
	EventRunCompleted = "aqi.run.completed"
	EventRunDegraded  = "aqi.run.degraded"
	EventRunFailed    = "aqi.run.failed"
)

// WebhookReporter posts one JSON event per run to an HTTP endpoint.
type WebhookReporter struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookReporter creates a webhook reporter. A non-empty secret signs
// each body with HMAC-SHA256 in X-Signature-256.
func NewWebhookReporter(url, secret string) *WebhookReporter {
	return &WebhookReporter{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookReporter) Name() string { return "webhook" }

// Event classifies a run for webhook consumers.
func Event(s Summary) string {
	switch {
	case s.Run.Error != "":
		return EventRunFailed
	case len(s.Failures) > 0 || s.Run.Failures() > 0:
		return EventRunDegraded
	default:
		return EventRunCompleted
	}
}

type runCounts struct {
	Alerts         int `json:"alerts"`
	Notified       int `json:"notified"`
	FetchFailed    int `json:"fetch_failed"`
	DeliveryFailed int `json:"delivery_failed"`
	CommitFailed   int `json:"commit_failed"`
	Panicked       int `json:"panicked"`
}

type runEvent struct {
	Event      string               `json:"event"`
	RunID      string               `json:"run_id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	DurationMS int64                `json:"duration_ms"`
	Counts     runCounts            `json:"counts"`
	Error      string               `json:"error,omitempty"`
	Failures   map[string][]Failure `json:"failures,omitempty"`
}

func newRunEvent(s Summary) runEvent {
	ev := runEvent{
		Event:      Event(s),
		RunID:      s.Run.ID,
		StartedAt:  s.Run.StartedAt,
		FinishedAt: s.Run.FinishedAt,
		DurationMS: s.Run.FinishedAt.Sub(s.Run.StartedAt).Milliseconds(),
		Counts: runCounts{
			Alerts:         s.Run.AlertsTotal,
			Notified:       s.Run.Notified,
			FetchFailed:    s.Run.FetchFailed,
			DeliveryFailed: s.Run.DeliveryFailed,
			CommitFailed:   s.Run.CommitFailed,
			Panicked:       s.Run.Panicked,
		},
		Error: s.Run.Error,
	}
	// Grouped by outcome so a consumer can page on commit_failed (duplicate
	// emails likely) separately from transient fetch errors.
	for _, f := range s.Failures {
		if ev.Failures == nil {
			ev.Failures = make(map[string][]Failure)
		}
		ev.Failures[f.Outcome] = append(ev.Failures[f.Outcome], f)
	}
	return ev
}

func (w *WebhookReporter) Send(ctx context.Context, summary Summary) error {
	ev := newRunEvent(summary)
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aqialert/1.0")
	req.Header.Set("X-Aqialert-Event", ev.Event)
	req.Header.Set("X-Aqialert-Run", ev.RunID)
	if w.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(body, []byte(w.secret)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s event: %w", ev.Event, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d for run %s", resp.StatusCode, ev.RunID)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of message under key.
func Sign(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
