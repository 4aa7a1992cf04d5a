package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/domain/alert"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// NotificationSink delivers a raised alert to an external channel. A sink
// failure must never block alert persistence: callers log and move on.
type NotificationSink interface {
	Notify(ctx context.Context, a alert.Alert) error
}

// LogSink writes the alert to the structured logger. It is the always-on
// default sink so a fresh deployment never loses visibility into alerts
// even before any webhook is configured.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink builds a LogSink. A nil logger falls back to a default one.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewDefault("alerts")
	}
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, a alert.Alert) error {
	s.log.WithFields(map[string]any{
		"alert_id":  a.ID,
		"model_id":  a.ModelID,
		"severity":  a.Severity,
		"type":      a.AlertType,
		"dedup_key": a.DedupKey,
	}).Warn(a.Title)
	return nil
}

// WebhookSink POSTs a JSON payload to a configured URL, grounded on the
// same request/response shape used for dispatching webhook actions
// elsewhere in this codebase.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink builds a WebhookSink posting to url with a 10s timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

type webhookPayload struct {
	AlertID   string         `json:"alert_id"`
	ModelID   string         `json:"model_id"`
	Severity  alert.Severity `json:"severity"`
	AlertType string         `json:"alert_type"`
	Title     string         `json:"title"`
	Details   map[string]any `json:"details"`
	RaisedAt  time.Time      `json:"raised_at"`
}

func (s *WebhookSink) Notify(ctx context.Context, a alert.Alert) error {
	if s.url == "" {
		return fmt.Errorf("webhook url required")
	}
	body, err := json.Marshal(webhookPayload{
		AlertID:   a.ID,
		ModelID:   a.ModelID,
		Severity:  a.Severity,
		AlertType: a.AlertType,
		Title:     a.Title,
		Details:   a.Details,
		RaisedAt:  a.RaisedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
