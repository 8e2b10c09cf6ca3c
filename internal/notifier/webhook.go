package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/pkg/config"
)

// WebhookSender delivers notifications as JSON POSTs to a
// channel-configured endpoint.
type WebhookSender struct {
	httpClient *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender() *WebhookSender {
	return &WebhookSender{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the webhook channel type.
func (s *WebhookSender) Type() models.ChannelType {
	return models.ChannelTypeWebhook
}

// webhookPayload is the JSON body delivered to webhook endpoints.
type webhookPayload struct {
	TriggerID   string    `json:"trigger_id"`
	AlertID     string    `json:"alert_id"`
	AlertName   string    `json:"alert_name"`
	ProjectID   string    `json:"project_id"`
	State       string    `json:"state"`
	Severity    string    `json:"severity"`
	Type        string    `json:"type"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Send posts the notification to the configured URL. The channel
// secret, when set, is sent as a bearer token.
func (s *WebhookSender) Send(ctx context.Context, cfg models.ChannelConfig, alert *models.Alert, trigger *models.AlertTrigger) error {
	if cfg.URL == "" {
		return fmt.Errorf("webhook URL is not configured")
	}

	payload := webhookPayload{
		TriggerID:   trigger.ID,
		AlertID:     alert.ID,
		AlertName:   alert.Name,
		ProjectID:   alert.ProjectID,
		State:       string(trigger.State),
		Severity:    string(alert.Severity),
		Type:        string(alert.Type),
		Value:       trigger.Value,
		Threshold:   trigger.Threshold,
		TriggeredAt: trigger.TriggeredAt,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())
	if cfg.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Secret)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}
