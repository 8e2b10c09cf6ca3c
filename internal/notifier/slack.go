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

// SlackSender sends notifications to Slack incoming webhooks using
// Block Kit messages.
type SlackSender struct {
	httpClient *http.Client
}

// NewSlackSender creates a Slack sender.
func NewSlackSender() *SlackSender {
	return &SlackSender{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the slack channel type.
func (s *SlackSender) Type() models.ChannelType {
	return models.ChannelTypeSlack
}

// Send posts the notification to the configured Slack webhook. URL
// shape is validated when the channel is created.
func (s *SlackSender) Send(ctx context.Context, cfg models.ChannelConfig, alert *models.Alert, trigger *models.AlertTrigger) error {
	if cfg.URL == "" {
		return fmt.Errorf("slack webhook URL is not configured")
	}

	jsonData, err := json.Marshal(buildSlackMessage(alert, trigger))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildSlackMessage builds the Block Kit message for one transition.
func buildSlackMessage(alert *models.Alert, trigger *models.AlertTrigger) slackMessage {
	emoji := severityEmoji(alert.Severity)
	verb := "firing"
	if trigger.State == models.StateResolved {
		emoji = "✅" // check mark
		verb = "resolved"
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s Spanlight Alert %s: %s", emoji, verb, alert.Name),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Severity:*\n%s %s", emoji, string(alert.Severity)),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Time:*\n%s", trigger.TriggeredAt.Format("2006-01-02 15:04:05 MST")),
				},
			},
		},
		{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s:* %.2f (threshold %.2f over %dm window)",
					alert.Type, trigger.Value, trigger.Threshold, alert.WindowMins),
			},
		},
	}

	if alert.Description != "" {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("Rule: %s", alert.Description),
				},
			},
		})
	}

	blocks = append(blocks, slackBlock{
		Type: "context",
		Elements: []slackText{
			{
				Type: "mrkdwn",
				Text: fmt.Sprintf("Project: %s", alert.ProjectID),
			},
		},
	})

	return slackMessage{Blocks: blocks}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case models.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case models.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
