package models

import (
	"time"
)

// ChannelType represents the delivery mechanism of a channel.
type ChannelType string

const (
	ChannelTypeWebhook ChannelType = "webhook"
	ChannelTypeSlack   ChannelType = "slack"
	ChannelTypeLog     ChannelType = "log"
)

// NotificationChannel represents a destination for alert notifications.
type NotificationChannel struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`

	// ConfigEncrypted holds the channel settings (URL, tokens) as an
	// AES-GCM encrypted JSON blob. Never exposed over the API.
	ConfigEncrypted []byte `json:"-"`

	// RouteExpr is an optional boolean expression evaluated against a
	// notification; empty means the channel accepts everything.
	RouteExpr string `json:"route_expr,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewNotificationChannel creates a new channel with initialized timestamps.
func NewNotificationChannel(projectID, name string, chanType ChannelType) *NotificationChannel {
	now := time.Now()
	return &NotificationChannel{
		ProjectID: projectID,
		Name:      name,
		Type:      chanType,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ChannelConfig is the decrypted settings payload of a channel.
type ChannelConfig struct {
	// URL is the webhook or Slack endpoint to deliver to.
	URL string `json:"url,omitempty"`

	// Secret is sent as a bearer token on webhook deliveries.
	Secret string `json:"secret,omitempty"`
}

// ParseChannelType converts a string to ChannelType.
func ParseChannelType(s string) ChannelType {
	switch s {
	case "webhook":
		return ChannelTypeWebhook
	case "slack":
		return ChannelTypeSlack
	case "log":
		return ChannelTypeLog
	default:
		return ChannelTypeWebhook
	}
}
