package channels

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spanlight/spanlight/internal/models"
)

func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > 100 {
		return errors.New("name must be 100 characters or less")
	}
	return nil
}

func ValidateType(chanType string) (models.ChannelType, error) {
	switch chanType {
	case "webhook":
		return models.ChannelTypeWebhook, nil
	case "slack":
		return models.ChannelTypeSlack, nil
	case "log":
		return models.ChannelTypeLog, nil
	default:
		return "", fmt.Errorf("invalid type: must be webhook, slack, or log")
	}
}

// ValidateConfig checks the settings payload for a channel type.
// Delivery URLs must be https: payloads carry alert details and the
// webhook secret rides along as a bearer token.
func ValidateConfig(chanType models.ChannelType, config *models.ChannelConfig) error {
	switch chanType {
	case models.ChannelTypeLog:
		return nil
	case models.ChannelTypeWebhook, models.ChannelTypeSlack:
		if config == nil || strings.TrimSpace(config.URL) == "" {
			return fmt.Errorf("config.url is required for %s channels", chanType)
		}
		u, err := url.Parse(strings.TrimSpace(config.URL))
		if err != nil || u.Host == "" {
			return errors.New("config.url is not a valid URL")
		}
		if u.Scheme != "https" {
			return errors.New("config.url must use https")
		}
		return nil
	default:
		return fmt.Errorf("invalid type: %s", chanType)
	}
}
