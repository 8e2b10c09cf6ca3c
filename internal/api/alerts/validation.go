package alerts

import (
	"errors"
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

func ValidateType(t string) (models.AlertType, error) {
	switch t {
	case "ERROR_RATE", "LATENCY_P50", "LATENCY_P95", "LATENCY_P99":
		return models.AlertType(t), nil
	default:
		return "", errors.New("type must be 'ERROR_RATE', 'LATENCY_P50', 'LATENCY_P95', or 'LATENCY_P99'")
	}
}

func ValidateOperator(op string) (models.AlertOperator, error) {
	switch op {
	case "GREATER_THAN", "LESS_THAN":
		return models.AlertOperator(op), nil
	default:
		return "", errors.New("operator must be 'GREATER_THAN' or 'LESS_THAN'")
	}
}

func ValidateSeverity(s string) (models.Severity, error) {
	switch s {
	case "CRITICAL", "HIGH", "MEDIUM", "LOW":
		return models.Severity(s), nil
	default:
		return "", errors.New("severity must be 'CRITICAL', 'HIGH', 'MEDIUM', or 'LOW'")
	}
}
