package notifier

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/spanlight/spanlight/internal/models"
)

// RouteMatcher compiles and evaluates a channel route expression
// against an alert transition. Expressions see lowercased enum fields,
// e.g. `severity in ["critical", "high"] && state == "firing"`.
type RouteMatcher struct {
	expression string
	program    *vm.Program
}

// NewRouteMatcher compiles the given expression.
func NewRouteMatcher(expression string) (*RouteMatcher, error) {
	// Compile against a sample environment so type errors surface here
	// instead of at dispatch time. expr-lang ships the contains,
	// startsWith, and endsWith operators.
	program, err := expr.Compile(expression,
		expr.Env(routeSampleEnv()),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile route expression: %w", err)
	}
	return &RouteMatcher{expression: expression, program: program}, nil
}

// Match evaluates the expression against one alert transition.
func (m *RouteMatcher) Match(alert *models.Alert, trigger *models.AlertTrigger) (bool, error) {
	result, err := expr.Run(m.program, routeEnv(alert, trigger))
	if err != nil {
		return false, fmt.Errorf("evaluate route expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("route expression did not return bool: got %T", result)
	}
	return matched, nil
}

// Expression returns the original expression string.
func (m *RouteMatcher) Expression() string {
	return m.expression
}

// routeSampleEnv is the typed environment route expressions compile
// against.
func routeSampleEnv() map[string]any {
	return map[string]any{
		"name":       "",
		"project_id": "",
		"severity":   "",
		"state":      "",
		"type":       "",
		"value":      float64(0),
		"threshold":  float64(0),
	}
}

// routeEnv builds the evaluation environment from a transition.
func routeEnv(alert *models.Alert, trigger *models.AlertTrigger) map[string]any {
	return map[string]any{
		"name":       alert.Name,
		"project_id": alert.ProjectID,
		"severity":   strings.ToLower(string(alert.Severity)),
		"state":      strings.ToLower(string(trigger.State)),
		"type":       strings.ToLower(string(alert.Type)),
		"value":      trigger.Value,
		"threshold":  trigger.Threshold,
	}
}
