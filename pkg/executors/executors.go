// Package executors holds the built-in action executors.
package executors

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/protocol"
	"github.com/dukex/actiond/pkg/registry"
)

var ErrInvalidParameter = errors.New("invalid action parameter")

// Register adds every built-in executor that needs no extra wiring to reg.
func Register(reg *registry.Registry, nodes persistence.NodeService, logger *slog.Logger) error {
	all := []protocol.ActionExecutor{
		NewAddFeatures(nodes, logger),
		NewSetPropertyValue(nodes, logger),
	}

	for _, executor := range all {
		if err := reg.RegisterExecutor(executor); err != nil {
			return fmt.Errorf("register executor '%s': %w", executor.Definition().Name, err)
		}
	}

	return nil
}

func mustDefinition(name, title, description string, params ...models.ParameterDefinition) *models.ActionDefinition {
	def, err := models.NewActionDefinition(name, params...)
	if err != nil {
		panic(err)
	}

	def.Title = title
	def.Description = description

	return def
}

func stringParam(a *models.Action, name string) (string, error) {
	value, ok := a.ParameterValue(name).(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: '%s' must be a non-empty string", ErrInvalidParameter, name)
	}

	return value, nil
}
