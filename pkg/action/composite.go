package action

import (
	"context"

	"github.com/dukex/actiond/pkg/models"
)

// compositeExecutor runs the children of a composite action in order. Each
// child checks its own conditions and the first failure stops the rest.
type compositeExecutor struct {
	service    *Service
	definition *models.ActionDefinition
}

func newCompositeExecutor(s *Service) *compositeExecutor {
	// the name is a non-empty constant and there are no parameters, so this cannot fail
	def, _ := models.NewActionDefinition(models.CompositeActionName)
	def.Title = "Composite action"
	def.Description = "Executes a sequence of actions"

	return &compositeExecutor{service: s, definition: def}
}

func (e *compositeExecutor) Definition() *models.ActionDefinition {
	return e.definition
}

func (e *compositeExecutor) Execute(ctx context.Context, a *models.Action, target models.NodeRef) error {
	chain := models.ActionChainFromContext(ctx)

	for _, child := range a.Actions() {
		if err := e.service.ExecuteActionImpl(ctx, child, target, true, false, chain); err != nil {
			return err
		}
	}

	return nil
}
