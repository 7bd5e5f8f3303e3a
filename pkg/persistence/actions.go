package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/actiond/pkg/models"
)

// Repository model of saved actions.
const (
	AspectActions = "act:actions"

	AssocActionFolder       = "act:actionFolder"
	AssocActions            = "act:actions"
	AssocConditions         = "act:conditions"
	AssocParameters         = "act:parameters"
	AssocCompensatingAction = "act:compensatingAction"

	TypeActionFolder             = "act:actionfolder"
	TypeAction                   = "act:action"
	TypeCompositeAction          = "act:compositeaction"
	TypeActionCondition          = "act:actioncondition"
	TypeCompositeActionCondition = "act:compositeactioncondition"
	TypeActionParameter          = "act:actionparameter"

	PropDefinitionName          = "act:definitionName"
	PropActionTitle             = "act:actionTitle"
	PropActionDescription       = "act:actionDescription"
	PropExecuteAsynchronously   = "act:executeAsynchronously"
	PropTrackStatus             = "act:trackStatus"
	PropConditionInvert         = "act:invert"
	PropConditionOr             = "act:or"
	PropParameterName           = "act:parameterName"
	PropParameterValue          = "act:parameterValue"
	PropExecutionStartDate      = "act:executionStartDate"
	PropExecutionEndDate        = "act:executionEndDate"
	PropExecutionStatus         = "act:executionActionStatus"
	PropExecutionFailureMessage = "act:executionFailureMessage"
)

// ActionStore saves action graphs as nodes: an action folder below the
// owning node holds one node per action, with conditions, parameters,
// compensating and child actions as child nodes.
type ActionStore struct {
	nodes  NodeService
	logger *slog.Logger
}

func NewActionStore(nodes NodeService, logger *slog.Logger) *ActionStore {
	return &ActionStore{
		nodes:  nodes,
		logger: logger.With("module", "action_store"),
	}
}

// Nodes returns the underlying node service.
func (s *ActionStore) Nodes() NodeService {
	return s.nodes
}

// SaveAction creates or updates the action on owningNode.
func (s *ActionStore) SaveAction(ctx context.Context, owningNode models.NodeRef, a *models.Action) error {
	exists, err := s.nodes.Exists(ctx, owningNode)
	if err != nil {
		return NewActionError("SaveAction", owningNode, a.ID(), err)
	}

	if !exists {
		return NewActionError("SaveAction", owningNode, a.ID(), ErrNodeNotFound)
	}

	actionNode, err := s.actionNodeRef(ctx, owningNode, a.ID())
	if err != nil && !errors.Is(err, ErrActionNotFound) {
		return NewActionError("SaveAction", owningNode, a.ID(), err)
	}

	if actionNode.IsZero() {
		folder, err := s.ensureActionFolder(ctx, owningNode)
		if err != nil {
			return NewActionError("SaveAction", owningNode, a.ID(), err)
		}

		actionNode, err = s.createActionNode(ctx, folder, AssocActions, a)
		if err != nil {
			return NewActionError("SaveAction", owningNode, a.ID(), err)
		}

		props, err := s.nodes.Properties(ctx, actionNode)
		if err != nil {
			return NewActionError("SaveAction", owningNode, a.ID(), err)
		}

		a.Audit.Creator, _ = props[PropCreator].(string)
		a.Audit.Created, _ = props[PropCreated].(time.Time)

		s.logger.DebugContext(ctx, "Created action node", "action_id", a.ID(), "node", actionNode.String())
	}

	if err := s.SaveActionImpl(ctx, owningNode, actionNode, a); err != nil {
		return NewActionError("SaveAction", owningNode, a.ID(), err)
	}

	return nil
}

// SaveActionImpl writes the action into an existing action node.
func (s *ActionStore) SaveActionImpl(ctx context.Context, owningNode, actionNode models.NodeRef, a *models.Action) error {
	a.OwningNodeRef = owningNode
	a.NodeRef = actionNode

	if err := s.saveActionProperties(ctx, actionNode, a); err != nil {
		return err
	}

	if err := s.saveParameters(ctx, actionNode, a.ParameterValues()); err != nil {
		return err
	}

	if err := s.saveConditions(ctx, actionNode, a.Conditions()); err != nil {
		return err
	}

	if a.IsComposite() {
		if err := s.saveActions(ctx, owningNode, actionNode, a.Actions()); err != nil {
			return err
		}
	}

	props, err := s.nodes.Properties(ctx, actionNode)
	if err != nil {
		return err
	}

	a.Audit.Modifier, _ = props[PropModifier].(string)
	a.Audit.Modified, _ = props[PropModified].(time.Time)

	return nil
}

func (s *ActionStore) createActionNode(ctx context.Context, parent models.NodeRef, assocType string, a *models.Action) (models.NodeRef, error) {
	nodeType := TypeAction
	if a.IsComposite() {
		nodeType = TypeCompositeAction
	}

	return s.nodes.CreateNode(ctx, parent, assocType, nodeType, map[string]any{
		PropDefinitionName: a.DefinitionName(),
		PropNodeUUID:       a.ID(),
	})
}

func (s *ActionStore) saveActionProperties(ctx context.Context, actionNode models.NodeRef, a *models.Action) error {
	props, err := s.nodes.Properties(ctx, actionNode)
	if err != nil {
		return err
	}

	props[PropActionTitle] = a.Title
	props[PropActionDescription] = a.Description
	props[PropExecuteAsynchronously] = a.ExecuteAsynchronously

	if a.TrackStatus != nil {
		props[PropTrackStatus] = *a.TrackStatus
	} else {
		delete(props, PropTrackStatus)
	}

	state := a.Execution()
	props[PropExecutionStatus] = string(state.Status)
	setOrDelete(props, PropExecutionStartDate, state.StartedAt, state.StartedAt.IsZero())
	setOrDelete(props, PropExecutionEndDate, state.EndedAt, state.EndedAt.IsZero())
	setOrDelete(props, PropExecutionFailureMessage, state.FailureMessage, state.FailureMessage == "")

	if err := s.nodes.SetProperties(ctx, actionNode, props); err != nil {
		return err
	}

	return s.saveCompensatingAction(ctx, actionNode, a)
}

func setOrDelete(props map[string]any, name string, value any, empty bool) {
	if empty {
		delete(props, name)

		return
	}

	props[name] = value
}

// saveCompensatingAction keeps at most one compensating action node.
func (s *ActionStore) saveCompensatingAction(ctx context.Context, actionNode models.NodeRef, a *models.Action) error {
	existing, err := s.nodes.ChildAssocs(ctx, actionNode, AssocCompensatingAction)
	if err != nil {
		return err
	}

	compensating := a.CompensatingAction

	switch {
	case len(existing) == 0 && compensating == nil:
		return nil
	case len(existing) == 0:
		ref, err := s.createActionNode(ctx, actionNode, AssocCompensatingAction, compensating)
		if err != nil {
			return err
		}

		return s.SaveActionImpl(ctx, a.OwningNodeRef, ref, compensating)
	case compensating == nil || existing[0].ID != compensating.ID():
		for _, ref := range existing {
			if err := s.nodes.RemoveChild(ctx, actionNode, ref); err != nil {
				return err
			}
		}

		if compensating == nil {
			return nil
		}

		ref, err := s.createActionNode(ctx, actionNode, AssocCompensatingAction, compensating)
		if err != nil {
			return err
		}

		return s.SaveActionImpl(ctx, a.OwningNodeRef, ref, compensating)
	default:
		return s.SaveActionImpl(ctx, a.OwningNodeRef, existing[0], compensating)
	}
}

func (s *ActionStore) saveActions(ctx context.Context, owningNode, compositeNode models.NodeRef, actions []*models.Action) error {
	children := make([]child, len(actions))

	for i, a := range actions {
		children[i] = child{
			id: a.ID(),
			create: func(ctx context.Context) (models.NodeRef, error) {
				return s.createActionNode(ctx, compositeNode, AssocActions, a)
			},
			save: func(ctx context.Context, ref models.NodeRef) error {
				return s.SaveActionImpl(ctx, owningNode, ref, a)
			},
		}
	}

	return s.saveChildren(ctx, compositeNode, AssocActions, children)
}

func (s *ActionStore) saveConditions(ctx context.Context, parent models.NodeRef, conditions []*models.ActionCondition) error {
	children := make([]child, len(conditions))

	for i, c := range conditions {
		children[i] = child{
			id: c.ID(),
			create: func(ctx context.Context) (models.NodeRef, error) {
				nodeType := TypeActionCondition
				if c.IsComposite() {
					nodeType = TypeCompositeActionCondition
				}

				return s.nodes.CreateNode(ctx, parent, AssocConditions, nodeType, map[string]any{
					PropDefinitionName: c.DefinitionName(),
					PropNodeUUID:       c.ID(),
				})
			},
			save: func(ctx context.Context, ref models.NodeRef) error {
				return s.saveCondition(ctx, ref, c)
			},
		}
	}

	return s.saveChildren(ctx, parent, AssocConditions, children)
}

func (s *ActionStore) saveCondition(ctx context.Context, conditionNode models.NodeRef, c *models.ActionCondition) error {
	if err := s.nodes.SetProperty(ctx, conditionNode, PropConditionInvert, c.Invert); err != nil {
		return err
	}

	if err := s.nodes.SetProperty(ctx, conditionNode, PropConditionOr, c.OrCombine); err != nil {
		return err
	}

	if err := s.saveParameters(ctx, conditionNode, c.ParameterValues()); err != nil {
		return err
	}

	if c.IsComposite() {
		return s.saveConditions(ctx, conditionNode, c.Conditions())
	}

	return nil
}

// saveParameters keeps one parameter node per named value.
func (s *ActionStore) saveParameters(ctx context.Context, parent models.NodeRef, values map[string]any) error {
	remaining := CopyProperties(values)

	existing, err := s.nodes.ChildAssocs(ctx, parent, AssocParameters)
	if err != nil {
		return err
	}

	for _, ref := range existing {
		props, err := s.nodes.Properties(ctx, ref)
		if err != nil {
			return err
		}

		name, _ := props[PropParameterName].(string)

		value, ok := remaining[name]
		if !ok {
			if err := s.nodes.RemoveChild(ctx, parent, ref); err != nil {
				return err
			}

			continue
		}

		props[PropParameterValue] = value
		if err := s.nodes.SetProperties(ctx, ref, props); err != nil {
			return err
		}

		delete(remaining, name)
	}

	names := make([]string, 0, len(remaining))
	for name := range remaining {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		_, err := s.nodes.CreateNode(ctx, parent, AssocParameters, TypeActionParameter, map[string]any{
			PropParameterName:  name,
			PropParameterValue: remaining[name],
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// child is one ordered item saved below a parent node. Node ids equal item ids.
type child struct {
	id     string
	create func(ctx context.Context) (models.NodeRef, error)
	save   func(ctx context.Context, ref models.NodeRef) error
}

// saveChildren removes stale children, updates kept ones and creates new
// ones. When the stored order cannot match the item order by appending, the
// children are rebuilt.
func (s *ActionStore) saveChildren(ctx context.Context, parent models.NodeRef, assocType string, items []child) error {
	wanted := make(map[string]bool, len(items))
	order := make([]string, len(items))

	for i, item := range items {
		wanted[item.id] = true
		order[i] = item.id
	}

	existing, err := s.nodes.ChildAssocs(ctx, parent, assocType)
	if err != nil {
		return err
	}

	kept := make(map[string]models.NodeRef, len(existing))
	keptOrder := make([]string, 0, len(existing))

	for _, ref := range existing {
		if !wanted[ref.ID] {
			if err := s.nodes.RemoveChild(ctx, parent, ref); err != nil {
				return err
			}

			continue
		}

		kept[ref.ID] = ref
		keptOrder = append(keptOrder, ref.ID)
	}

	// kept children must lead the item order, new ones are appended after them
	if !slices.Equal(keptOrder, order[:min(len(keptOrder), len(order))]) {
		for _, ref := range kept {
			if err := s.nodes.RemoveChild(ctx, parent, ref); err != nil {
				return err
			}
		}

		clear(kept)
	}

	for _, item := range items {
		ref, ok := kept[item.id]
		if !ok {
			if ref, err = item.create(ctx); err != nil {
				return err
			}
		}

		if err := item.save(ctx, ref); err != nil {
			return fmt.Errorf("save %s %s: %w", assocType, item.id, err)
		}
	}

	return nil
}

// Actions returns the actions saved on owningNode in save order.
func (s *ActionStore) Actions(ctx context.Context, owningNode models.NodeRef) ([]*models.Action, error) {
	folder, err := s.actionFolder(ctx, owningNode)
	if err != nil {
		if errors.Is(err, ErrActionNotFound) {
			return nil, nil
		}

		return nil, NewActionError("Actions", owningNode, "", err)
	}

	refs, err := s.nodes.ChildAssocs(ctx, folder, AssocActions)
	if err != nil {
		return nil, NewActionError("Actions", owningNode, "", err)
	}

	actions := make([]*models.Action, 0, len(refs))

	for _, ref := range refs {
		a, err := s.createAction(ctx, owningNode, ref)
		if err != nil {
			return nil, NewActionError("Actions", owningNode, ref.ID, err)
		}

		actions = append(actions, a)
	}

	return actions, nil
}

func (s *ActionStore) Action(ctx context.Context, owningNode models.NodeRef, actionID string) (*models.Action, error) {
	ref, err := s.actionNodeRef(ctx, owningNode, actionID)
	if err != nil {
		return nil, NewActionError("Action", owningNode, actionID, err)
	}

	a, err := s.createAction(ctx, owningNode, ref)
	if err != nil {
		return nil, NewActionError("Action", owningNode, actionID, err)
	}

	return a, nil
}

func (s *ActionStore) RemoveAction(ctx context.Context, owningNode models.NodeRef, a *models.Action) error {
	ref, err := s.actionNodeRef(ctx, owningNode, a.ID())
	if errors.Is(err, ErrActionNotFound) {
		return nil
	}

	if err != nil {
		return NewActionError("RemoveAction", owningNode, a.ID(), err)
	}

	folder, err := s.nodes.PrimaryParent(ctx, ref)
	if err != nil {
		return NewActionError("RemoveAction", owningNode, a.ID(), err)
	}

	if err := s.nodes.RemoveChild(ctx, folder, ref); err != nil {
		return NewActionError("RemoveAction", owningNode, a.ID(), err)
	}

	return nil
}

func (s *ActionStore) RemoveAllActions(ctx context.Context, owningNode models.NodeRef) error {
	folder, err := s.actionFolder(ctx, owningNode)
	if errors.Is(err, ErrActionNotFound) {
		return nil
	}

	if err != nil {
		return NewActionError("RemoveAllActions", owningNode, "", err)
	}

	refs, err := s.nodes.ChildAssocs(ctx, folder, AssocActions)
	if err != nil {
		return NewActionError("RemoveAllActions", owningNode, "", err)
	}

	for _, ref := range refs {
		if err := s.nodes.RemoveChild(ctx, folder, ref); err != nil {
			return NewActionError("RemoveAllActions", owningNode, ref.ID, err)
		}
	}

	return nil
}

// LoadAction reads the action stored at actionNode. The owning node is the
// closest ancestor carrying the actions aspect.
func (s *ActionStore) LoadAction(ctx context.Context, actionNode models.NodeRef) (*models.Action, error) {
	nodeType, err := s.nodes.NodeType(ctx, actionNode)
	if err != nil {
		return nil, NewNodeError("LoadAction", actionNode, err)
	}

	if nodeType != TypeAction && nodeType != TypeCompositeAction {
		return nil, NewNodeError("LoadAction", actionNode, ErrNotActionNode)
	}

	owner, err := s.owningNode(ctx, actionNode)
	if err != nil {
		return nil, NewNodeError("LoadAction", actionNode, err)
	}

	a, err := s.createAction(ctx, owner, actionNode)
	if err != nil {
		return nil, NewNodeError("LoadAction", actionNode, err)
	}

	return a, nil
}

func (s *ActionStore) owningNode(ctx context.Context, ref models.NodeRef) (models.NodeRef, error) {
	current := ref

	for {
		parent, err := s.nodes.PrimaryParent(ctx, current)
		if err != nil {
			return models.NodeRef{}, err
		}

		if parent.IsZero() {
			return models.NodeRef{}, nil
		}

		ok, err := s.nodes.HasAspect(ctx, parent, AspectActions)
		if err != nil {
			return models.NodeRef{}, err
		}

		if ok {
			return parent, nil
		}

		current = parent
	}
}

func (s *ActionStore) createAction(ctx context.Context, owningNode, actionNode models.NodeRef) (*models.Action, error) {
	nodeType, err := s.nodes.NodeType(ctx, actionNode)
	if err != nil {
		return nil, err
	}

	props, err := s.nodes.Properties(ctx, actionNode)
	if err != nil {
		return nil, err
	}

	var a *models.Action

	if nodeType == TypeCompositeAction {
		a = models.NewCompositeAction(actionNode.ID)
	} else {
		definitionName, _ := props[PropDefinitionName].(string)
		a = models.NewAction(actionNode.ID, definitionName)
	}

	a.OwningNodeRef = owningNode
	a.NodeRef = actionNode
	a.Title, _ = props[PropActionTitle].(string)
	a.Description, _ = props[PropActionDescription].(string)
	a.ExecuteAsynchronously, _ = props[PropExecuteAsynchronously].(bool)

	if track, ok := props[PropTrackStatus].(bool); ok {
		a.TrackStatus = &track
	}

	a.Audit.Creator, _ = props[PropCreator].(string)
	a.Audit.Created, _ = props[PropCreated].(time.Time)
	a.Audit.Modifier, _ = props[PropModifier].(string)
	a.Audit.Modified, _ = props[PropModified].(time.Time)

	a.UpdateExecution(func(st *models.ExecutionState) {
		if status, ok := props[PropExecutionStatus].(string); ok && status != "" {
			st.Status = models.ActionStatus(status)
		}

		st.StartedAt, _ = props[PropExecutionStartDate].(time.Time)
		st.EndedAt, _ = props[PropExecutionEndDate].(time.Time)
		st.FailureMessage, _ = props[PropExecutionFailureMessage].(string)
	})

	compensating, err := s.nodes.ChildAssocs(ctx, actionNode, AssocCompensatingAction)
	if err != nil {
		return nil, err
	}

	if len(compensating) > 0 {
		if a.CompensatingAction, err = s.createAction(ctx, owningNode, compensating[0]); err != nil {
			return nil, err
		}
	}

	params, err := s.parameters(ctx, actionNode)
	if err != nil {
		return nil, err
	}

	a.SetParameterValues(params)

	conditions, err := s.conditions(ctx, actionNode)
	if err != nil {
		return nil, err
	}

	for _, c := range conditions {
		a.AddCondition(c)
	}

	if a.IsComposite() {
		refs, err := s.nodes.ChildAssocs(ctx, actionNode, AssocActions)
		if err != nil {
			return nil, err
		}

		for _, ref := range refs {
			child, err := s.createAction(ctx, owningNode, ref)
			if err != nil {
				return nil, err
			}

			a.AddAction(child)
		}
	}

	return a, nil
}

func (s *ActionStore) conditions(ctx context.Context, parent models.NodeRef) ([]*models.ActionCondition, error) {
	refs, err := s.nodes.ChildAssocs(ctx, parent, AssocConditions)
	if err != nil {
		return nil, err
	}

	conditions := make([]*models.ActionCondition, 0, len(refs))

	for _, ref := range refs {
		nodeType, err := s.nodes.NodeType(ctx, ref)
		if err != nil {
			return nil, err
		}

		props, err := s.nodes.Properties(ctx, ref)
		if err != nil {
			return nil, err
		}

		var c *models.ActionCondition

		if nodeType == TypeCompositeActionCondition {
			c = models.NewCompositeActionCondition(ref.ID)

			children, err := s.conditions(ctx, ref)
			if err != nil {
				return nil, err
			}

			for _, child := range children {
				c.AddCondition(child)
			}
		} else {
			definitionName, _ := props[PropDefinitionName].(string)
			c = models.NewActionCondition(ref.ID, definitionName)
		}

		c.Invert, _ = props[PropConditionInvert].(bool)
		c.OrCombine, _ = props[PropConditionOr].(bool)

		params, err := s.parameters(ctx, ref)
		if err != nil {
			return nil, err
		}

		c.SetParameterValues(params)

		conditions = append(conditions, c)
	}

	return conditions, nil
}

func (s *ActionStore) parameters(ctx context.Context, parent models.NodeRef) (map[string]any, error) {
	refs, err := s.nodes.ChildAssocs(ctx, parent, AssocParameters)
	if err != nil {
		return nil, err
	}

	params := make(map[string]any, len(refs))

	for _, ref := range refs {
		props, err := s.nodes.Properties(ctx, ref)
		if err != nil {
			return nil, err
		}

		name, _ := props[PropParameterName].(string)
		params[name] = props[PropParameterValue]
	}

	return params, nil
}

// actionFolder returns the folder holding the actions of owningNode, or
// ErrActionNotFound when the node has none.
func (s *ActionStore) actionFolder(ctx context.Context, owningNode models.NodeRef) (models.NodeRef, error) {
	exists, err := s.nodes.Exists(ctx, owningNode)
	if err != nil {
		return models.NodeRef{}, err
	}

	if !exists {
		return models.NodeRef{}, ErrActionNotFound
	}

	ok, err := s.nodes.HasAspect(ctx, owningNode, AspectActions)
	if err != nil {
		return models.NodeRef{}, err
	}

	if !ok {
		return models.NodeRef{}, ErrActionNotFound
	}

	folders, err := s.nodes.ChildAssocs(ctx, owningNode, AssocActionFolder)
	if err != nil {
		return models.NodeRef{}, err
	}

	if len(folders) == 0 {
		return models.NodeRef{}, ErrActionNotFound
	}

	return folders[0], nil
}

func (s *ActionStore) ensureActionFolder(ctx context.Context, owningNode models.NodeRef) (models.NodeRef, error) {
	folder, err := s.actionFolder(ctx, owningNode)
	if err == nil {
		return folder, nil
	}

	if !errors.Is(err, ErrActionNotFound) {
		return models.NodeRef{}, err
	}

	ok, err := s.nodes.HasAspect(ctx, owningNode, AspectActions)
	if err != nil {
		return models.NodeRef{}, err
	}

	if !ok {
		if err := s.nodes.AddAspect(ctx, owningNode, AspectActions); err != nil {
			return models.NodeRef{}, err
		}
	}

	return s.nodes.CreateNode(ctx, owningNode, AssocActionFolder, TypeActionFolder, nil)
}

func (s *ActionStore) actionNodeRef(ctx context.Context, owningNode models.NodeRef, actionID string) (models.NodeRef, error) {
	folder, err := s.actionFolder(ctx, owningNode)
	if err != nil {
		return models.NodeRef{}, err
	}

	refs, err := s.nodes.ChildAssocs(ctx, folder, AssocActions)
	if err != nil {
		return models.NodeRef{}, err
	}

	for _, ref := range refs {
		if ref.ID == actionID {
			return ref, nil
		}
	}

	return models.NodeRef{}, ErrActionNotFound
}
