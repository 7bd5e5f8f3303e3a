// Package action is the orchestration layer for configured actions: it
// evaluates conditions, runs executors synchronously or after commit on an
// asynchronous queue, tracks status and guards against re-entrant loops.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/otelhelper"
	"github.com/dukex/actiond/pkg/queue"
	"github.com/dukex/actiond/pkg/registry"
	"github.com/dukex/actiond/pkg/stats"
	"github.com/dukex/actiond/pkg/tracking"
	"github.com/dukex/actiond/pkg/validation"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// DefaultQueueName is used by executors that do not name a queue.
const DefaultQueueName = "default"

// Store persists actions against owning nodes.
type Store interface {
	SaveAction(ctx context.Context, owningNode models.NodeRef, action *models.Action) error
	Actions(ctx context.Context, owningNode models.NodeRef) ([]*models.Action, error)
	Action(ctx context.Context, owningNode models.NodeRef, actionID string) (*models.Action, error)
	RemoveAction(ctx context.Context, owningNode models.NodeRef, action *models.Action) error
	RemoveAllActions(ctx context.Context, owningNode models.NodeRef) error
	LoadAction(ctx context.Context, actionNode models.NodeRef) (*models.Action, error)
}

// NodeTypeResolver resolves the type of a target node.
type NodeTypeResolver interface {
	NodeType(ctx context.Context, ref models.NodeRef) (string, error)
}

type Service struct {
	logger    *slog.Logger
	registry  *registry.Registry
	tracking  *tracking.Service
	queues    map[string]*queue.Queue
	store     Store
	nodeTypes NodeTypeResolver
	validator *validation.Validator
	stats     *stats.Statistics
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

// WithQueue registers q under its name. A queue named DefaultQueueName
// serves every executor without a queue of its own.
func WithQueue(q *queue.Queue) Option {
	return func(s *Service) { s.queues[q.Name()] = q }
}

func WithStore(store Store) Option {
	return func(s *Service) { s.store = store }
}

func WithNodeTypes(resolver NodeTypeResolver) Option {
	return func(s *Service) { s.nodeTypes = resolver }
}

func WithValidator(v *validation.Validator) Option {
	return func(s *Service) { s.validator = v }
}

func WithStatistics(st *stats.Statistics) Option {
	return func(s *Service) { s.stats = st }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

func NewService(reg *registry.Registry, tracker *tracking.Service, logger *slog.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		logger:   logger.With("module", "action_service"),
		registry: reg,
		tracking: tracker,
		queues:   make(map[string]*queue.Queue),
		tracer:   otelhelper.NoopTracer(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := reg.RegisterExecutor(newCompositeExecutor(s)); err != nil {
		return nil, fmt.Errorf("register composite executor: %w", err)
	}

	return s, nil
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

func (s *Service) Tracking() *tracking.Service {
	return s.tracking
}

func (s *Service) ActionDefinition(name string) (*models.ActionDefinition, bool) {
	return s.registry.ActionDefinition(name)
}

func (s *Service) ActionDefinitions() []*models.ActionDefinition {
	return s.registry.ActionDefinitions()
}

// ActionDefinitionsFor returns the definitions applicable to nodeType.
func (s *Service) ActionDefinitionsFor(nodeType string) []*models.ActionDefinition {
	return slices.DeleteFunc(s.registry.ActionDefinitions(), func(d *models.ActionDefinition) bool {
		return !d.AppliesTo(nodeType)
	})
}

func (s *Service) ConditionDefinition(name string) (*models.ConditionDefinition, bool) {
	return s.registry.ConditionDefinition(name)
}

func (s *Service) ConditionDefinitions() []*models.ConditionDefinition {
	return s.registry.ConditionDefinitions()
}

// CreateAction builds a new action with a generated id. The definition must be registered.
func (s *Service) CreateAction(name string) (*models.Action, error) {
	if name == models.CompositeActionName {
		return s.CreateCompositeAction(), nil
	}

	if _, err := s.registry.Executor(name); err != nil {
		return nil, &ServiceError{Op: "CreateAction", Err: err}
	}

	return models.NewAction(uuid.NewString(), name), nil
}

// CreateActionWithParameters builds an action and sets its parameters.
func (s *Service) CreateActionWithParameters(name string, params map[string]any) (*models.Action, error) {
	a, err := s.CreateAction(name)
	if err != nil {
		return nil, err
	}

	a.SetParameterValues(params)

	return a, nil
}

func (s *Service) CreateCompositeAction() *models.Action {
	return models.NewCompositeAction(uuid.NewString())
}

func (s *Service) CreateActionCondition(name string) (*models.ActionCondition, error) {
	if name == models.CompositeConditionName {
		return s.CreateCompositeActionCondition(), nil
	}

	if _, err := s.registry.Evaluator(name); err != nil {
		return nil, &ServiceError{Op: "CreateActionCondition", Err: err}
	}

	return models.NewActionCondition(uuid.NewString(), name), nil
}

func (s *Service) CreateCompositeActionCondition() *models.ActionCondition {
	return models.NewCompositeActionCondition(uuid.NewString())
}

// trackStatus falls back from the action's own setting to its definition,
// and to false when neither says.
func (s *Service) trackStatus(a *models.Action) bool {
	if a.TrackStatus != nil {
		return *a.TrackStatus
	}

	if def, ok := s.registry.ActionDefinition(a.DefinitionName()); ok {
		return def.TrackStatus
	}

	return false
}

func (s *Service) queueFor(a *models.Action) (*queue.Queue, error) {
	name := DefaultQueueName

	if def, ok := s.registry.ActionDefinition(a.DefinitionName()); ok && def.QueueName != "" {
		name = def.QueueName
	}

	q, ok := s.queues[name]
	if !ok {
		return nil, fmt.Errorf("queue '%s': %w", name, ErrUnknownQueue)
	}

	return q, nil
}

// Queues returns the registered queue names, sorted.
func (s *Service) Queues() []string {
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// the store methods below delegate to the configured Store

func (s *Service) SaveAction(ctx context.Context, owningNode models.NodeRef, a *models.Action) error {
	if s.store == nil {
		return ErrNoStore
	}

	return s.store.SaveAction(ctx, owningNode, a)
}

func (s *Service) Actions(ctx context.Context, owningNode models.NodeRef) ([]*models.Action, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	return s.store.Actions(ctx, owningNode)
}

func (s *Service) Action(ctx context.Context, owningNode models.NodeRef, actionID string) (*models.Action, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	return s.store.Action(ctx, owningNode, actionID)
}

func (s *Service) RemoveAction(ctx context.Context, owningNode models.NodeRef, a *models.Action) error {
	if s.store == nil {
		return ErrNoStore
	}

	return s.store.RemoveAction(ctx, owningNode, a)
}

func (s *Service) RemoveAllActions(ctx context.Context, owningNode models.NodeRef) error {
	if s.store == nil {
		return ErrNoStore
	}

	return s.store.RemoveAllActions(ctx, owningNode)
}

func (s *Service) LoadAction(ctx context.Context, actionNode models.NodeRef) (*models.Action, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	return s.store.LoadAction(ctx, actionNode)
}
