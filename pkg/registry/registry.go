package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/protocol"
)

var (
	ErrNotRegistered     = errors.New("not registered")
	ErrInvalidDefinition = errors.New("invalid definition")
)

// Registry maps definition names to the executors and evaluators that implement them.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	executors  map[string]protocol.ActionExecutor
	evaluators map[string]protocol.ConditionEvaluator
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:     log.With("module", "registry"),
		executors:  make(map[string]protocol.ActionExecutor),
		evaluators: make(map[string]protocol.ConditionEvaluator),
	}
}

func (r *Registry) LoadExecutorPlugins(pluginsPath string) ([]protocol.ActionExecutor, error) {
	return loadPlugin[protocol.ActionExecutor](r.logger, pluginsPath, "Executor")
}

func (r *Registry) LoadEvaluatorPlugins(pluginsPath string) ([]protocol.ConditionEvaluator, error) {
	return loadPlugin[protocol.ConditionEvaluator](r.logger, pluginsPath, "Evaluator")
}

// RegisterExecutor replaces any executor already registered under the same name.
func (r *Registry) RegisterExecutor(executor protocol.ActionExecutor) error {
	def := executor.Definition()
	if def == nil || def.Name == "" {
		return fmt.Errorf("action executor %T: %w", executor, ErrInvalidDefinition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[def.Name] = executor
	r.logger.Debug("Registered action executor", "name", def.Name)

	return nil
}

func (r *Registry) RegisterEvaluator(evaluator protocol.ConditionEvaluator) error {
	def := evaluator.Definition()
	if def == nil || def.Name == "" {
		return fmt.Errorf("condition evaluator %T: %w", evaluator, ErrInvalidDefinition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evaluators[def.Name] = evaluator
	r.logger.Debug("Registered condition evaluator", "name", def.Name)

	return nil
}

func (r *Registry) Executor(name string) (protocol.ActionExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("action type '%s' %w", name, ErrNotRegistered)
	}

	return executor, nil
}

func (r *Registry) Evaluator(name string) (protocol.ConditionEvaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	evaluator, ok := r.evaluators[name]
	if !ok {
		return nil, fmt.Errorf("condition type '%s' %w", name, ErrNotRegistered)
	}

	return evaluator, nil
}

func (r *Registry) ActionDefinition(name string) (*models.ActionDefinition, bool) {
	executor, err := r.Executor(name)
	if err != nil {
		return nil, false
	}

	return executor.Definition(), true
}

// ActionDefinitions returns every registered action definition sorted by name.
func (r *Registry) ActionDefinitions() []*models.ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*models.ActionDefinition, 0, len(r.executors))
	for _, e := range r.executors {
		defs = append(defs, e.Definition())
	}

	slices.SortFunc(defs, func(a, b *models.ActionDefinition) int { return strings.Compare(a.Name, b.Name) })

	return defs
}

func (r *Registry) ConditionDefinition(name string) (*models.ConditionDefinition, bool) {
	evaluator, err := r.Evaluator(name)
	if err != nil {
		return nil, false
	}

	return evaluator.Definition(), true
}

func (r *Registry) ConditionDefinitions() []*models.ConditionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*models.ConditionDefinition, 0, len(r.evaluators))
	for _, e := range r.evaluators {
		defs = append(defs, e.Definition())
	}

	slices.SortFunc(defs, func(a, b *models.ConditionDefinition) int { return strings.Compare(a.Name, b.Name) })

	return defs
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))
	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("lookup %s in plugin %s: %w", symbolName, p, err)
		}

		// exported variables are looked up as pointers
		var castV T
		switch sym := v.(type) {
		case T:
			castV = sym
		case *T:
			castV = *sym
		default:
			return nil, fmt.Errorf("plugin %s: symbol %s has type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
