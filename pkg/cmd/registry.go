// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/actiond/pkg/evaluators"
	"github.com/dukex/actiond/pkg/executors"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/registry"
)

func registerExecutorPlugins(reg *registry.Registry, pluginsPath string) error {
	plugins, err := reg.LoadExecutorPlugins(pluginsPath)
	if err != nil {
		return err
	}

	for _, plugin := range plugins {
		if err := reg.RegisterExecutor(plugin); err != nil {
			return err
		}
	}

	return nil
}

func registerEvaluatorPlugins(reg *registry.Registry, pluginsPath string) error {
	plugins, err := reg.LoadEvaluatorPlugins(pluginsPath)
	if err != nil {
		return err
	}

	for _, plugin := range plugins {
		if err := reg.RegisterEvaluator(plugin); err != nil {
			return err
		}
	}

	return nil
}

// NewRegistry registers the built-in executors and evaluators, then the
// plugins found under pluginsPath. Plugins replace built-ins of the same name.
func NewRegistry(logger *slog.Logger, pluginsPath string, nodes persistence.NodeService, sleep *executors.Sleep) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	if err := executors.Register(reg, nodes, logger); err != nil {
		return nil, err
	}

	if sleep != nil {
		if err := reg.RegisterExecutor(sleep); err != nil {
			return nil, err
		}
	}

	if err := evaluators.Register(reg, nodes, logger); err != nil {
		return nil, err
	}

	if pluginsPath == "" {
		return reg, nil
	}

	if err := registerExecutorPlugins(reg, pluginsPath); err != nil {
		return nil, fmt.Errorf("failed to load executor plugins: %w", err)
	}

	if err := registerEvaluatorPlugins(reg, pluginsPath); err != nil {
		return nil, fmt.Errorf("failed to load evaluator plugins: %w", err)
	}

	return reg, nil
}
