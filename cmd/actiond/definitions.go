package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dukex/actiond/pkg/cmd"
	"github.com/dukex/actiond/pkg/log"
	"github.com/dukex/actiond/pkg/persistence/memory"
	"github.com/dukex/actiond/pkg/registry"
	cli "github.com/urfave/cli/v3"
)

func NewDefinitionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "definitions",
		Usage: "List the registered action and condition definitions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing executor and evaluator plugins",
				Value:   "",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("actiond-definitions")

			nodes := memory.NewPersistence(logger)
			defer func() {
				if err := nodes.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			reg, err := cmd.NewRegistry(logger, command.String("plugins-path"), nodes, nil)
			if err != nil {
				return err
			}

			printDefinitions(command.Root().Writer, reg)

			return nil
		},
	}
}

func printDefinitions(w io.Writer, reg *registry.Registry) {
	fmt.Fprintln(w, "Actions:")

	for _, def := range reg.ActionDefinitions() {
		queue := def.QueueName
		if queue == "" {
			queue = "default"
		}

		fmt.Fprintf(w, "  %s (queue: %s, track status: %t)\n", def.Name, queue, def.TrackStatus)

		for _, p := range def.ParameterDefinitions() {
			fmt.Fprintf(w, "    - %s %s mandatory=%t\n", p.Name, p.Type, p.Mandatory)
		}
	}

	fmt.Fprintln(w, "Conditions:")

	for _, def := range reg.ConditionDefinitions() {
		fmt.Fprintf(w, "  %s\n", def.Name)

		for _, p := range def.ParameterDefinitions() {
			fmt.Fprintf(w, "    - %s %s mandatory=%t\n", p.Name, p.Type, p.Mandatory)
		}
	}
}
