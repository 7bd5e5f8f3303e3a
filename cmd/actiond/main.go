// Package main provides the actiond server: rule action execution with
// asynchronous queues, execution tracking and an HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/actiond/pkg/config"
	"github.com/dukex/actiond/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cmd := &cli.Command{
		Name:                  "actiond",
		Usage:                 "Run rule actions against repository nodes",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewDefinitionsCommand(),
			NewValidateCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Sources: cli.EnvVars("ACTIOND_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Node store URL (memory://, sqlite://<path>, postgres://...)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Port for the HTTP API",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing executor and evaluator plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (none, gochannel, kafka)",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			log.Setup(cfg.LogLevel, cfg.LogFormat)
			logger := log.WithModule("actiond")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := NewServer(ctx, cfg, logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)

			go func() {
				errCh <- server.Start(ctx)
			}()

			select {
			case err = <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("API server stopped", "error", err)
				}
			case <-ctx.Done():
				logger.Info("Shutting down actiond")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Error("Shutdown incomplete", "error", shutdownErr)

				return shutdownErr
			}

			return err
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flags that were set on top.
func loadConfig(command *cli.Command) (config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return config.Config{}, err
	}

	if command.IsSet("database-url") {
		cfg.DatabaseURL = command.String("database-url")
	}

	if command.IsSet("port") {
		cfg.Port = int(command.Int("port"))
	}

	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}

	if command.IsSet("log-format") {
		cfg.LogFormat = command.String("log-format")
	}

	if command.IsSet("plugins-path") {
		cfg.PluginsPath = command.String("plugins-path")
	}

	if command.IsSet("event-bus") {
		cfg.EventBus.Provider = command.String("event-bus")
	}

	if command.IsSet("tracing") {
		cfg.TracingEnabled = command.Bool("tracing")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate the configuration and exit",
		Action: func(_ context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command.Root())
			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "configuration valid: %d queue(s), %d schedule(s)\n", len(cfg.Queues), len(cfg.Schedules))

			return nil
		},
	}
}
