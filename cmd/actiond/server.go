package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/dukex/actiond/pkg/action"
	"github.com/dukex/actiond/pkg/cmd"
	"github.com/dukex/actiond/pkg/config"
	"github.com/dukex/actiond/pkg/eventbus"
	"github.com/dukex/actiond/pkg/events"
	"github.com/dukex/actiond/pkg/executors"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/otelhelper"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/queue"
	"github.com/dukex/actiond/pkg/registry"
	"github.com/dukex/actiond/pkg/schedule"
	"github.com/dukex/actiond/pkg/stats"
	"github.com/dukex/actiond/pkg/tracking"
	"github.com/dukex/actiond/pkg/txn"
	"github.com/dukex/actiond/pkg/validation"
	"github.com/gofiber/fiber/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

// Server holds every component of a running actiond node.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	nodes     persistence.NodeService
	txns      *txn.Manager
	tracker   *tracking.Service
	registry  *registry.Registry
	sleep     *executors.Sleep
	actions   *action.Service
	pools     []*queue.Pool
	eventBus  eventbus.EventBus
	scheduler *schedule.Scheduler
	metrics   *prometheus.Registry
	tracing   otelhelper.ShutdownFunc
	app       *fiber.App
	listening atomic.Bool
}

// NewServer builds the node from cfg. Nothing runs until Start.
func NewServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: prometheus.NewRegistry(),
	}

	tracer := otelhelper.NoopTracer()

	if cfg.TracingEnabled {
		t, shutdown, err := otelhelper.NewTracer(ctx, "actiond")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		tracer = t
		s.tracing = shutdown
	}

	nodes, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	s.nodes = nodes

	executionCache, err := cmd.NewExecutionCache(ctx, cfg.Cache)
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	store := persistence.NewActionStore(nodes, logger)
	s.txns = txn.NewManager(logger)

	trackingOpts := []tracking.Option{tracking.WithPersister(store)}
	if cfg.RunningOn != "" {
		trackingOpts = append(trackingOpts, tracking.WithRunningOn(cfg.RunningOn))
	}

	s.tracker = tracking.NewService(executionCache, s.txns, logger, trackingOpts...)

	s.sleep = executors.NewSleep(s.tracker, logger)

	s.registry, err = cmd.NewRegistry(logger, cfg.PluginsPath, nodes, s.sleep)
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	statistics, err := stats.New(s.metrics)
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	s.eventBus, err = cmd.NewEventBus(cfg.EventBus, logger)
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	opts := []action.Option{
		action.WithStore(store),
		action.WithNodeTypes(nodes),
		action.WithValidator(validation.New()),
		action.WithStatistics(statistics),
		action.WithTracer(tracer),
	}

	for name, qc := range cfg.Queues {
		pool := queue.NewPool(name, qc.Workers, qc.Backlog, logger)
		q := queue.New(name, pool, s.txns, logger)
		q.RegisterFilter(executors.SleepFilter{})

		if s.eventBus != nil {
			q.OnExecuted(eventbus.AsyncExecutedHook(s.eventBus, s.tracker.RunningOn(), logger))
		}

		s.pools = append(s.pools, pool)
		opts = append(opts, action.WithQueue(q))
	}

	s.actions, err = action.NewService(s.registry, s.tracker, logger, opts...)
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	s.scheduler = schedule.NewScheduler(s.actions, s.txns, cfg.RunAsUser, logger)

	for _, sc := range cfg.Schedules {
		job, err := scheduleJob(sc)
		if err != nil {
			return nil, s.abort(ctx, err)
		}

		if err := s.scheduler.Schedule(job); err != nil {
			return nil, s.abort(ctx, err)
		}
	}

	s.app = newApp(s)

	return s, nil
}

func scheduleJob(sc config.ScheduleConfig) (schedule.Job, error) {
	actionNode, err := models.ParseNodeRef(sc.ActionNode)
	if err != nil {
		return schedule.Job{}, fmt.Errorf("schedule '%s': %w", sc.Name, err)
	}

	job := schedule.Job{Name: sc.Name, Cron: sc.Cron, ActionNode: actionNode}

	if sc.Target != "" {
		job.Target, err = models.ParseNodeRef(sc.Target)
		if err != nil {
			return schedule.Job{}, fmt.Errorf("schedule '%s': %w", sc.Name, err)
		}
	}

	return job, nil
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Actions() *action.Service {
	return s.actions
}

// Start subscribes to the event bus, starts the scheduler and serves the
// API until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	if s.eventBus != nil {
		if err := s.eventBus.Handle(events.AsyncActionExecutedEvent, s.logAsyncExecuted); err != nil {
			return err
		}

		if err := s.eventBus.Subscribe(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to event bus: %w", err)
		}
	}

	s.scheduler.Start(ctx)

	s.logger.InfoContext(ctx, "Starting actiond API", "port", s.cfg.Port, "queues", s.actions.Queues())

	s.listening.Store(true)

	return s.app.Listen(":"+strconv.Itoa(s.cfg.Port), fiber.ListenConfig{DisableStartupMessage: true})
}

func (s *Server) logAsyncExecuted(ctx context.Context, event any) error {
	executed, ok := event.(*events.AsyncActionExecuted)
	if !ok {
		return nil
	}

	s.logger.DebugContext(ctx, "Async action executed",
		"action_id", executed.ActionID,
		"action_type", executed.ActionType,
		"status", executed.Status,
		"running_on", executed.RunningOn,
	)

	return nil
}

// Shutdown stops accepting requests and jobs, drains the queues and closes
// the stores. Every step runs even when an earlier one fails.
func (s *Server) Shutdown(ctx context.Context) error {
	var result *multierror.Error

	if s.listening.Load() {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("api: %w", err))
		}
	}

	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("scheduler: %w", err))
		}
	}

	for _, pool := range s.pools {
		if err := pool.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("queue pool: %w", err))
		}
	}

	if err := s.close(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (s *Server) close(ctx context.Context) error {
	var result *multierror.Error

	if s.eventBus != nil {
		if err := s.eventBus.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("event bus: %w", err))
		}
	}

	if s.nodes != nil {
		if err := s.nodes.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("persistence: %w", err))
		}
	}

	if s.tracing != nil {
		if err := s.tracing(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("tracing: %w", err))
		}
	}

	return result.ErrorOrNil()
}

// abort releases what NewServer opened before failing with err.
func (s *Server) abort(ctx context.Context, err error) error {
	if closeErr := s.close(ctx); closeErr != nil {
		s.logger.ErrorContext(ctx, "Failed to release resources", "error", closeErr)
	}

	return err
}
