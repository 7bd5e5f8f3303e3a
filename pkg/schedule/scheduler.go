// Package schedule runs persisted actions on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/actiond/pkg/auth"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/txn"
	"github.com/robfig/cron/v3"
)

var (
	ErrJobNotFound      = errors.New("scheduled job not found")
	ErrJobExists        = errors.New("scheduled job already exists")
	ErrInvalidSchedule  = errors.New("invalid cron expression")
	ErrMissingActionRef = errors.New("scheduled job has no action node")
)

// ActionRunner loads persisted actions and executes them.
type ActionRunner interface {
	LoadAction(ctx context.Context, actionNode models.NodeRef) (*models.Action, error)
	ExecuteAction(ctx context.Context, action *models.Action, target models.NodeRef, checkConditions, executeAsynchronously bool) error
}

// Job runs the action persisted at ActionNode against Target. A zero Target
// means the node the action is saved against.
type Job struct {
	Name       string         `json:"name" validate:"required"`
	Cron       string         `json:"cron" validate:"required"`
	ActionNode models.NodeRef `json:"actionNode"`
	Target     models.NodeRef `json:"target"`
}

type entry struct {
	job Job
	id  cron.EntryID
}

type Scheduler struct {
	logger *slog.Logger
	runner ActionRunner
	txns   *txn.Manager
	runAs  string
	cron   *cron.Cron

	mu   sync.RWMutex
	jobs map[string]entry
	ctx  context.Context
}

func NewScheduler(runner ActionRunner, txns *txn.Manager, runAs string, logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "action_scheduler")

	if runAs == "" {
		runAs = auth.SystemUser
	}

	cronLog := cronLogger{logger: logger}

	return &Scheduler{
		logger: logger,
		runner: runner,
		txns:   txns,
		runAs:  runAs,
		cron: cron.New(cron.WithLogger(cronLog), cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		)),
		jobs: make(map[string]entry),
		ctx:  context.Background(),
	}
}

// Schedule registers job. It starts firing once the scheduler is started.
func (s *Scheduler) Schedule(job Job) error {
	if job.ActionNode.IsZero() {
		return fmt.Errorf("job '%s': %w", job.Name, ErrMissingActionRef)
	}

	if _, err := cron.ParseStandard(job.Cron); err != nil {
		return fmt.Errorf("job '%s' cron '%s': %w: %w", job.Name, job.Cron, ErrInvalidSchedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job '%s': %w", job.Name, ErrJobExists)
	}

	id, err := s.cron.AddFunc(job.Cron, func() {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()

		if err := s.run(ctx, job); err != nil {
			s.logger.ErrorContext(ctx, "Scheduled action failed", "job", job.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("job '%s': %w", job.Name, err)
	}

	s.jobs[job.Name] = entry{job: job, id: id}
	s.logger.Info("Scheduled action", "job", job.Name, "cron", job.Cron, "action_node", job.ActionNode.String())

	return nil
}

func (s *Scheduler) Unschedule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job '%s': %w", name, ErrJobNotFound)
	}

	s.cron.Remove(e.id)
	delete(s.jobs, name)

	return nil
}

// Jobs returns the registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		jobs = append(jobs, e.job)
	}

	slices.SortFunc(jobs, func(a, b Job) int { return strings.Compare(a.Name, b.Name) })

	return jobs
}

// Trigger runs the named job now, on the calling goroutine.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	e, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job '%s': %w", name, ErrJobNotFound)
	}

	return s.run(ctx, e.job)
}

// Start begins firing jobs. Runs started by the scheduler use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "Action scheduler started", "jobs", len(s.Jobs()))
}

// Stop stops firing jobs and waits for running ones until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.InfoContext(ctx, "Action scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run loads and queues the action in its own transaction so it executes
// once that transaction commits.
func (s *Scheduler) run(ctx context.Context, job Job) error {
	return auth.RunAs(ctx, s.runAs, func(ctx context.Context) error {
		return s.txns.Do(ctx, func(ctx context.Context) error {
			a, err := s.runner.LoadAction(ctx, job.ActionNode)
			if err != nil {
				return err
			}

			target := job.Target
			if target.IsZero() {
				target = a.OwningNodeRef
			}

			s.logger.DebugContext(ctx, "Running scheduled action", "job", job.Name, "action_id", a.ID(), "target", target.String())

			return s.runner.ExecuteAction(ctx, a, target, true, true)
		})
	})
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
