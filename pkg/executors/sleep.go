package executors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/protocol"
)

const (
	SleepActionName = "sleep-action"

	ParamSleepMs = "sleep-ms"
	ParamFail    = "fail"
	ParamDecline = "decline"

	defaultSleep        = time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// CancellationChecker reports whether cancellation of a running action was requested.
type CancellationChecker interface {
	IsCancellationRequested(ctx context.Context, action *models.Action) bool
}

// Sleep waits for a while and then succeeds, fails or declines as its
// parameters say. It stops early when cancellation is requested, making it
// useful for exercising queues and status tracking.
type Sleep struct {
	logger       *slog.Logger
	cancellation CancellationChecker
	definition   *models.ActionDefinition
	pollInterval time.Duration

	mu     sync.Mutex
	wake   chan struct{}
	active int
}

type SleepOption func(*Sleep)

// WithQueueName routes asynchronous sleeps to the named queue.
func WithQueueName(name string) SleepOption {
	return func(s *Sleep) { s.definition.QueueName = name }
}

func WithPollInterval(d time.Duration) SleepOption {
	return func(s *Sleep) { s.pollInterval = d }
}

func NewSleep(cancellation CancellationChecker, logger *slog.Logger, opts ...SleepOption) *Sleep {
	def := mustDefinition(SleepActionName, "Sleep", "Waits, then completes. Honours cancellation requests.",
		models.ParameterDefinition{Name: ParamSleepMs, Type: models.ParameterTypeLong, DisplayLabel: "Sleep (ms)"},
		models.ParameterDefinition{Name: ParamFail, Type: models.ParameterTypeBoolean, DisplayLabel: "Fail when done"},
		models.ParameterDefinition{Name: ParamDecline, Type: models.ParameterTypeBoolean, DisplayLabel: "Decline when done"},
	)
	def.TrackStatus = true

	s := &Sleep{
		logger:       logger.With("module", "sleep_action"),
		cancellation: cancellation,
		definition:   def,
		pollInterval: defaultPollInterval,
		wake:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Sleep) Definition() *models.ActionDefinition {
	return s.definition
}

func (s *Sleep) Execute(ctx context.Context, a *models.Action, target models.NodeRef) error {
	duration, err := sleepDuration(a)
	if err != nil {
		return err
	}

	wake := s.enter()
	defer s.leave()

	logger := s.logger.With("action_id", a.ID(), "target", target.String())
	logger.DebugContext(ctx, "Sleeping", "duration", duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-timer.C:
			break loop
		case <-wake:
			break loop
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", protocol.ErrActionCancelled, ctx.Err())
		case <-ticker.C:
			if s.cancellation != nil && s.cancellation.IsCancellationRequested(ctx, a) {
				logger.InfoContext(ctx, "Sleep cancelled")

				return protocol.ErrActionCancelled
			}
		}
	}

	if fail, _ := a.ParameterValue(ParamFail).(bool); fail {
		return fmt.Errorf("sleep action %s asked to fail", a.ID())
	}

	if decline, _ := a.ParameterValue(ParamDecline).(bool); decline {
		return protocol.NewTransientError("sleep action asked to decline")
	}

	return nil
}

// Wake ends every sleep currently in progress.
func (s *Sleep) Wake() {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.wake)
	s.wake = make(chan struct{})
}

// Active returns the number of sleeps in progress.
func (s *Sleep) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

func (s *Sleep) enter() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active++

	return s.wake
}

func (s *Sleep) leave() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active--
}

// SleepFilter drops a sleep queued again for the same action and target
// while the first one is still ongoing.
type SleepFilter struct{}

func (SleepFilter) ActionDefinitionName() string {
	return SleepActionName
}

func (SleepFilter) Compare(a, b models.OngoingAsyncAction) int {
	if c := strings.Compare(a.Action.ID(), b.Action.ID()); c != 0 {
		return c
	}

	return strings.Compare(a.Target.String(), b.Target.String())
}

func sleepDuration(a *models.Action) (time.Duration, error) {
	switch v := a.ParameterValue(ParamSleepMs).(type) {
	case nil:
		return defaultSleep, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("%w: '%s' must be a number, got %T", ErrInvalidParameter, ParamSleepMs, v)
	}
}
