// Package stats keeps runtime statistics about action executions and
// exports them as prometheus metrics.
package stats

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "actiond"
	subsystem = "action"
)

var labels = []string{"action_type"}

// TypeStats aggregates executions of one action type.
type TypeStats struct {
	ActionType    string        `json:"actionType"`
	Invocations   int64         `json:"invocations"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"totalDuration"`
	MaxDuration   time.Duration `json:"maxDuration"`
}

func (s TypeStats) AverageDuration() time.Duration {
	if s.Invocations == 0 {
		return 0
	}

	return s.TotalDuration / time.Duration(s.Invocations)
}

// RunningAction is an execution in progress on this process.
type RunningAction struct {
	ActionID   string         `json:"actionId"`
	ActionType string         `json:"actionType"`
	Target     models.NodeRef `json:"target"`
	StartedAt  time.Time      `json:"startedAt"`
}

// Token identifies one execution between Started and Finished.
type Token uint64

type Statistics struct {
	mu      sync.Mutex
	next    Token
	running map[Token]RunningAction
	byType  map[string]*TypeStats

	invocations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
}

// New creates the statistics and registers its collectors with reg. A
// collector already registered under the same name is reused.
func New(reg prometheus.Registerer) (*Statistics, error) {
	s := &Statistics{
		running: make(map[Token]RunningAction),
		byType:  make(map[string]*TypeStats),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executions_total",
			Help:      "Counter of action executions.",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Counter of action executions that returned an error.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "execution_duration_seconds",
			Help:      "Bucketed histogram of action execution time (s).",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, labels),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "running",
			Help:      "Number of actions currently executing.",
		}, labels),
	}

	var err error

	if s.invocations, err = register(reg, s.invocations); err != nil {
		return nil, err
	}

	if s.failures, err = register(reg, s.failures); err != nil {
		return nil, err
	}

	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}

	if s.inFlight, err = register(reg, s.inFlight); err != nil {
		return nil, err
	}

	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}

		return c, err
	}

	return c, nil
}

func (s *Statistics) Started(action *models.Action, target models.NodeRef, at time.Time) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	token := s.next

	s.running[token] = RunningAction{
		ActionID:   action.ID(),
		ActionType: action.DefinitionName(),
		Target:     target,
		StartedAt:  at,
	}

	s.inFlight.WithLabelValues(action.DefinitionName()).Inc()

	return token
}

func (s *Statistics) Finished(token Token, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running, ok := s.running[token]
	if !ok {
		return
	}

	delete(s.running, token)

	elapsed := at.Sub(running.StartedAt)

	ts, ok := s.byType[running.ActionType]
	if !ok {
		ts = &TypeStats{ActionType: running.ActionType}
		s.byType[running.ActionType] = ts
	}

	ts.Invocations++
	ts.TotalDuration += elapsed
	ts.MaxDuration = max(ts.MaxDuration, elapsed)

	s.invocations.WithLabelValues(running.ActionType).Inc()
	s.duration.WithLabelValues(running.ActionType).Observe(elapsed.Seconds())
	s.inFlight.WithLabelValues(running.ActionType).Dec()

	if err != nil {
		ts.Errors++
		s.failures.WithLabelValues(running.ActionType).Inc()
	}
}

// Running lists executions in progress, oldest first.
func (s *Statistics) Running() []RunningAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunningAction, 0, len(s.running))
	for _, r := range s.running {
		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b RunningAction) int { return a.StartedAt.Compare(b.StartedAt) })

	return out
}

func (s *Statistics) ForType(actionType string) (TypeStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.byType[actionType]
	if !ok {
		return TypeStats{}, false
	}

	return *ts, true
}

func (s *Statistics) All() []TypeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TypeStats, 0, len(s.byType))
	for _, ts := range s.byType {
		out = append(out, *ts)
	}

	slices.SortFunc(out, func(a, b TypeStats) int { return strings.Compare(a.ActionType, b.ActionType) })

	return out
}
