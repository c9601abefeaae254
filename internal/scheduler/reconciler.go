package scheduler

import (
	"context"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/platform/logger"
)

const (
	ExpirySweepName = "expiry"
	IdleSweepName   = "idle"

	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 200
)

// Task is one periodic job owned by the Supervisor.
type Task interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) (SweepResult, error)
}

// SweepResult counts what a single tick did.
type SweepResult struct {
	Scanned int
	Applied int
	Skipped int
	Failed  int
}

// CandidateFinder is the read side a sweep needs.
type CandidateFinder interface {
	FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Conversation, error)
	FindIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error)
}

// Lifecycle is the single status mutation path used by sweeps.
type Lifecycle interface {
	Expire(ctx context.Context, conv domain.Conversation) (domain.TransitionResult, error)
	MarkIdle(ctx context.Context, conv domain.Conversation) (domain.TransitionResult, error)
	IdleThreshold() time.Duration
}

// ExpirySweep closes conversations whose deadline has passed.
type ExpirySweep struct {
	finder    CandidateFinder
	lifecycle Lifecycle
	log       *logger.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewExpirySweep(finder CandidateFinder, lifecycle Lifecycle, log *logger.Logger, interval time.Duration) *ExpirySweep {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &ExpirySweep{
		finder:    finder,
		lifecycle: lifecycle,
		log:       log,
		interval:  interval,
		batchSize: defaultSweepBatchSize,
		now:       time.Now,
	}
}

// WithClock replaces the time source used to pick candidates.
func (s *ExpirySweep) WithClock(now func() time.Time) *ExpirySweep {
	s.now = now
	return s
}

func (s *ExpirySweep) Name() string            { return ExpirySweepName }
func (s *ExpirySweep) Interval() time.Duration { return s.interval }

func (s *ExpirySweep) Run(ctx context.Context) (SweepResult, error) {
	candidates, err := s.finder.FindExpired(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return SweepResult{}, err
	}
	return apply(ctx, s.log, ExpirySweepName, candidates, s.lifecycle.Expire), nil
}

// IdleSweep moves progress conversations without recent activity to idle_timeout.
type IdleSweep struct {
	finder    CandidateFinder
	lifecycle Lifecycle
	log       *logger.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewIdleSweep(finder CandidateFinder, lifecycle Lifecycle, log *logger.Logger, interval time.Duration) *IdleSweep {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &IdleSweep{
		finder:    finder,
		lifecycle: lifecycle,
		log:       log,
		interval:  interval,
		batchSize: defaultSweepBatchSize,
		now:       time.Now,
	}
}

// WithClock replaces the time source used to compute the idle cutoff.
func (s *IdleSweep) WithClock(now func() time.Time) *IdleSweep {
	s.now = now
	return s
}

func (s *IdleSweep) Name() string            { return IdleSweepName }
func (s *IdleSweep) Interval() time.Duration { return s.interval }

func (s *IdleSweep) Run(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().UTC().Add(-s.lifecycle.IdleThreshold())
	candidates, err := s.finder.FindIdle(ctx, cutoff, s.batchSize)
	if err != nil {
		return SweepResult{}, err
	}
	return apply(ctx, s.log, IdleSweepName, candidates, s.lifecycle.MarkIdle), nil
}

type transitionFunc func(ctx context.Context, conv domain.Conversation) (domain.TransitionResult, error)

// apply runs fn on every candidate. A failing candidate is logged and counted
// and never stops the sweep.
func apply(ctx context.Context, log *logger.Logger, sweep string, candidates []domain.Conversation, fn transitionFunc) SweepResult {
	result := SweepResult{Scanned: len(candidates)}
	for _, conv := range candidates {
		if ctx.Err() != nil {
			break
		}
		res, err := fn(ctx, conv)
		switch {
		case err != nil:
			result.Failed++
			log.Warn("sweep candidate failed", "sweep", sweep, "conversationId", conv.ID, "tenantId", conv.TenantID, "error", err)
		case res.Applied:
			result.Applied++
		default:
			result.Skipped++
		}
	}
	return result
}
