// Package retention runs the scheduled hygiene jobs: the periodic short-term
// expiry sweep and the daily forgetting pass over durable storage.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultSweepInterval      = 5 * time.Minute
	DefaultMemoryMaxAgeDays   = 90
	DefaultMemoryMinRelevance = 0.3
	DefaultTopicMaxAgeDays    = 30

	// DailySpec fires at local midnight, then every 24 hours.
	DailySpec = "@midnight"
)

// Expirer drops expired short-term state. *shortterm.Store satisfies it.
type Expirer interface {
	SweepExpired() int
}

// Cleaner deletes stale durable rows. *longterm.Store satisfies it.
type Cleaner interface {
	CleanupOldMemories(ctx context.Context, daysOld int, minRelevance float64) (int, error)
	CleanupOldTopics(ctx context.Context, daysOld int) (int, error)
}

// Policy holds the retention knobs.
type Policy struct {
	SweepInterval      time.Duration
	MemoryMaxAgeDays   int
	MemoryMinRelevance float64
	TopicMaxAgeDays    int
}

// DefaultPolicy returns the stock retention policy.
func DefaultPolicy() Policy {
	return Policy{
		SweepInterval:      DefaultSweepInterval,
		MemoryMaxAgeDays:   DefaultMemoryMaxAgeDays,
		MemoryMinRelevance: DefaultMemoryMinRelevance,
		TopicMaxAgeDays:    DefaultTopicMaxAgeDays,
	}
}

// SweepSpec is the schedule spec for the periodic sweep.
func (p Policy) SweepSpec() string {
	return "@every " + p.SweepInterval.String()
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.SweepInterval <= 0 {
		p.SweepInterval = d.SweepInterval
	}
	if p.MemoryMaxAgeDays <= 0 {
		p.MemoryMaxAgeDays = d.MemoryMaxAgeDays
	}
	if p.MemoryMinRelevance <= 0 {
		p.MemoryMinRelevance = d.MemoryMinRelevance
	}
	if p.TopicMaxAgeDays <= 0 {
		p.TopicMaxAgeDays = d.TopicMaxAgeDays
	}
	return p
}

// Report is the outcome of one daily forgetting pass. Each step runs even
// when an earlier one failed.
type Report struct {
	ExpiredContexts int
	Memories        int
	Topics          int
	Errors          []error
}

// Err joins the step errors, or returns nil.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// Sweeper owns the two retention schedules.
type Sweeper struct {
	expirer Expirer
	cleaner Cleaner
	sched   Scheduler
	logger  *slog.Logger

	mu      sync.Mutex
	policy  Policy
	cancels []func() // sweep, daily; nil when stopped
}

// NewSweeper creates a Sweeper. Zero fields in policy take their defaults.
func NewSweeper(exp Expirer, cl Cleaner, sched Scheduler, policy Policy, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		expirer: exp,
		cleaner: cl,
		sched:   sched,
		policy:  policy.withDefaults(),
		logger:  logger.With("component", "retention"),
	}
}

// Policy returns the effective policy.
func (s *Sweeper) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy replaces the policy. Zero fields take their defaults. When the
// sweeper is running and the sweep interval changed, the periodic job is
// rescheduled; the daily job picks up the new limits on its next run.
func (s *Sweeper) SetPolicy(p Policy) error {
	p = p.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.policy
	if s.cancels != nil && p.SweepSpec() != old.SweepSpec() {
		cancel, err := s.sched.Schedule(p.SweepSpec(), func() { s.PeriodicSweep() })
		if err != nil {
			return err
		}
		s.cancels[0]()
		s.cancels[0] = cancel
	}
	s.policy = p
	if p != old {
		s.logger.Info("retention policy updated",
			"sweep", p.SweepSpec(), "memory_max_age_days", p.MemoryMaxAgeDays,
			"memory_min_relevance", p.MemoryMinRelevance, "topic_max_age_days", p.TopicMaxAgeDays)
	}
	return nil
}

// Start registers both jobs and starts the scheduler. Jobs run with ctx.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancels != nil {
		return errors.New("retention: sweeper already started")
	}

	sweep, err := s.sched.Schedule(s.policy.SweepSpec(), func() { s.PeriodicSweep() })
	if err != nil {
		return err
	}
	daily, err := s.sched.Schedule(DailySpec, func() {
		if err := s.RunDaily(ctx).Err(); err != nil {
			s.logger.Error("daily forgetting finished with errors", "error", err)
		}
	})
	if err != nil {
		sweep()
		return err
	}
	s.cancels = []func(){sweep, daily}
	s.sched.Start()
	s.logger.Debug("retention started", "sweep", s.policy.SweepSpec(), "daily", DailySpec)
	return nil
}

// Stop removes both jobs and stops the scheduler. It is a no-op when the
// sweeper is not running.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	if cancels == nil {
		return
	}
	for _, cancel := range cancels {
		cancel()
	}
	s.sched.Stop()
	s.logger.Debug("retention stopped")
}

// PeriodicSweep drops expired short-term contexts and returns how many went.
func (s *Sweeper) PeriodicSweep() int {
	n := s.expirer.SweepExpired()
	if n > 0 {
		s.logger.Debug("swept expired contexts", "count", n)
	}
	return n
}

// RunDaily runs the forgetting pass: expiry sweep, stale memories, stale
// topics. A failing step is logged and recorded; the rest still run.
func (s *Sweeper) RunDaily(ctx context.Context) Report {
	p := s.Policy()
	var r Report
	r.ExpiredContexts = s.PeriodicSweep()

	n, err := s.cleaner.CleanupOldMemories(ctx, p.MemoryMaxAgeDays, p.MemoryMinRelevance)
	if err != nil {
		s.logger.Error("cleanup old memories failed",
			"max_age_days", p.MemoryMaxAgeDays, "min_relevance", p.MemoryMinRelevance, "error", err)
		r.Errors = append(r.Errors, fmt.Errorf("memories: %w", err))
	}
	r.Memories = n

	n, err = s.cleaner.CleanupOldTopics(ctx, p.TopicMaxAgeDays)
	if err != nil {
		s.logger.Error("cleanup old topics failed", "max_age_days", p.TopicMaxAgeDays, "error", err)
		r.Errors = append(r.Errors, fmt.Errorf("topics: %w", err))
	}
	r.Topics = n

	s.logger.Info("daily forgetting",
		"expired_contexts", r.ExpiredContexts, "memories", r.Memories, "topics", r.Topics, "errors", len(r.Errors))
	return r
}
