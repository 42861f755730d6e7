package retention

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Scheduler runs jobs on cron-style specs ("@every 5m", "@midnight", "0 3 * * *").
type Scheduler interface {
	// Schedule registers job under spec. The returned cancel func removes it.
	Schedule(spec string, job func()) (cancel func(), err error)
	Start()
	Stop()
}

// stopTimeout bounds how long Stop waits for running jobs.
const stopTimeout = 5 * time.Second

// CronScheduler is the production Scheduler backed by robfig/cron.
type CronScheduler struct {
	cron   *rcron.Cron
	logger *slog.Logger
}

// NewCronScheduler creates a scheduler evaluating specs in loc. A nil loc
// means time.Local.
func NewCronScheduler(loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{
		cron:   rcron.New(rcron.WithLocation(loc)),
		logger: logger.With("component", "retention"),
	}
}

func (s *CronScheduler) Schedule(spec string, job func()) (func(), error) {
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return nil, fmt.Errorf("retention: schedule %q: %w", spec, err)
	}
	return func() { s.cron.Remove(id) }, nil
}

func (s *CronScheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits briefly for running jobs to finish.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("stop timed out waiting for running jobs")
	}
}

// NextFire returns when spec fires next after from.
func NextFire(spec string, from time.Time) (time.Time, error) {
	sched, err := rcron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("retention: parse %q: %w", spec, err)
	}
	return sched.Next(from), nil
}

// Manual is a Scheduler that never fires on its own; Fire runs jobs on
// demand. Specs are still validated the way CronScheduler validates them.
type Manual struct {
	mu      sync.Mutex
	jobs    map[int]manualJob
	nextID  int
	started bool
}

type manualJob struct {
	spec string
	fn   func()
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{jobs: make(map[int]manualJob)}
}

func (m *Manual) Schedule(spec string, job func()) (func(), error) {
	if _, err := rcron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("retention: schedule %q: %w", spec, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.jobs[id] = manualJob{spec: spec, fn: job}
	return func() {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	}, nil
}

func (m *Manual) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
}

func (m *Manual) Stop() {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
}

// Started reports whether Start was called more recently than Stop.
func (m *Manual) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Fire runs every job registered under spec and returns how many ran.
func (m *Manual) Fire(spec string) int {
	m.mu.Lock()
	var fns []func()
	for _, id := range m.sortedIDs() {
		if j := m.jobs[id]; j.spec == spec {
			fns = append(fns, j.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Specs lists the registered specs in registration order.
func (m *Manual) Specs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.sortedIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.jobs[id].spec)
	}
	return out
}

func (m *Manual) sortedIDs() []int {
	ids := make([]int, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
