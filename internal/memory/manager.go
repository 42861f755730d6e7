// Package memory is the entry point of the conversational memory subsystem.
// A Manager ties the short-term store, the durable store, consolidation and
// retention together behind one API that never fails the caller: storage
// errors are logged and answered with empty results.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/memvra/convmem/internal/clock"
	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/consolidate"
	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/db"
	"github.com/memvra/convmem/internal/longterm"
	"github.com/memvra/convmem/internal/retention"
	"github.com/memvra/convmem/internal/shortterm"
	"github.com/memvra/convmem/internal/topics"
)

// Stats is a point-in-time snapshot for operational surfaces.
type Stats struct {
	ActiveContexts    int `json:"active_contexts"`
	BufferedHistories int `json:"buffered_histories"`
	Memories          int `json:"memories"`
	Topics            int `json:"topics"`
	Users             int `json:"users"`
	Consolidating     int `json:"consolidating"`
}

// Manager owns one memory subsystem instance.
type Manager struct {
	cfg    config.Config
	clock  clock.Clock
	logger *slog.Logger

	short        *shortterm.Store
	long         *longterm.Store
	extractor    *topics.Extractor
	consolidator *consolidate.Consolidator
	sweeper      *retention.Sweeper

	guilds sync.Map // userID -> last guildID seen

	shutdownOnce sync.Once
	shutdownErr  error
}

// New opens the durable store at cfg.Store.DBPath and wires the subsystem.
// Retention does not run until Start is called.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	o := options{
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scheduler == nil {
		o.scheduler = retention.NewCronScheduler(time.Local, o.logger)
	}
	tables := topics.DefaultTables()
	if o.tables != nil {
		tables = *o.tables
	}

	var dbOpts []db.Option
	if t := cfg.Store.BusyTimeout.Duration; t > 0 {
		dbOpts = append(dbOpts, db.WithBusyTimeout(t))
	}
	if mode := cfg.Store.JournalMode; mode != "" {
		dbOpts = append(dbOpts, db.WithJournalMode(mode))
	}
	database, err := db.Open(cfg.Store.DBPath, dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	if v, err := database.SchemaVersion(context.Background()); err == nil {
		o.logger.Debug("store opened", "component", "memory", "path", database.Path(), "schema", v)
	}

	short := shortterm.New(o.clock, shortterm.WithMaxHistory(cfg.ShortTerm.MaxHistory))
	long := longterm.NewStore(database, o.clock)
	extractor := topics.New(tables, o.clock)

	m := &Manager{
		cfg:    cfg,
		clock:  o.clock,
		logger: o.logger.With("component", "memory"),
		short:     short,
		long:      long,
		extractor: extractor,
		consolidator: consolidate.New(short, extractor, long, long,
			consolidate.WithThreshold(cfg.Consolidation.Threshold),
			consolidate.WithRetain(cfg.Consolidation.Retain),
			consolidate.WithLogger(o.logger),
		),
		sweeper: retention.NewSweeper(short, long, o.scheduler, policyOf(cfg.Retention), o.logger),
	}
	return m, nil
}

func policyOf(rc config.RetentionConfig) retention.Policy {
	return retention.Policy{
		SweepInterval:      rc.SweepInterval.Duration,
		MemoryMaxAgeDays:   rc.MemoryMaxAgeDays,
		MemoryMinRelevance: rc.MemoryMinRelevance,
		TopicMaxAgeDays:    rc.TopicMaxAgeDays,
	}
}

// Start arms the retention schedules when retention is enabled.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Retention.Enabled {
		m.logger.Debug("retention disabled")
		return nil
	}
	return m.sweeper.Start(ctx)
}

// ---- Short-term ----

// GetActiveContext returns the user's live context, if any.
func (m *Manager) GetActiveContext(userID string) (convo.Context, bool) {
	return m.short.GetActiveContext(userID)
}

// SetActiveContext replaces the user's context. A non-positive ttl means the
// configured context TTL. A context with entities but no topic gets one
// inferred from the entities.
func (m *Manager) SetActiveContext(userID string, value convo.Context, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.cfg.ShortTerm.ContextTTL.Duration
	}
	if value.Topic == "" && !value.Entities.Empty() {
		value.Topic = m.extractor.InferTopic(value.Entities, "")
	}
	m.short.SetActiveContext(userID, value, ttl)
}

// ContextExpiresAt returns when the user's live context expires (epoch ms).
func (m *Manager) ContextExpiresAt(userID string) (int64, bool) {
	return m.short.ExpiresAt(userID)
}

// InferTopic labels content from the entities a collaborator recognised in
// it, falling back to its first words.
func (m *Manager) InferTopic(entities convo.Entities, content string) string {
	return m.extractor.InferTopic(entities, content)
}

// ClearContext drops the user's context.
func (m *Manager) ClearContext(userID string) {
	m.short.ClearContext(userID)
}

// AppendHistory buffers a turn for the user, then consolidates the buffer if
// it has grown long enough. An unknown role is recorded as a user turn.
func (m *Manager) AppendHistory(ctx context.Context, userID, guildID string, turn convo.Turn) convo.HistoryEntry {
	if !convo.ValidRole(turn.Role) {
		m.logger.Debug("unknown role, recording as user", "user", userID, "role", turn.Role)
		turn.Role = convo.RoleUser
	}
	m.guilds.Store(userID, guildID)

	entry := m.short.AppendHistory(userID, turn)
	m.consolidator.ConsolidateIfNeeded(ctx, userID, guildID)
	return entry
}

// GetHistory returns up to limit of the user's newest turns, oldest first.
func (m *Manager) GetHistory(userID string, limit int) []convo.HistoryEntry {
	return m.short.GetHistory(userID, limit)
}

// ClearHistory drops the user's buffered turns without consolidating them.
func (m *Manager) ClearHistory(userID string) {
	m.short.ClearHistory(userID)
}

// ---- Long-term ----

// SaveMemory scores and persists a memory. ok is false when the store failed;
// the failure is logged.
func (m *Manager) SaveMemory(ctx context.Context, userID, guildID string, t convo.MemoryType, content string, md convo.Metadata) (longterm.Memory, bool) {
	if !convo.ValidMemoryType(t) {
		m.logger.Warn("rejected memory with unknown type", "user", userID, "type", t)
		return longterm.Memory{}, false
	}
	mem, err := m.consolidator.SaveMemory(ctx, userID, guildID, t, content, md)
	if err != nil {
		m.logger.Error("save memory failed", "user", userID, "type", t, "error", err)
		return longterm.Memory{}, false
	}
	return mem, true
}

// GetMemories returns the user's memories, strongest first.
func (m *Manager) GetMemories(ctx context.Context, userID string, q longterm.MemoryQuery) []longterm.Memory {
	mems, err := m.long.GetMemories(ctx, userID, q)
	if err != nil {
		m.logger.Error("get memories failed", "user", userID, "error", err)
		return nil
	}
	return mems
}

// GetMemory looks a memory up by id. ok is false when it does not exist or
// the store failed.
func (m *Manager) GetMemory(ctx context.Context, id string) (longterm.Memory, bool) {
	mem, err := m.long.GetMemoryByID(ctx, id)
	if err != nil {
		if !errors.Is(err, longterm.ErrNotFound) {
			m.logger.Error("get memory failed", "id", id, "error", err)
		}
		return longterm.Memory{}, false
	}
	return mem, true
}

// GetRecentTopics returns the user's still-relevant topics, most relevant
// first.
func (m *Manager) GetRecentTopics(ctx context.Context, userID string, limit int) []longterm.Topic {
	ts, err := m.long.GetRecentTopics(ctx, userID, limit)
	if err != nil {
		m.logger.Error("get recent topics failed", "user", userID, "error", err)
		return nil
	}
	return ts
}

// Profile gathers the user's strongest memories and recent topics for export.
// Non-positive limits mean the store defaults.
func (m *Manager) Profile(ctx context.Context, userID string, memoryLimit, topicLimit int) longterm.Profile {
	return longterm.Profile{
		UserID:      userID,
		GeneratedAt: clock.NowMillis(m.clock),
		Memories:    m.GetMemories(ctx, userID, longterm.MemoryQuery{Limit: memoryLimit}),
		Topics:      m.GetRecentTopics(ctx, userID, topicLimit),
	}
}

// ---- Maintenance ----

// SweepExpired runs the short-term expiry sweep now.
func (m *Manager) SweepExpired() int {
	return m.sweeper.PeriodicSweep()
}

// RunRetention runs the daily forgetting pass now.
func (m *Manager) RunRetention(ctx context.Context) retention.Report {
	return m.sweeper.RunDaily(ctx)
}

// UpdateRetention applies new retention limits to the running schedules.
// Enabling or disabling retention needs a restart.
func (m *Manager) UpdateRetention(rc config.RetentionConfig) error {
	return m.sweeper.SetPolicy(policyOf(rc))
}

// RetentionPolicy returns the policy in effect.
func (m *Manager) RetentionPolicy() retention.Policy {
	return m.sweeper.Policy()
}

// GetStats counts live and persisted state. Counts the durable store could
// not answer are left at zero.
func (m *Manager) GetStats(ctx context.Context) Stats {
	c := m.short.Counts()
	s := Stats{
		ActiveContexts:    c.ActiveContexts,
		BufferedHistories: c.BufferedHistories,
		Consolidating:     m.consolidator.InFlight(),
	}

	var err error
	if s.Memories, err = m.long.CountMemories(ctx); err != nil {
		m.logger.Error("count memories failed", "error", err)
	}
	if s.Topics, err = m.long.CountTopics(ctx); err != nil {
		m.logger.Error("count topics failed", "error", err)
	}

	users := make(map[string]struct{}, len(c.Users))
	for _, u := range c.Users {
		users[u] = struct{}{}
	}
	durable, err := m.long.DistinctUsers(ctx)
	if err != nil {
		m.logger.Error("list users failed", "error", err)
	}
	for _, u := range durable {
		users[u] = struct{}{}
	}
	s.Users = len(users)
	return s
}

// Shutdown stops retention, consolidates every user's pending history and
// closes the durable store. Calls after the first return the first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.sweeper.Stop()

		users := m.short.Users()
		sort.Strings(users)
		for _, u := range users {
			res := m.consolidator.Flush(ctx, u, m.guildOf(u))
			if res.Outcome == consolidate.Failed {
				m.logger.Warn("flush failed at shutdown", "user", u, "messages", res.Messages)
			}
		}

		if err := m.long.Close(); err != nil {
			m.shutdownErr = fmt.Errorf("memory: close store: %w", err)
			return
		}
		m.logger.Debug("memory shut down", "flushed_users", len(users))
	})
	return m.shutdownErr
}

func (m *Manager) guildOf(userID string) string {
	if v, ok := m.guilds.Load(userID); ok {
		return v.(string)
	}
	return ""
}
