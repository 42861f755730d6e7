package memory

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/convmem/internal/clock"
	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/db"
	"github.com/memvra/convmem/internal/longterm"
	"github.com/memvra/convmem/internal/retention"
	"github.com/memvra/convmem/internal/topics"
)

type harness struct {
	m     *Manager
	clk   *clock.Manual
	sched *retention.Manual
	cfg   config.Config
	logs  *bytes.Buffer
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "memory.db")
	for _, fn := range mutate {
		fn(&cfg)
	}

	clk := clock.NewManual(time.Date(2026, 8, 14, 19, 30, 0, 0, time.UTC))
	sched := retention.NewManual()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	m, err := New(cfg, WithClock(clk), WithScheduler(sched), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return &harness{m: m, clk: clk, sched: sched, cfg: cfg, logs: logs}
}

func (h *harness) say(user, guild string, msgs ...string) {
	for _, msg := range msgs {
		h.m.AppendHistory(context.Background(), user, guild, convo.Turn{Role: convo.RoleUser, Content: msg})
		h.clk.Advance(25 * time.Second)
	}
}

func TestNew_BadPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(cfg.Store.DBPath, []byte("x"), 0o644))

	// A regular file where a directory is needed.
	cfg.Store.DBPath = filepath.Join(cfg.Store.DBPath, "memory.db")
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestManager_GameConversationBecomesTopic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.say("ana", "guild-1",
		"bora jogar alguma coisa?",
		"qual jogo você quer?",
		"aquele jogo novo de corrida",
		"gosto desse jogo",
		"hoje tá calor demais",
	)

	got := h.m.GetRecentTopics(ctx, "ana", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "jogo", got[0].Topic)
	assert.Equal(t, 5, got[0].MessageCount)
	assert.Equal(t, "guild-1", got[0].GuildID)
	assert.GreaterOrEqual(t, got[0].Relevance, 0.9)

	// The buffer was drained to the retained tail.
	assert.Len(t, h.m.GetHistory("ana", 0), 5)
}

func TestManager_BelowThresholdStaysBuffered(t *testing.T) {
	h := newHarness(t)

	h.say("bia", "", "vamos ver um filme", "qual filme?")
	assert.Empty(t, h.m.GetRecentTopics(context.Background(), "bia", 5))
	assert.Equal(t, []string{"vamos ver um filme", "qual filme?"}, convo.Contents(h.m.GetHistory("bia", 0)))
}

func TestManager_UnknownRoleRecordedAsUser(t *testing.T) {
	h := newHarness(t)

	e := h.m.AppendHistory(context.Background(), "u1", "", convo.Turn{Role: "system", Content: "x"})
	assert.Equal(t, convo.RoleUser, e.Role)
}

func TestManager_ActiveContextUsesConfiguredTTL(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.ShortTerm.ContextTTL = config.Duration{Duration: 10 * time.Minute}
	})

	h.m.SetActiveContext("u1", convo.Context{Topic: "anime"}, 0)
	got, ok := h.m.GetActiveContext("u1")
	require.True(t, ok)
	assert.Equal(t, "anime", got.Topic)

	h.clk.Advance(11 * time.Minute)
	_, ok = h.m.GetActiveContext("u1")
	assert.False(t, ok)

	h.m.SetActiveContext("u1", convo.Context{Topic: "anime"}, time.Hour)
	h.clk.Advance(30 * time.Minute)
	_, ok = h.m.GetActiveContext("u1")
	assert.True(t, ok)

	h.m.ClearContext("u1")
	_, ok = h.m.GetActiveContext("u1")
	assert.False(t, ok)
}

func TestManager_SaveAndGetMemories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, ok := h.m.SaveMemory(ctx, "u1", "g1", convo.TypePreference, "Eu gosto de pizza", convo.Metadata{})
	require.True(t, ok)
	assert.InDelta(t, 0.85, first.RelevanceScore, 1e-9)

	again, ok := h.m.SaveMemory(ctx, "u1", "g1", convo.TypePreference, "Eu gosto de pizza", convo.Metadata{})
	require.True(t, ok)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.MentionCount)

	h.m.SaveMemory(ctx, "u1", "g1", convo.TypeFact, "mora em Recife", convo.Metadata{})

	mems := h.m.GetMemories(ctx, "u1", longterm.MemoryQuery{})
	require.Len(t, mems, 2)
	assert.Equal(t, "Eu gosto de pizza", mems[0].Content)

	prefs := h.m.GetMemories(ctx, "u1", longterm.MemoryQuery{Type: convo.TypePreference})
	assert.Len(t, prefs, 1)
}

func TestManager_SaveMemoryRejectsUnknownType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, ok := h.m.SaveMemory(ctx, "u1", "", convo.MemoryType("habit"), "acorda cedo", convo.Metadata{})
	assert.False(t, ok)
	assert.Empty(t, h.m.GetMemories(ctx, "u1", longterm.MemoryQuery{}))
	assert.Contains(t, h.logs.String(), "rejected memory with unknown type")
}

func TestManager_GetMemory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	saved, ok := h.m.SaveMemory(ctx, "u1", "", convo.TypeFact, "tem dois irmãos", convo.Metadata{})
	require.True(t, ok)

	got, ok := h.m.GetMemory(ctx, saved.ID)
	require.True(t, ok)
	assert.Equal(t, "tem dois irmãos", got.Content)

	_, ok = h.m.GetMemory(ctx, "missing")
	assert.False(t, ok)
	assert.NotContains(t, h.logs.String(), "get memory failed", "a miss is not a failure")
}

func TestManager_SetActiveContextInfersTopic(t *testing.T) {
	h := newHarness(t)

	h.m.SetActiveContext("u1", convo.Context{Entities: convo.Entities{
		People: []string{"Ana"},
		Events: []string{"aniversário"},
	}}, 0)
	got, ok := h.m.GetActiveContext("u1")
	require.True(t, ok)
	assert.Equal(t, "Ana - aniversário", got.Topic)

	// An explicit topic wins over the entities.
	h.m.SetActiveContext("u1", convo.Context{Topic: "jogo", Entities: convo.Entities{People: []string{"Rui"}}}, 0)
	got, _ = h.m.GetActiveContext("u1")
	assert.Equal(t, "jogo", got.Topic)

	// Nothing to infer from.
	h.m.SetActiveContext("u1", convo.Context{}, 0)
	got, _ = h.m.GetActiveContext("u1")
	assert.Empty(t, got.Topic)

	assert.Equal(t, "bola", h.m.InferTopic(convo.Entities{Objects: []string{"bola"}}, "chuta a bola"))
	assert.Equal(t, "vamos ver o", h.m.InferTopic(convo.Entities{}, "vamos ver o jogo hoje"))
}

func TestManager_ContextExpiresAt(t *testing.T) {
	h := newHarness(t)

	_, ok := h.m.ContextExpiresAt("u1")
	assert.False(t, ok)

	h.m.SetActiveContext("u1", convo.Context{Topic: "x"}, 15*time.Minute)
	at, ok := h.m.ContextExpiresAt("u1")
	require.True(t, ok)
	assert.Equal(t, h.clk.Now().Add(15*time.Minute).UnixMilli(), at)
}

func TestManager_RetainedTailIsConsolidatedAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Appends 5, 6 and 7 each cross the threshold; the buffer is cut back to
	// the five retained turns after every run, so each run writes a row.
	for i := 0; i < 7; i++ {
		h.say("u1", "", "gosto desse jogo")
	}

	assert.Equal(t, 3, h.m.GetStats(ctx).Topics)
	got := h.m.GetRecentTopics(ctx, "u1", 10)
	require.Len(t, got, 3)
	var counts []int
	for _, tp := range got {
		assert.Equal(t, "jogo", tp.Topic)
		counts = append(counts, tp.MessageCount)
	}
	assert.Equal(t, []int{6, 6, 5}, counts)
	assert.Len(t, h.m.GetHistory("u1", 0), 5)
}

func TestManager_GetStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.SetActiveContext("a", convo.Context{Topic: "x"}, 0)
	h.say("b", "", "oi")
	h.m.SaveMemory(ctx, "c", "", convo.TypeFact, "tem um gato", convo.Metadata{})
	h.say("d", "", "eu amo música", "música boa", "banda nova", "show amanhã", "vou cantar")

	s := h.m.GetStats(ctx)
	assert.Equal(t, Stats{
		ActiveContexts:    1,
		BufferedHistories: 2,
		Memories:          1,
		Topics:            1,
		Users:             4,
	}, s)
}

func TestManager_ShutdownFlushesPendingHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.say("u1", "g9", "assisti um filme ontem", "o filme era ótimo")
	require.NoError(t, h.m.Shutdown(ctx))
	require.NoError(t, h.m.Shutdown(ctx), "second shutdown is a no-op")

	// After shutdown the store is closed; reads degrade to empty results.
	assert.Nil(t, h.m.GetRecentTopics(ctx, "u1", 5))
	_, ok := h.m.SaveMemory(ctx, "u1", "", convo.TypeFact, "x", convo.Metadata{})
	assert.False(t, ok)
	assert.Contains(t, h.logs.String(), "save memory failed")

	database, err := db.Open(h.cfg.Store.DBPath)
	require.NoError(t, err)
	defer database.Close()
	got, err := longterm.NewStore(database, h.clk).GetRecentTopics(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "filme", got[0].Topic)
	assert.Equal(t, "g9", got[0].GuildID)
	assert.Equal(t, 2, got[0].MessageCount)
	assert.Equal(t, convo.SentimentPositive, got[0].Sentiment)
}

func TestManager_RetentionSchedules(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Retention.MemoryMinRelevance = 0.6
	})
	ctx := context.Background()
	require.NoError(t, h.m.Start(ctx))
	assert.True(t, h.sched.Started())
	assert.ElementsMatch(t, []string{"@every 5m0s", retention.DailySpec}, h.sched.Specs())

	h.m.SetActiveContext("u1", convo.Context{}, time.Minute)
	h.m.SaveMemory(ctx, "u1", "", convo.TypeNote, "alguma coisa", convo.Metadata{})
	h.say("u1", "", "jogo", "jogo", "jogo", "jogo", "jogo")

	h.clk.Advance(2 * time.Minute)
	h.sched.Fire("@every 5m0s")
	_, ok := h.m.GetActiveContext("u1")
	assert.False(t, ok)

	h.clk.Advance(91 * 24 * time.Hour)
	assert.Equal(t, 1, h.sched.Fire(retention.DailySpec))
	s := h.m.GetStats(ctx)
	assert.Equal(t, 0, s.Memories)
	assert.Equal(t, 0, s.Topics)

	require.NoError(t, h.m.Shutdown(ctx))
	assert.False(t, h.sched.Started())
}

func TestManager_RetentionDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Retention.Enabled = false })

	require.NoError(t, h.m.Start(context.Background()))
	assert.Empty(t, h.sched.Specs())
}

func TestManager_UpdateRetention(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background()))

	rc := h.cfg.Retention
	rc.SweepInterval = config.Duration{Duration: time.Minute}
	rc.TopicMaxAgeDays = 7
	require.NoError(t, h.m.UpdateRetention(rc))

	assert.ElementsMatch(t, []string{"@every 1m0s", retention.DailySpec}, h.sched.Specs())
	assert.Equal(t, 7, h.m.RetentionPolicy().TopicMaxAgeDays)
	assert.Contains(t, h.logs.String(), "retention policy updated")
}

func TestManager_RunRetentionReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.say("u1", "", "pizza", "pizza", "pizza", "pizza", "pizza")
	h.clk.Advance(31 * 24 * time.Hour)

	r := h.m.RunRetention(ctx)
	require.NoError(t, r.Err())
	assert.Equal(t, 1, r.Topics)
	assert.Equal(t, 0, h.m.SweepExpired())
}

func TestManager_CustomTables(t *testing.T) {
	tables := topics.DefaultTables()
	tables.Synonyms = map[string][]string{"xadrez": {"chess", "peão"}}

	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "memory.db")
	cfg.Consolidation.Threshold = 2
	clk := clock.NewManual(time.Date(2026, 8, 14, 19, 30, 0, 0, time.UTC))
	m, err := New(cfg, WithClock(clk), WithScheduler(retention.NewManual()), WithTables(tables))
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	ctx := context.Background()
	m.AppendHistory(ctx, "u1", "", convo.Turn{Role: convo.RoleUser, Content: "joguei chess"})
	m.AppendHistory(ctx, "u1", "", convo.Turn{Role: convo.RoleAgent, Content: "mexe o peão"})

	got := m.GetRecentTopics(ctx, "u1", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "xadrez", got[0].Topic)
}

func TestManager_ConcurrentUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", u)
			for i := 0; i < 12; i++ {
				h.m.AppendHistory(ctx, user, "", convo.Turn{Role: convo.RoleUser, Content: "falando de comida"})
			}
		}(u)
	}
	wg.Wait()

	for u := 0; u < 8; u++ {
		user := fmt.Sprintf("user-%d", u)
		assert.NotEmpty(t, h.m.GetRecentTopics(ctx, user, 5), user)
		assert.Len(t, h.m.GetHistory(user, 0), 5, user)
	}
}

func TestManager_Profile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.SaveMemory(ctx, "u1", "", convo.TypePreference, "Eu gosto de pizza", convo.Metadata{})
	h.say("u1", "", "pizza", "pizza", "pizza", "pizza", "pizza")

	p := h.m.Profile(ctx, "u1", 0, 0)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, h.clk.Now().UnixMilli(), p.GeneratedAt)
	require.Len(t, p.Memories, 1)
	require.Len(t, p.Topics, 1)
	assert.Equal(t, "comida", p.Topics[0].Topic)
}
