package shortterm

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/convmem/internal/clock"
	"github.com/memvra/convmem/internal/convo"
)

func newTestStore(opts ...Option) (*Store, *clock.Manual) {
	clk := clock.NewManual(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	return New(clk, opts...), clk
}

func TestActiveContext_SetAndGet(t *testing.T) {
	s, _ := newTestStore()

	want := convo.Context{Topic: "jogo", Entities: convo.Entities{People: []string{"Ana"}}}
	s.SetActiveContext("u1", want, 0)

	got, ok := s.GetActiveContext("u1")
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = s.GetActiveContext("someone-else")
	assert.False(t, ok)
}

func TestActiveContext_OverwritesWholesale(t *testing.T) {
	s, _ := newTestStore()

	s.SetActiveContext("u1", convo.Context{Topic: "jogo", Extra: map[string]any{"k": 1}}, 0)
	s.SetActiveContext("u1", convo.Context{Topic: "filme"}, 0)

	got, ok := s.GetActiveContext("u1")
	require.True(t, ok)
	assert.Equal(t, "filme", got.Topic)
	assert.Nil(t, got.Extra)
}

func TestActiveContext_LazyExpiry(t *testing.T) {
	s, clk := newTestStore()

	s.SetActiveContext("u1", convo.Context{Topic: "jogo"}, 10*time.Minute)
	expiresAt, ok := s.ExpiresAt("u1")
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(10*time.Minute).UnixMilli(), expiresAt)

	// Exactly at expiresAt the entry is still live.
	clk.Advance(10 * time.Minute)
	_, ok = s.GetActiveContext("u1")
	assert.True(t, ok)

	clk.Advance(time.Millisecond)
	_, ok = s.GetActiveContext("u1")
	assert.False(t, ok)

	_, ok = s.ExpiresAt("u1")
	assert.False(t, ok, "expired entry must be removed on read")
	assert.Equal(t, 0, s.size())
}

func TestActiveContext_DefaultTTL(t *testing.T) {
	s, clk := newTestStore()

	s.SetActiveContext("u1", convo.Context{}, 0)
	clk.Advance(DefaultTTL)
	_, ok := s.GetActiveContext("u1")
	assert.True(t, ok)
	clk.Advance(time.Second)
	_, ok = s.GetActiveContext("u1")
	assert.False(t, ok)
}

func TestClearContext(t *testing.T) {
	s, _ := newTestStore()

	s.SetActiveContext("u1", convo.Context{Topic: "x"}, 0)
	s.ClearContext("u1")
	_, ok := s.GetActiveContext("u1")
	assert.False(t, ok)
	s.ClearContext("never-seen")
}

func TestAppendHistory_StampsTime(t *testing.T) {
	s, clk := newTestStore()

	e := s.AppendHistory("u1", convo.Turn{Role: convo.RoleUser, Content: "oi"})
	assert.Equal(t, clk.Now().UnixMilli(), e.Timestamp)
	assert.Equal(t, "oi", e.Content)
	assert.Equal(t, convo.RoleUser, e.Role)
}

func TestAppendHistory_FIFOCap(t *testing.T) {
	s, clk := newTestStore()

	for i := 0; i < 25; i++ {
		s.AppendHistory("u1", convo.Turn{Role: convo.RoleUser, Content: fmt.Sprintf("m%d", i)})
		clk.Advance(time.Second)
	}

	got := s.GetHistory("u1", 0)
	require.Len(t, got, DefaultMaxHistory)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i+5), e.Content)
	}
}

func TestAppendHistory_CustomCap(t *testing.T) {
	s, _ := newTestStore(WithMaxHistory(3))

	for i := 0; i < 5; i++ {
		s.AppendHistory("u1", convo.Turn{Role: convo.RoleAgent, Content: fmt.Sprintf("m%d", i)})
	}
	assert.Equal(t, []string{"m2", "m3", "m4"}, convo.Contents(s.GetHistory("u1", 10)))
}

func TestGetHistory_Limit(t *testing.T) {
	s, _ := newTestStore()

	for i := 0; i < 6; i++ {
		s.AppendHistory("u1", convo.Turn{Role: convo.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	assert.Equal(t, []string{"m3", "m4", "m5"}, convo.Contents(s.GetHistory("u1", 3)))
	assert.Len(t, s.GetHistory("u1", 100), 6)
	assert.Nil(t, s.GetHistory("nobody", 5))
}

func TestGetHistory_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore()

	s.AppendHistory("u1", convo.Turn{Role: convo.RoleUser, Content: "a"})
	got := s.GetHistory("u1", 0)
	got[0].Content = "mutated"
	assert.Equal(t, "a", s.GetHistory("u1", 0)[0].Content)
}

func TestTruncateAndClearHistory(t *testing.T) {
	s, _ := newTestStore()

	for i := 0; i < 8; i++ {
		s.AppendHistory("u1", convo.Turn{Role: convo.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	s.TruncateHistory("u1", 5)
	assert.Equal(t, []string{"m3", "m4", "m5", "m6", "m7"}, convo.Contents(s.GetHistory("u1", 0)))

	s.TruncateHistory("u1", 10)
	assert.Equal(t, 5, s.HistoryLen("u1"))

	s.ClearHistory("u1")
	assert.Equal(t, 0, s.HistoryLen("u1"))
	assert.Equal(t, 0, s.size())
}

func TestSweepExpired(t *testing.T) {
	s, clk := newTestStore()

	s.SetActiveContext("short", convo.Context{}, time.Minute)
	s.SetActiveContext("long", convo.Context{}, time.Hour)
	s.SetActiveContext("chatty", convo.Context{}, time.Minute)
	s.AppendHistory("chatty", convo.Turn{Role: convo.RoleUser, Content: "oi"})

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 2, s.SweepExpired())
	assert.Equal(t, 0, s.SweepExpired())

	_, ok := s.ExpiresAt("short")
	assert.False(t, ok)
	_, ok = s.GetActiveContext("long")
	assert.True(t, ok)
	assert.Equal(t, 1, s.HistoryLen("chatty"), "sweeping a context keeps the history")
	assert.Equal(t, 2, s.size())
}

func TestCountsAndUsers(t *testing.T) {
	s, clk := newTestStore()

	s.SetActiveContext("a", convo.Context{}, time.Minute)
	s.SetActiveContext("b", convo.Context{}, time.Hour)
	s.AppendHistory("b", convo.Turn{Role: convo.RoleUser, Content: "x"})
	s.AppendHistory("c", convo.Turn{Role: convo.RoleUser, Content: "y"})

	c := s.Counts()
	assert.Equal(t, 2, c.ActiveContexts)
	assert.Equal(t, 2, c.BufferedHistories)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, c.Users)
	assert.ElementsMatch(t, []string{"b", "c"}, s.Users())

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, s.Counts().ActiveContexts)
}

func TestConcurrentUsers(t *testing.T) {
	s, _ := newTestStore()

	var wg sync.WaitGroup
	for u := 0; u < 16; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", u)
			for i := 0; i < 50; i++ {
				s.AppendHistory(id, convo.Turn{Role: convo.RoleUser, Content: fmt.Sprintf("%d", i)})
				s.SetActiveContext(id, convo.Context{Topic: id}, 0)
				s.GetHistory(id, 5)
				s.SweepExpired()
			}
		}(u)
	}
	wg.Wait()

	for u := 0; u < 16; u++ {
		id := fmt.Sprintf("user-%d", u)
		got := s.GetHistory(id, 0)
		require.Len(t, got, DefaultMaxHistory)
		assert.Equal(t, "30", got[0].Content)
		assert.Equal(t, "49", got[len(got)-1].Content)
	}
}
