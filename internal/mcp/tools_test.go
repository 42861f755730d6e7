package mcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/convmem/internal/clock"
	"github.com/memvra/convmem/internal/config"
	"github.com/memvra/convmem/internal/longterm"
	"github.com/memvra/convmem/internal/memory"
	"github.com/memvra/convmem/internal/prompt"
	"github.com/memvra/convmem/internal/retention"
)

func newTestServer(t *testing.T) (*Server, *clock.Manual) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "memory.db")
	clk := clock.NewManual(time.Date(2026, 4, 3, 18, 0, 0, 0, time.UTC))

	mgr, err := memory.New(cfg, memory.WithClock(clk), memory.WithScheduler(retention.NewManual()))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return NewServer(mgr, "test", WithCounter(prompt.Estimator{})), clk
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	var sb strings.Builder
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			sb.WriteString(tc.Text)
		case *mcp.TextContent:
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestTools_Registered(t *testing.T) {
	s, _ := newTestServer(t)

	var names []string
	for _, tool := range s.tools() {
		names = append(names, tool.Tool.Name)
		assert.NotNil(t, tool.Handler, tool.Tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"append_history", "get_history", "set_context", "get_context", "save_memory",
		"get_memories", "get_memory", "get_recent_topics", "get_profile", "build_prompt", "get_stats",
	}, names)
}

func TestAppendHistory_ConsolidatesIntoTopics(t *testing.T) {
	s, clk := newTestServer(t)
	ctx := context.Background()

	for _, msg := range []string{"vamos jogar", "que jogo?", "o jogo novo", "bora", "ok"} {
		res, err := s.handleAppendHistory(ctx, call(map[string]any{"user_id": "u1", "guild_id": "g1", "content": msg}))
		require.NoError(t, err)
		require.False(t, res.IsError, resultText(t, res))
		clk.Advance(10 * time.Second)
	}

	res, _ := s.handleGetRecentTopics(ctx, call(map[string]any{"user_id": "u1"}))
	assert.Contains(t, resultText(t, res), "jogo (neutral, 5 messages")

	res, _ = s.handleGetHistory(ctx, call(map[string]any{"user_id": "u1", "limit": 2}))
	text := resultText(t, res)
	assert.Contains(t, text, "user: bora")
	assert.Contains(t, text, "user: ok")
	assert.NotContains(t, text, "o jogo novo")
}

func TestAppendHistory_Validation(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleAppendHistory(ctx, call(map[string]any{"user_id": "u1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _ = s.handleAppendHistory(ctx, call(map[string]any{"user_id": "u1", "content": "x", "role": "system"}))
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "invalid role")
}

func TestContextTools(t *testing.T) {
	s, clk := newTestServer(t)
	ctx := context.Background()

	res, _ := s.handleGetContext(ctx, call(map[string]any{"user_id": "u1"}))
	assert.Equal(t, "No active context.", resultText(t, res))

	s.handleSetContext(ctx, call(map[string]any{"user_id": "u1", "topic": "anime", "ttl_minutes": 5}))
	res, _ = s.handleGetContext(ctx, call(map[string]any{"user_id": "u1"}))
	assert.Contains(t, resultText(t, res), `"topic":"anime"`)

	clk.Advance(6 * time.Minute)
	res, _ = s.handleGetContext(ctx, call(map[string]any{"user_id": "u1"}))
	assert.Equal(t, "No active context.", resultText(t, res))
}

func TestSetContext_EntitiesInferTopic(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.handleSetContext(ctx, call(map[string]any{
		"user_id": "u1", "people": "Ana, ", "events": "aniversário", "ttl_minutes": 5,
	}))
	require.False(t, res.IsError, resultText(t, res))

	res, _ = s.handleGetContext(ctx, call(map[string]any{"user_id": "u1"}))
	text := resultText(t, res)
	assert.Contains(t, text, `"topic":"Ana - aniversário"`)
	assert.Contains(t, text, `"people":["Ana"]`)
	assert.Contains(t, text, `"expires_at":`)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList("a, b,,c "))
	assert.Nil(t, splitList(" , "))
}

func TestGetMemory(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	s.handleSaveMemory(ctx, call(map[string]any{"user_id": "u1", "type": "fact", "content": "tem um gato"}))
	mems := s.mgr.GetMemories(ctx, "u1", longterm.MemoryQuery{})
	require.Len(t, mems, 1)

	res, err := s.handleGetMemory(ctx, call(map[string]any{"id": mems[0].ID}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "tem um gato")

	res, _ = s.handleGetMemory(ctx, call(map[string]any{"id": "nope"}))
	assert.True(t, res.IsError)

	res, _ = s.handleGetMemory(ctx, call(nil))
	assert.True(t, res.IsError)
}

func TestSaveAndGetMemories(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.handleSaveMemory(ctx, call(map[string]any{"user_id": "u1", "type": "preference", "content": "Eu gosto de pizza"}))
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "relevance 0.85, mentioned 1x")

	res, _ = s.handleSaveMemory(ctx, call(map[string]any{"user_id": "u1", "type": "decision", "content": "x"}))
	assert.True(t, res.IsError)

	res, _ = s.handleGetMemories(ctx, call(map[string]any{"user_id": "u1", "min_relevance": 0.5}))
	assert.Contains(t, resultText(t, res), "[preference] Eu gosto de pizza")

	res, _ = s.handleGetMemories(ctx, call(map[string]any{"user_id": "u1", "type": "fact"}))
	assert.Equal(t, "No memories stored.", resultText(t, res))
}

func TestGetProfile(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.handleGetProfile(ctx, call(map[string]any{"user_id": "u1"}))
	assert.Equal(t, "Nothing remembered yet.", resultText(t, res))

	s.handleSaveMemory(ctx, call(map[string]any{"user_id": "u1", "type": "opinion", "content": "odeia segunda-feira"}))
	res, _ = s.handleGetProfile(ctx, call(map[string]any{"user_id": "u1"}))
	assert.Equal(t, "Opinions: odeia segunda-feira\n", resultText(t, res))

	res, _ = s.handleGetProfile(ctx, call(map[string]any{"user_id": "u1", "format": "markdown"}))
	assert.Contains(t, resultText(t, res), "# Memory Profile: u1")

	res, _ = s.handleGetProfile(ctx, call(map[string]any{"user_id": "u1", "format": "yaml"}))
	assert.True(t, res.IsError)
}

func TestBuildPrompt(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.handleBuildPrompt(ctx, call(map[string]any{"user_id": "u1"}))
	assert.Equal(t, "Nothing remembered yet.", resultText(t, res))

	s.handleSetContext(ctx, call(map[string]any{"user_id": "u1", "topic": "jogo"}))
	s.handleSaveMemory(ctx, call(map[string]any{"user_id": "u1", "type": "preference", "content": "gosta de futebol"}))
	s.handleAppendHistory(ctx, call(map[string]any{"user_id": "u1", "content": "vamos ver o jogo hoje"}))

	res, err := s.handleBuildPrompt(ctx, call(map[string]any{"user_id": "u1", "max_tokens": 500}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Current conversation: topic jogo")
	assert.Contains(t, text, "gosta de futebol")
	assert.Contains(t, text, "user: vamos ver o jogo hoje")
}

func TestGetStats(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	s.handleSetContext(ctx, call(map[string]any{"user_id": "u1"}))
	s.handleSaveMemory(ctx, call(map[string]any{"user_id": "u2", "type": "fact", "content": "tem um gato"}))

	res, err := s.handleGetStats(ctx, call(nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Active contexts: 1")
	assert.Contains(t, text, "Consolidating: 0")
	assert.Contains(t, text, "Memories: 1")
	assert.Contains(t, text, "Users: 2")
}
