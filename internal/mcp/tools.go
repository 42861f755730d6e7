package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/export"
	"github.com/memvra/convmem/internal/longterm"
	"github.com/memvra/convmem/internal/prompt"
)

func (s *Server) handleAppendHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}
	role := convo.Role(req.GetString("role", string(convo.RoleUser)))
	if !convo.ValidRole(role) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid role %q (valid: user, agent)", role)), nil
	}

	s.mgr.AppendHistory(ctx, user, req.GetString("guild_id", ""), convo.Turn{Role: role, Content: content})
	n := len(s.mgr.GetHistory(user, 0))
	return mcp.NewToolResultText(fmt.Sprintf("Buffered (%d turns in history).", n)), nil
}

func (s *Server) handleGetHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}

	entries := s.mgr.GetHistory(user, req.GetInt("limit", 0))
	if len(entries) == 0 {
		return mcp.NewToolResultText("No buffered history."), nil
	}

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", time.UnixMilli(e.Timestamp).UTC().Format("15:04:05"), e.Role, e.Content)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleSetContext(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}

	ttl := time.Duration(req.GetInt("ttl_minutes", 0)) * time.Minute
	s.mgr.SetActiveContext(user, convo.Context{
		Topic: req.GetString("topic", ""),
		Entities: convo.Entities{
			People:  splitList(req.GetString("people", "")),
			Places:  splitList(req.GetString("places", "")),
			Events:  splitList(req.GetString("events", "")),
			Objects: splitList(req.GetString("objects", "")),
		},
	}, ttl)
	return mcp.NewToolResultText("Context set."), nil
}

// splitList turns "a, b,,c" into [a b c].
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) handleGetContext(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}

	c, ok := s.mgr.GetActiveContext(user)
	if !ok {
		return mcp.NewToolResultText("No active context."), nil
	}
	expiresAt, _ := s.mgr.ContextExpiresAt(user)
	b, err := json.Marshal(struct {
		convo.Context
		ExpiresAt int64 `json:"expires_at"`
	}{c, expiresAt})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode context: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleSaveMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	typeStr, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: type"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}

	mt := convo.MemoryType(typeStr)
	if !convo.ValidMemoryType(mt) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid type %q (valid: preference, personal_info, opinion, fact, event, note)", typeStr)), nil
	}

	m, ok := s.mgr.SaveMemory(ctx, user, req.GetString("guild_id", ""), mt, content, convo.Metadata{Source: "mcp"})
	if !ok {
		return mcp.NewToolResultError("failed to store memory"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Remembered as %s (id: %s, relevance %.2f, mentioned %dx)",
		m.Type, m.ID, m.RelevanceScore, m.MentionCount)), nil
}

func (s *Server) handleGetMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}

	mems := s.mgr.GetMemories(ctx, user, longterm.MemoryQuery{
		Type:         convo.MemoryType(req.GetString("type", "")),
		MinRelevance: req.GetFloat("min_relevance", 0),
		Limit:        req.GetInt("limit", 0),
	})
	if len(mems) == 0 {
		return mcp.NewToolResultText("No memories stored."), nil
	}

	var sb strings.Builder
	for _, m := range mems {
		fmt.Fprintf(&sb, "[%s] %s\n  id: %s | relevance: %.2f | mentioned: %dx\n\n",
			m.Type, m.Content, m.ID, m.RelevanceScore, m.MentionCount)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleGetMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	m, ok := s.mgr.GetMemory(ctx, id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("memory %s not found", id)), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode memory: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleGetRecentTopics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}

	ts := s.mgr.GetRecentTopics(ctx, user, req.GetInt("limit", 0))
	if len(ts) == 0 {
		return mcp.NewToolResultText("No recent topics."), nil
	}

	var sb strings.Builder
	for _, t := range ts {
		fmt.Fprintf(&sb, "%s (%s, %d messages, relevance %.2f)\n", t.Topic, t.Sentiment, t.MessageCount, t.Relevance)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleGetProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	format := req.GetString("format", "prompt")
	exp, ok := export.Get(format)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q (valid: %s)", format, strings.Join(export.ValidFormats(), ", "))), nil
	}

	out, err := exp.Export(s.mgr.Profile(ctx, user, 0, 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to render profile: %v", err)), nil
	}
	if out == "" {
		out = "Nothing remembered yet."
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleBuildPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}

	in := prompt.Input{
		Profile: s.mgr.Profile(ctx, user, 0, 0),
		History: s.mgr.GetHistory(user, 0),
	}
	if c, ok := s.mgr.GetActiveContext(user); ok {
		in.Context = &c
	}
	built := s.promptBuilder().Build(in, req.GetInt("max_tokens", 0))
	if built.Text == "" {
		return mcp.NewToolResultText("Nothing remembered yet."), nil
	}
	return mcp.NewToolResultText(built.Text), nil
}

func (s *Server) handleGetStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.mgr.GetStats(ctx)
	return mcp.NewToolResultText(fmt.Sprintf(
		"Active contexts: %d\nBuffered histories: %d\nConsolidating: %d\nMemories: %d\nTopics: %d\nUsers: %d\n",
		st.ActiveContexts, st.BufferedHistories, st.Consolidating, st.Memories, st.Topics, st.Users)), nil
}
