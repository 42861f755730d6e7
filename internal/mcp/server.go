// Package mcp exposes a memory Manager to agent hosts as MCP tools over stdio.
package mcp

import (
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memvra/convmem/internal/memory"
	"github.com/memvra/convmem/internal/prompt"
)

// Server wraps an MCP server bound to one Manager.
type Server struct {
	mgr *memory.Manager
	srv *server.MCPServer

	counter     prompt.Counter
	builderOnce sync.Once
	builder     *prompt.Builder
}

// Option configures a Server.
type Option func(*Server)

// WithCounter sets the token counter used by build_prompt. By default the
// tiktoken encoding is loaded on first use.
func WithCounter(c prompt.Counter) Option {
	return func(s *Server) { s.counter = c }
}

// NewServer creates a Server and registers every tool.
func NewServer(mgr *memory.Manager, version string, opts ...Option) *Server {
	s := &Server{
		mgr: mgr,
		srv: server.NewMCPServer("convmem", version, server.WithToolCapabilities(false)),
	}
	for _, o := range opts {
		o(s)
	}
	s.srv.AddTools(s.tools()...)
	return s
}

func (s *Server) promptBuilder() *prompt.Builder {
	s.builderOnce.Do(func() { s.builder = prompt.NewBuilder(s.counter) })
	return s.builder
}

// ServeStdio serves requests on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.srv)
}

func (s *Server) tools() []server.ServerTool {
	userID := mcp.WithString("user_id", mcp.Required(), mcp.Description("Conversing user's ID"))
	guildID := mcp.WithString("guild_id", mcp.Description("Guild (server) the conversation happens in"))

	return []server.ServerTool{
		{
			Tool: mcp.NewTool("append_history",
				mcp.WithDescription("Buffer one conversation turn. Consolidates the buffer into topics once it is long enough."),
				userID, guildID,
				mcp.WithString("role", mcp.Enum("user", "agent"), mcp.Description("Who said it (default user)")),
				mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
			),
			Handler: s.handleAppendHistory,
		},
		{
			Tool: mcp.NewTool("get_history",
				mcp.WithDescription("Return the user's newest buffered turns, oldest first."),
				userID,
				mcp.WithNumber("limit", mcp.Description("Maximum number of turns (default all)")),
			),
			Handler: s.handleGetHistory,
		},
		{
			Tool: mcp.NewTool("set_context",
				mcp.WithDescription("Replace the user's active conversation context."),
				userID,
				mcp.WithString("topic", mcp.Description("Current topic (inferred from the entities when empty)")),
				mcp.WithString("people", mcp.Description("Comma-separated people mentioned")),
				mcp.WithString("places", mcp.Description("Comma-separated places mentioned")),
				mcp.WithString("events", mcp.Description("Comma-separated events mentioned")),
				mcp.WithString("objects", mcp.Description("Comma-separated objects mentioned")),
				mcp.WithNumber("ttl_minutes", mcp.Description("Minutes until the context expires (default from config)")),
			),
			Handler: s.handleSetContext,
		},
		{
			Tool: mcp.NewTool("get_context",
				mcp.WithDescription("Return the user's active conversation context, if it has not expired."),
				userID,
			),
			Handler: s.handleGetContext,
		},
		{
			Tool: mcp.NewTool("save_memory",
				mcp.WithDescription("Remember something about the user. Repeats raise the mention count instead of duplicating."),
				userID, guildID,
				mcp.WithString("type", mcp.Required(),
					mcp.Enum("preference", "personal_info", "opinion", "fact", "event", "note"),
					mcp.Description("Memory type")),
				mcp.WithString("content", mcp.Required(), mcp.Description("What to remember")),
			),
			Handler: s.handleSaveMemory,
		},
		{
			Tool: mcp.NewTool("get_memories",
				mcp.WithDescription("List the user's memories, strongest first."),
				userID,
				mcp.WithString("type", mcp.Description("Only memories of this type")),
				mcp.WithNumber("min_relevance", mcp.Description("Only memories at or above this relevance")),
				mcp.WithNumber("limit", mcp.Description("Maximum number of memories (default 10)")),
			),
			Handler: s.handleGetMemories,
		},
		{
			Tool: mcp.NewTool("get_memory",
				mcp.WithDescription("Return one memory by id."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Memory id")),
			),
			Handler: s.handleGetMemory,
		},
		{
			Tool: mcp.NewTool("get_recent_topics",
				mcp.WithDescription("List what the user talked about recently, by decayed relevance."),
				userID,
				mcp.WithNumber("limit", mcp.Description("Maximum number of topics (default 5)")),
			),
			Handler: s.handleGetRecentTopics,
		},
		{
			Tool: mcp.NewTool("get_profile",
				mcp.WithDescription("Render the user's memories and recent topics for a prompt or a person."),
				userID,
				mcp.WithString("format", mcp.Enum("prompt", "markdown", "json"), mcp.Description("Output format (default prompt)")),
			),
			Handler: s.handleGetProfile,
		},
		{
			Tool: mcp.NewTool("build_prompt",
				mcp.WithDescription("Assemble the user's active context, memories, recent topics and newest turns into one block that fits a token budget."),
				userID,
				mcp.WithNumber("max_tokens", mcp.Description("Token budget (default 1000)")),
			),
			Handler: s.handleBuildPrompt,
		},
		{
			Tool: mcp.NewTool("get_stats",
				mcp.WithDescription("Counts of active contexts, buffered histories, memories, topics and users."),
			),
			Handler: s.handleGetStats,
		},
	}
}
