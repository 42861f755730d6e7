// Package longterm persists consolidated memories and conversation topics in
// SQLite and answers the retention queries run against them.
package longterm

import "github.com/memvra/convmem/internal/convo"

// Memory is a single persisted memory row.
type Memory struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	GuildID          string           `json:"guild_id,omitempty"`
	Type             convo.MemoryType `json:"memory_type"`
	Content          string           `json:"content"`
	RelevanceScore   float64          `json:"relevance_score"`
	FirstMentionedAt int64            `json:"first_mentioned_at"`
	LastMentionedAt  int64            `json:"last_mentioned_at"`
	MentionCount     int              `json:"mention_count"`
	Metadata         convo.Metadata   `json:"metadata"`
	CreatedAt        int64            `json:"created_at"`
}

// MemoryInput is what callers hand to SaveMemory.
type MemoryInput struct {
	UserID    string
	GuildID   string
	Type      convo.MemoryType
	Content   string
	Relevance float64
	Metadata  convo.Metadata
}

// MemoryQuery filters GetMemories. Zero values mean "no filter"; a zero
// Limit means DefaultMemoryLimit.
type MemoryQuery struct {
	Type         convo.MemoryType
	MinRelevance float64
	Limit        int
}

// Topic is a persisted conversation topic. Relevance is not stored; it is
// the decayed score computed by GetRecentTopics.
type Topic struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	GuildID      string          `json:"guild_id,omitempty"`
	Topic        string          `json:"topic"`
	Sentiment    convo.Sentiment `json:"sentiment"`
	MessageCount int             `json:"message_count"`
	StartedAt    int64           `json:"started_at"`
	EndedAt      int64           `json:"ended_at"`
	Summary      string          `json:"summary,omitempty"`
	Relevance    float64         `json:"relevance,omitempty"`
}

// Profile is a user's strongest memories and recent topics, gathered for
// rendering.
type Profile struct {
	UserID      string
	GeneratedAt int64 // epoch ms
	Memories    []Memory
	Topics      []Topic
}
