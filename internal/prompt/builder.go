// Package prompt assembles a token-budgeted personalization block from a
// user's short-term and long-term memory.
package prompt

import (
	"fmt"
	"strings"

	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/decay"
	"github.com/memvra/convmem/internal/longterm"
)

const DefaultMaxTokens = 1000

// Input is everything the Builder may draw from.
type Input struct {
	Profile longterm.Profile
	Context *convo.Context // nil when no context is active
	History []convo.HistoryEntry
}

// Built is the assembled block and what went into it.
type Built struct {
	Text         string
	TokensUsed   int
	MemoriesUsed int
	TopicsUsed   int
	TurnsUsed    int
}

// Builder fills a token budget in priority order: active context, memories
// (strongest first), recent topics, then the newest history turns.
type Builder struct {
	counter Counter
}

// NewBuilder creates a Builder. A nil counter means DefaultCounter.
func NewBuilder(c Counter) *Builder {
	if c == nil {
		c = DefaultCounter()
	}
	return &Builder{counter: c}
}

// Build renders in within maxTokens. A non-positive budget means
// DefaultMaxTokens. Items that do not fit are skipped whole, except an
// oversize context line, which is cut to the budget when the counter is a
// Truncator.
func (b *Builder) Build(in Input, maxTokens int) Built {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	var out Built
	var sections []string
	remaining := maxTokens

	fits := func(s string) bool {
		n := b.counter.Count(s)
		if n > remaining {
			return false
		}
		remaining -= n
		out.TokensUsed += n
		return true
	}

	if in.Context != nil {
		line := formatContext(*in.Context)
		if t, ok := b.counter.(Truncator); ok && line != "" && b.counter.Count(line) > remaining {
			line = strings.TrimSpace(t.Truncate(line, remaining))
			if line != "" {
				line += "\n"
			}
		}
		if line != "" && fits(line) {
			sections = append(sections, line)
		}
	}

	var mems []string
	for _, m := range in.Profile.Memories {
		line := fmt.Sprintf("- [%s, %s] %s\n", m.Type, decay.CategoryOf(m.RelevanceScore), m.Content)
		if !fits(line) {
			continue
		}
		mems = append(mems, line)
		out.MemoriesUsed++
	}
	if len(mems) > 0 {
		sections = append(sections, "What you know about the user:\n"+strings.Join(mems, ""))
	}

	var topics []string
	for _, t := range in.Profile.Topics {
		item := fmt.Sprintf("%s (%s)", t.Topic, t.Sentiment)
		if !fits(item + ", ") {
			continue
		}
		topics = append(topics, item)
		out.TopicsUsed++
	}
	if len(topics) > 0 {
		sections = append(sections, "Recent topics: "+strings.Join(topics, ", ")+"\n")
	}

	// Walk history newest first so the latest turns win the budget, then
	// restore chronological order.
	var turns []string
	for i := len(in.History) - 1; i >= 0; i-- {
		e := in.History[i]
		line := fmt.Sprintf("%s: %s\n", e.Role, e.Content)
		if !fits(line) {
			break
		}
		turns = append(turns, line)
		out.TurnsUsed++
	}
	if len(turns) > 0 {
		for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
			turns[i], turns[j] = turns[j], turns[i]
		}
		sections = append(sections, "Recent conversation:\n"+strings.Join(turns, ""))
	}

	out.Text = strings.Join(sections, "\n")
	return out
}

func formatContext(c convo.Context) string {
	var parts []string
	if c.Topic != "" {
		parts = append(parts, "topic "+c.Topic)
	}
	e := c.Entities
	for _, g := range []struct {
		label string
		items []string
	}{
		{"people", e.People},
		{"places", e.Places},
		{"events", e.Events},
		{"objects", e.Objects},
	} {
		if len(g.items) > 0 {
			parts = append(parts, g.label+" "+strings.Join(g.items, ", "))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Current conversation: " + strings.Join(parts, "; ") + "\n"
}
