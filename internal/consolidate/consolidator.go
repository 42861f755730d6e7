// Package consolidate migrates buffered short-term history into durable
// conversation topics, one user at a time.
package consolidate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/keylock"
	"github.com/memvra/convmem/internal/longterm"
	"github.com/memvra/convmem/internal/shortterm"
	"github.com/memvra/convmem/internal/topics"
)

const (
	// DefaultThreshold is the buffered history length that triggers a
	// consolidation.
	DefaultThreshold = 5
	// DefaultRetain is how many of the newest entries stay buffered after a
	// consolidation.
	DefaultRetain = 5
)

// TopicWriter persists consolidated topics. *longterm.Store satisfies it.
type TopicWriter interface {
	SaveTopic(ctx context.Context, t longterm.Topic) (longterm.Topic, error)
}

// MemoryWriter persists memories. *longterm.Store satisfies it.
type MemoryWriter interface {
	SaveMemory(ctx context.Context, in longterm.MemoryInput) (longterm.Memory, error)
}

// Outcome says what a consolidation attempt did.
type Outcome int

const (
	// BelowThreshold means the buffer was too short; nothing happened.
	BelowThreshold Outcome = iota
	// Contended means another consolidation for the same user held the lock.
	Contended
	// Consolidated means topics were written and the buffer was drained.
	Consolidated
	// Failed means a write failed or panicked. The buffer is left as is.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case BelowThreshold:
		return "below_threshold"
	case Contended:
		return "contended"
	case Consolidated:
		return "consolidated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports a single consolidation attempt.
type Result struct {
	Outcome  Outcome
	Messages int      // batch size that was considered
	Topics   []string // topics written, in order
}

// Consolidator owns the per-user consolidation lock.
type Consolidator struct {
	history   *shortterm.Store
	extractor *topics.Extractor
	topics    TopicWriter
	memories  MemoryWriter
	locks     keylock.Table
	threshold int
	retain    int
	logger    *slog.Logger
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithThreshold sets the history length that triggers consolidation.
func WithThreshold(n int) Option {
	return func(c *Consolidator) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithRetain sets how many entries are kept buffered after consolidating.
func WithRetain(n int) Option {
	return func(c *Consolidator) {
		if n >= 0 {
			c.retain = n
		}
	}
}

// WithLogger sets the logger. The component attribute is added here.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consolidator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Consolidator reading from history and writing through w.
func New(history *shortterm.Store, extractor *topics.Extractor, tw TopicWriter, mw MemoryWriter, opts ...Option) *Consolidator {
	c := &Consolidator{
		history:   history,
		extractor: extractor,
		topics:    tw,
		memories:  mw,
		threshold: DefaultThreshold,
		retain:    DefaultRetain,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "consolidate")
	return c
}

// Threshold returns the configured trigger length.
func (c *Consolidator) Threshold() int { return c.threshold }

// ConsolidateIfNeeded writes one topic row per topic found in the user's
// buffered history once the buffer reaches the threshold, then drains the
// buffer to its newest entries. When another consolidation for the same user
// is running the call returns immediately; the batch is not queued or retried.
func (c *Consolidator) ConsolidateIfNeeded(ctx context.Context, userID, guildID string) Result {
	return c.consolidate(ctx, userID, guildID, c.threshold)
}

// Flush consolidates whatever is buffered for the user, however short.
func (c *Consolidator) Flush(ctx context.Context, userID, guildID string) Result {
	return c.consolidate(ctx, userID, guildID, 1)
}

// Busy reports whether a consolidation for userID is in progress.
func (c *Consolidator) Busy(userID string) bool {
	return c.locks.Held(userID)
}

// InFlight counts the users being consolidated right now.
func (c *Consolidator) InFlight() int {
	return c.locks.Len()
}

func (c *Consolidator) consolidate(ctx context.Context, userID, guildID string, threshold int) (res Result) {
	if n := c.history.HistoryLen(userID); n < threshold {
		return Result{Outcome: BelowThreshold, Messages: n}
	}

	release, ok := c.locks.TryAcquire(userID)
	if !ok {
		c.logger.Debug("consolidation already running", "user", userID)
		return Result{Outcome: Contended}
	}
	defer release()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("consolidation panicked", "user", userID, "panic", r)
			res.Outcome = Failed
		}
	}()

	batch := c.history.GetHistory(userID, 0)
	res.Messages = len(batch)
	if len(batch) < threshold {
		// Drained by someone else between the length check and the lock.
		res.Outcome = BelowThreshold
		return res
	}

	found := c.extractor.ExtractTopics(batch)
	sentiment := c.extractor.DetectSentiment(batch)
	first, last := batch[0].Timestamp, batch[len(batch)-1].Timestamp

	for _, name := range found {
		_, err := c.topics.SaveTopic(ctx, longterm.Topic{
			UserID:       userID,
			GuildID:      guildID,
			Topic:        name,
			Sentiment:    sentiment,
			MessageCount: len(batch),
			StartedAt:    first,
			EndedAt:      last,
		})
		if err != nil {
			c.logger.Error("save topic failed",
				"user", userID, "topic", name, "messages", len(batch), "error", err)
			res.Outcome = Failed
			return res
		}
		res.Topics = append(res.Topics, name)
	}

	c.history.TruncateHistory(userID, c.retain)
	res.Outcome = Consolidated
	c.logger.Debug("consolidated history",
		"user", userID, "messages", len(batch), "topics", len(res.Topics), "sentiment", sentiment)
	return res
}

// SaveMemory scores content and persists it as a memory for the user.
func (c *Consolidator) SaveMemory(ctx context.Context, userID, guildID string, t convo.MemoryType, content string, md convo.Metadata) (longterm.Memory, error) {
	relevance := c.extractor.CalculateRelevance(content, t, md)
	m, err := c.memories.SaveMemory(ctx, longterm.MemoryInput{
		UserID:    userID,
		GuildID:   guildID,
		Type:      t,
		Content:   content,
		Relevance: relevance,
		Metadata:  md,
	})
	if err != nil {
		return longterm.Memory{}, fmt.Errorf("consolidate: save memory: %w", err)
	}
	return m, nil
}
