package longterm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/memvra/convmem/internal/clock"
	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/db"
	"github.com/memvra/convmem/internal/decay"
)

const (
	// DefaultMemoryLimit caps GetMemories when the query sets no limit.
	DefaultMemoryLimit = 10
	// DefaultTopicLimit caps GetRecentTopics when called with limit <= 0.
	DefaultTopicLimit = 5

	// DefaultMemoryMaxAgeDays and DefaultMemoryMinRelevance drive CleanupOldMemories.
	DefaultMemoryMaxAgeDays   = 90
	DefaultMemoryMinRelevance = 0.3
	// DefaultTopicMaxAgeDays drives CleanupOldTopics.
	DefaultTopicMaxAgeDays = 30

	repeatBonus          = 0.2
	repeatBonusThreshold = 3
	msPerDay             = int64(24 * 60 * 60 * 1000)
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("longterm: not found")

// Store provides read/write access to the long-term tables.
type Store struct {
	db    *db.DB
	clock clock.Clock
}

// NewStore creates a Store backed by the given DB. A nil clock means the wall clock.
func NewStore(database *db.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{db: database, clock: clk}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---- Memories ----

// SaveMemory inserts a memory, or merges it into the existing row with the
// same (user, type, content). A merge bumps the mention count, keeps the
// higher relevance, adds a bonus once the content has been mentioned more
// than three times, and refreshes last_mentioned_at.
func (s *Store) SaveMemory(ctx context.Context, in MemoryInput) (Memory, error) {
	now := clock.NowMillis(s.clock)
	relevance := decay.Clamp(in.Relevance)

	var out Memory
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanMemory(tx.QueryRowContext(ctx, `
			SELECT `+memoryColumns+`
			FROM user_memories
			WHERE user_id = ? AND memory_type = ? AND content = ?
			LIMIT 1`,
			in.UserID, string(in.Type), in.Content,
		))
		switch {
		case errors.Is(err, ErrNotFound):
			out, err = insertMemory(ctx, tx, in, relevance, now)
		case err != nil:
			return fmt.Errorf("lookup: %w", err)
		default:
			out, err = mergeMemory(ctx, tx, existing, relevance, now)
		}
		return err
	})
	if err != nil {
		return Memory{}, fmt.Errorf("longterm: save memory: %w", err)
	}
	return out, nil
}

func insertMemory(ctx context.Context, tx *sql.Tx, in MemoryInput, relevance float64, now int64) (Memory, error) {
	metadata, err := encodeMetadata(in.Metadata)
	if err != nil {
		return Memory{}, fmt.Errorf("encode metadata: %w", err)
	}
	m := Memory{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		GuildID:          in.GuildID,
		Type:             in.Type,
		Content:          in.Content,
		RelevanceScore:   relevance,
		FirstMentionedAt: now,
		LastMentionedAt:  now,
		MentionCount:     1,
		Metadata:         in.Metadata,
		CreatedAt:        now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_memories (id, user_id, guild_id, memory_type, content, relevance_score,
		                           first_mentioned_at, last_mentioned_at, mention_count, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, nullable(m.GuildID), string(m.Type), m.Content, m.RelevanceScore,
		m.FirstMentionedAt, m.LastMentionedAt, m.MentionCount, metadata, m.CreatedAt,
	)
	if err != nil {
		return Memory{}, fmt.Errorf("insert: %w", err)
	}
	return m, nil
}

func mergeMemory(ctx context.Context, tx *sql.Tx, m Memory, relevance float64, now int64) (Memory, error) {
	m.MentionCount++
	bonus := 0.0
	if m.MentionCount > repeatBonusThreshold {
		bonus = repeatBonus
	}
	m.RelevanceScore = math.Min(1.0, math.Max(m.RelevanceScore, relevance)+bonus)
	m.LastMentionedAt = now

	_, err := tx.ExecContext(ctx, `
		UPDATE user_memories
		SET mention_count = ?, relevance_score = ?, last_mentioned_at = ?
		WHERE id = ?`,
		m.MentionCount, m.RelevanceScore, m.LastMentionedAt, m.ID,
	)
	if err != nil {
		return Memory{}, fmt.Errorf("merge %s: %w", m.ID, err)
	}
	return m, nil
}

// GetMemories returns the user's memories, most relevant first and, among
// equals, most recently mentioned first.
func (s *Store) GetMemories(ctx context.Context, userID string, q MemoryQuery) ([]Memory, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}

	var where strings.Builder
	args := []any{userID}
	where.WriteString(`user_id = ?`)
	if q.Type != "" {
		where.WriteString(` AND memory_type = ?`)
		args = append(args, string(q.Type))
	}
	if q.MinRelevance > 0 {
		where.WriteString(` AND relevance_score >= ?`)
		args = append(args, q.MinRelevance)
	}
	args = append(args, limit)

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM user_memories
		WHERE `+where.String()+`
		ORDER BY relevance_score DESC, last_mentioned_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("longterm: get memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("longterm: get memories: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMemoryByID returns a single memory by its ID.
func (s *Store) GetMemoryByID(ctx context.Context, id string) (Memory, error) {
	m, err := scanMemory(s.db.Conn().QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM user_memories WHERE id = ?`, id,
	))
	if err != nil {
		return Memory{}, fmt.Errorf("longterm: memory %q: %w", id, err)
	}
	return m, nil
}

// CleanupOldMemories deletes memories that are both stale (not mentioned for
// daysOld days) and weak (relevance below minRelevance). Non-positive
// arguments fall back to the defaults.
func (s *Store) CleanupOldMemories(ctx context.Context, daysOld int, minRelevance float64) (int, error) {
	if daysOld <= 0 {
		daysOld = DefaultMemoryMaxAgeDays
	}
	if minRelevance <= 0 {
		minRelevance = DefaultMemoryMinRelevance
	}
	cutoff := clock.NowMillis(s.clock) - int64(daysOld)*msPerDay

	res, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM user_memories WHERE last_mentioned_at < ? AND relevance_score < ?`,
		cutoff, minRelevance,
	)
	if err != nil {
		return 0, fmt.Errorf("longterm: cleanup memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("longterm: cleanup memories: rows affected: %w", err)
	}
	return int(n), nil
}

// CountMemories returns the total number of stored memories.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM user_memories`).Scan(&n)
	return n, err
}

// ---- Topics ----

// SaveTopic inserts one conversation topic row.
func (s *Store) SaveTopic(ctx context.Context, t Topic) (Topic, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Sentiment == "" {
		t.Sentiment = convo.SentimentNeutral
	}
	if t.MessageCount < 1 {
		t.MessageCount = 1
	}
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO conversation_topics (id, user_id, guild_id, topic, sentiment, message_count, started_at, ended_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullable(t.GuildID), t.Topic, string(t.Sentiment), t.MessageCount,
		t.StartedAt, t.EndedAt, nullable(t.Summary),
	)
	if err != nil {
		return Topic{}, fmt.Errorf("longterm: save topic: %w", err)
	}
	return t, nil
}

// GetRecentTopics returns up to limit of the user's topics that are still
// relevant, ranked by decayed relevance of their end time. Relevance is set
// on each returned topic.
func (s *Store) GetRecentTopics(ctx context.Context, userID string, limit int) ([]Topic, error) {
	if limit <= 0 {
		limit = DefaultTopicLimit
	}

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, user_id, COALESCE(guild_id,''), topic, sentiment, message_count,
		       started_at, ended_at, COALESCE(summary,'')
		FROM conversation_topics
		WHERE user_id = ?
		ORDER BY ended_at DESC
		LIMIT ?`, userID, 2*limit,
	)
	if err != nil {
		return nil, fmt.Errorf("longterm: recent topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fetched []Topic
	for rows.Next() {
		var t Topic
		var sentiment string
		if err := rows.Scan(&t.ID, &t.UserID, &t.GuildID, &t.Topic, &sentiment, &t.MessageCount,
			&t.StartedAt, &t.EndedAt, &t.Summary); err != nil {
			return nil, fmt.Errorf("longterm: recent topics: %w", err)
		}
		t.Sentiment = convo.Sentiment(sentiment)
		fetched = append(fetched, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("longterm: recent topics: %w", err)
	}

	now := clock.NowMillis(s.clock)
	endedAt := func(t Topic) int64 { return t.EndedAt }
	ranked := decay.Rank(decay.FilterRelevant(fetched, endedAt, now, decay.DefaultThreshold), endedAt, now)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Relevance = decay.Relevance(ranked[i].EndedAt, now)
	}
	return ranked, nil
}

// CleanupOldTopics deletes topics that ended more than daysOld days ago,
// regardless of relevance. A non-positive daysOld means the default.
func (s *Store) CleanupOldTopics(ctx context.Context, daysOld int) (int, error) {
	if daysOld <= 0 {
		daysOld = DefaultTopicMaxAgeDays
	}
	cutoff := clock.NowMillis(s.clock) - int64(daysOld)*msPerDay

	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM conversation_topics WHERE ended_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("longterm: cleanup topics: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("longterm: cleanup topics: rows affected: %w", err)
	}
	return int(n), nil
}

// CountTopics returns the total number of stored topics.
func (s *Store) CountTopics(ctx context.Context) (int, error) {
	var n int
	err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_topics`).Scan(&n)
	return n, err
}

// DistinctUsers returns every user ID that owns a memory or a topic.
func (s *Store) DistinctUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT user_id FROM user_memories
		UNION
		SELECT user_id FROM conversation_topics
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("longterm: distinct users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- Helpers ----

const memoryColumns = `id, user_id, COALESCE(guild_id,''), memory_type, content, relevance_score,
	first_mentioned_at, last_mentioned_at, mention_count, metadata, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (Memory, error) {
	var m Memory
	var mt, metadata string
	err := row.Scan(&m.ID, &m.UserID, &m.GuildID, &mt, &m.Content, &m.RelevanceScore,
		&m.FirstMentionedAt, &m.LastMentionedAt, &m.MentionCount, &metadata, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, ErrNotFound
	}
	if err != nil {
		return Memory{}, err
	}
	m.Type = convo.MemoryType(mt)
	m.Metadata = decodeMetadata(metadata)
	return m, nil
}

// encodeMetadata is the only place metadata becomes JSON.
func encodeMetadata(md convo.Metadata) (string, error) {
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

// decodeMetadata is lenient: malformed JSON yields empty metadata.
func decodeMetadata(raw string) convo.Metadata {
	var md convo.Metadata
	if raw == "" || raw == "{}" {
		return md
	}
	_ = json.Unmarshal([]byte(raw), &md)
	return md
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
