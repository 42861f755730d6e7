package convo

// MemoryType classifies a persisted memory.
type MemoryType string

const (
	TypePreference   MemoryType = "preference"
	TypePersonalInfo MemoryType = "personal_info"
	TypeOpinion      MemoryType = "opinion"
	TypeFact         MemoryType = "fact"
	TypeEvent        MemoryType = "event"
	TypeNote         MemoryType = "note"
)

// Sentiment is the overall mood of a batch of messages.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Metadata carries optional signals attached to a memory. It is encoded to
// JSON only at the storage boundary.
type Metadata struct {
	// Timestamp is when the memory content was originally observed (epoch ms).
	Timestamp *int64 `json:"timestamp,omitempty"`
	// MentionCount is how often the content was mentioned before saving.
	MentionCount *int           `json:"mention_count,omitempty"`
	Source       string         `json:"source,omitempty"`
	Topic        string         `json:"topic,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Int64 returns a pointer to v, for filling optional Metadata fields.
func Int64(v int64) *int64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// ValidMemoryType reports whether t is one of the known memory types.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case TypePreference, TypePersonalInfo, TypeOpinion, TypeFact, TypeEvent, TypeNote:
		return true
	}
	return false
}
