// Package convo defines the conversation types shared by the short-term
// store, the topic extractor and the consolidator.
package convo

// Role identifies who produced a history entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ValidRole reports whether r is a recognised role.
func ValidRole(r Role) bool {
	return r == RoleUser || r == RoleAgent
}

// Turn is a raw conversational turn handed over by the messaging layer.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HistoryEntry is a turn stamped with the time it was buffered.
type HistoryEntry struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch ms
}

// Entities is the bag produced by an external entity recognizer.
type Entities struct {
	People  []string `json:"people,omitempty"`
	Places  []string `json:"places,omitempty"`
	Events  []string `json:"events,omitempty"`
	Objects []string `json:"objects,omitempty"`
}

// Empty reports whether no entity was recognised.
func (e Entities) Empty() bool {
	return len(e.People) == 0 && len(e.Places) == 0 && len(e.Events) == 0 && len(e.Objects) == 0
}

// Context is the volatile per-user conversational state. It is replaced
// wholesale on every write; merging is the caller's job.
type Context struct {
	Topic         string         `json:"topic,omitempty"`
	Entities      Entities       `json:"entities"`
	LastMessageAt int64          `json:"last_message_at,omitempty"` // epoch ms
	Extra         map[string]any `json:"extra,omitempty"`
}

// Contents returns the text of every entry, in order.
func Contents(batch []HistoryEntry) []string {
	out := make([]string, len(batch))
	for i, e := range batch {
		out[i] = e.Content
	}
	return out
}
