package export

import (
	"encoding/json"

	"github.com/memvra/convmem/internal/longterm"
)

// JSONExporter renders a profile as structured JSON.
type JSONExporter struct{}

type jsonOutput struct {
	UserID      string                  `json:"user_id"`
	GeneratedAt int64                   `json:"generated_at,omitempty"`
	Memories    map[string][]jsonMemory `json:"memories"`
	Topics      []jsonTopic             `json:"topics"`
}

type jsonMemory struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	Relevance    float64 `json:"relevance"`
	MentionCount int     `json:"mention_count"`
	LastSeen     int64   `json:"last_mentioned_at"`
	Source       string  `json:"source,omitempty"`
}

type jsonTopic struct {
	Topic        string  `json:"topic"`
	Sentiment    string  `json:"sentiment"`
	MessageCount int     `json:"message_count"`
	StartedAt    int64   `json:"started_at"`
	EndedAt      int64   `json:"ended_at"`
	Relevance    float64 `json:"relevance"`
}

func (e *JSONExporter) Export(p longterm.Profile) (string, error) {
	out := jsonOutput{
		UserID:      p.UserID,
		GeneratedAt: p.GeneratedAt,
		Memories:    groupMemoriesByType(p.Memories),
		Topics:      make([]jsonTopic, 0, len(p.Topics)),
	}
	for _, t := range p.Topics {
		out.Topics = append(out.Topics, jsonTopic{
			Topic:        t.Topic,
			Sentiment:    string(t.Sentiment),
			MessageCount: t.MessageCount,
			StartedAt:    t.StartedAt,
			EndedAt:      t.EndedAt,
			Relevance:    t.Relevance,
		})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func groupMemoriesByType(memories []longterm.Memory) map[string][]jsonMemory {
	groups := make(map[string][]jsonMemory)
	for _, m := range memories {
		key := string(m.Type)
		groups[key] = append(groups[key], jsonMemory{
			ID:           m.ID,
			Content:      m.Content,
			Relevance:    m.RelevanceScore,
			MentionCount: m.MentionCount,
			LastSeen:     m.LastMentionedAt,
			Source:       m.Metadata.Source,
		})
	}
	return groups
}
