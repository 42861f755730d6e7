// Package topics derives topics, sentiment and relevance scores from raw
// conversational text using fixed keyword tables.
package topics

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/memvra/convmem/internal/clock"
	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/decay"
)

const (
	baseRelevance      = 0.5
	importantStep      = 0.05
	importantCap       = 0.3
	preferenceBonus    = 0.2
	rejectionBonus     = 0.15
	sentimentBonus     = 0.15
	ageFloor           = 0.7
	ageWindowDays      = 30.0
	mentionStep        = 0.05
	mentionCap         = 0.2
	personalMarkBonus  = 0.1
	fallbackTopicWords = 3
	msPerDay           = 24 * 60 * 60 * 1000
)

// properNoun matches a capitalized word that does not open the text.
var properNoun = regexp.MustCompile(`\s\p{Lu}\p{Ll}{2,}`)

// Extractor scores and classifies text. It is safe for concurrent use.
type Extractor struct {
	clock clock.Clock

	synonyms   map[string][]string // canonical -> normalized terms (canonical included)
	canonicals []string
	named      map[string]string
	positive   []string
	negative   []string
	important  []string
	preference []string
	rejection  []string
	possessive []string
	weights    map[convo.MemoryType]float64
}

// New builds an Extractor over tables. A nil clock means the wall clock.
func New(tables Tables, clk clock.Clock) *Extractor {
	if clk == nil {
		clk = clock.Real()
	}
	e := &Extractor{
		clock:      clk,
		synonyms:   make(map[string][]string, len(tables.Synonyms)),
		named:      make(map[string]string, len(tables.NamedEntities)),
		positive:   normalizeAll(tables.Positive),
		negative:   normalizeAll(tables.Negative),
		important:  normalizeAll(tables.Important),
		preference: normalizeAll(tables.Preference),
		rejection:  normalizeAll(tables.Rejection),
		possessive: normalizeAll(tables.Possessive),
		weights:    make(map[convo.MemoryType]float64, len(tables.TypeWeights)),
	}
	for canonical, syns := range tables.Synonyms {
		terms := append([]string{canonical}, syns...)
		e.synonyms[canonical] = normalizeAll(terms)
		e.canonicals = append(e.canonicals, canonical)
	}
	sort.Strings(e.canonicals)
	for name, topic := range tables.NamedEntities {
		e.named[name] = topic
	}
	for t, w := range tables.TypeWeights {
		e.weights[t] = w
	}
	return e
}

// ExtractTopics returns the deduplicated, sorted set of topics mentioned
// anywhere in batch.
func (e *Extractor) ExtractTopics(batch []convo.HistoryEntry) []string {
	found := make(map[string]struct{})
	for _, content := range convo.Contents(batch) {
		text := normalize(content)
		for _, canonical := range e.canonicals {
			if containsAny(text, e.synonyms[canonical]) {
				found[canonical] = struct{}{}
			}
		}
		for _, tok := range tokenize(content) {
			if !startsUpper(tok) {
				continue
			}
			if topic, ok := e.named[tok]; ok {
				found[topic] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found))
	for t := range found {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DetectSentiment compares positive and negative keyword hits across the
// batch. Ties are neutral.
func (e *Extractor) DetectSentiment(batch []convo.HistoryEntry) convo.Sentiment {
	var pos, neg int
	for _, entry := range batch {
		text := normalize(entry.Content)
		pos += countHits(text, e.positive)
		neg += countHits(text, e.negative)
	}
	switch {
	case pos > neg:
		return convo.SentimentPositive
	case neg > pos:
		return convo.SentimentNegative
	default:
		return convo.SentimentNeutral
	}
}

// CalculateRelevance scores how much weight content deserves as a memory of
// type t. The result is always within [0, 1].
func (e *Extractor) CalculateRelevance(content string, t convo.MemoryType, md convo.Metadata) float64 {
	text := normalize(content)
	score := baseRelevance

	score += math.Min(float64(countHits(text, e.important))*importantStep, importantCap)

	switch {
	case containsAny(text, e.rejection):
		score += rejectionBonus
	case containsAny(text, e.preference):
		score += preferenceBonus
	}

	if containsAny(text, e.positive) || containsAny(text, e.negative) {
		score += sentimentBonus
	}

	if md.Timestamp != nil {
		ageDays := float64(clock.NowMillis(e.clock)-*md.Timestamp) / msPerDay
		if ageDays < 0 {
			ageDays = 0
		}
		score *= ageFloor + (1-ageFloor)*math.Exp(-ageDays/ageWindowDays)
	}

	if md.MentionCount != nil {
		score += math.Min(float64(*md.MentionCount)*mentionStep, mentionCap)
	}

	score += e.weights[t]

	if containsAny(text, e.possessive) || properNoun.MatchString(content) {
		score += personalMarkBonus
	}

	return decay.Clamp(score)
}

// InferTopic picks a short label for content, preferring recognised entities:
// a person (with an event when there is one), then an event, an object, a
// place, and finally the first few words of the content.
func (e *Extractor) InferTopic(entities convo.Entities, content string) string {
	switch {
	case len(entities.People) > 0:
		if len(entities.Events) > 0 {
			return entities.People[0] + " - " + entities.Events[0]
		}
		return entities.People[0]
	case len(entities.Events) > 0:
		return entities.Events[0]
	case len(entities.Objects) > 0:
		return entities.Objects[0]
	case len(entities.Places) > 0:
		return entities.Places[0]
	}
	words := strings.Fields(content)
	if len(words) > fallbackTopicWords {
		words = words[:fallbackTopicWords]
	}
	return strings.Join(words, " ")
}

// tokenize splits s on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize lowercases s and pads its words with single spaces so phrase
// lookups can match on word boundaries.
func normalize(s string) string {
	return " " + strings.Join(tokenize(strings.ToLower(s)), " ") + " "
}

func normalizeAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		n := normalize(t)
		if strings.TrimSpace(n) == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// countHits counts the distinct terms present in text.
func countHits(text string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			n++
		}
	}
	return n
}

func startsUpper(tok string) bool {
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}
