// Package export renders a user's memory profile into formats other tools
// consume: markdown for people, JSON for programs, and a compact block for
// prompt assembly.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/memvra/convmem/internal/convo"
	"github.com/memvra/convmem/internal/longterm"
)

// Exporter renders a Profile to a string in a specific format.
type Exporter interface {
	Export(p longterm.Profile) (string, error)
}

// registry maps format names to Exporter implementations.
var registry = map[string]Exporter{
	"markdown": &MarkdownExporter{},
	"json":     &JSONExporter{},
	"prompt":   &PromptExporter{},
}

// Get returns the Exporter registered under name, and whether it was found.
func Get(name string) (Exporter, bool) {
	e, ok := registry[name]
	return e, ok
}

// ValidFormats returns the supported format names, sorted.
func ValidFormats() []string {
	formats := make([]string, 0, len(registry))
	for k := range registry {
		formats = append(formats, k)
	}
	sort.Strings(formats)
	return formats
}

// sections is the display order of memory types.
var sections = []struct {
	heading string
	mt      convo.MemoryType
}{
	{"Preferences", convo.TypePreference},
	{"Personal Info", convo.TypePersonalInfo},
	{"Opinions", convo.TypeOpinion},
	{"Facts", convo.TypeFact},
	{"Events", convo.TypeEvent},
	{"Notes", convo.TypeNote},
}

func ofType(memories []longterm.Memory, mt convo.MemoryType) []longterm.Memory {
	var out []longterm.Memory
	for _, m := range memories {
		if m.Type == mt {
			out = append(out, m)
		}
	}
	return out
}

// memorySection renders memories of the given type as a markdown list block.
func memorySection(heading string, mt convo.MemoryType, memories []longterm.Memory) string {
	items := ofType(memories, mt)
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", heading)
	for _, m := range items {
		fmt.Fprintf(&b, "- %s", m.Content)
		if m.MentionCount > 1 {
			fmt.Fprintf(&b, " (mentioned %dx)", m.MentionCount)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
