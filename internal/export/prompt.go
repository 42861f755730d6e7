package export

import (
	"fmt"
	"strings"

	"github.com/memvra/convmem/internal/longterm"
)

// PromptExporter renders a compact plain-text block meant to be pasted into
// a model prompt. Empty profiles render as an empty string.
type PromptExporter struct{}

func (e *PromptExporter) Export(p longterm.Profile) (string, error) {
	var b strings.Builder
	for _, s := range sections {
		items := ofType(p.Memories, s.mt)
		if len(items) == 0 {
			continue
		}
		contents := make([]string, len(items))
		for i, m := range items {
			contents[i] = m.Content
		}
		fmt.Fprintf(&b, "%s: %s\n", s.heading, strings.Join(contents, "; "))
	}
	if len(p.Topics) > 0 {
		names := make([]string, len(p.Topics))
		for i, t := range p.Topics {
			names[i] = fmt.Sprintf("%s (%s)", t.Topic, t.Sentiment)
		}
		fmt.Fprintf(&b, "Recently talked about: %s\n", strings.Join(names, ", "))
	}
	return b.String(), nil
}
