package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/memvra/convmem/internal/longterm"
)

// MarkdownExporter renders a profile as a readable markdown document.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(p longterm.Profile) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memory Profile: %s\n\n", p.UserID)
	if p.GeneratedAt > 0 {
		fmt.Fprintf(&b, "_Generated %s_\n\n", time.UnixMilli(p.GeneratedAt).UTC().Format("2006-01-02 15:04 MST"))
	}

	for _, s := range sections {
		b.WriteString(memorySection(s.heading, s.mt, p.Memories))
	}

	if len(p.Topics) > 0 {
		b.WriteString("## Recent Topics\n\n")
		b.WriteString("| Topic | Sentiment | Messages | Relevance |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, t := range p.Topics {
			fmt.Fprintf(&b, "| %s | %s | %d | %.2f |\n", t.Topic, t.Sentiment, t.MessageCount, t.Relevance)
		}
		b.WriteString("\n")
	}

	if len(p.Memories) == 0 && len(p.Topics) == 0 {
		b.WriteString("Nothing remembered yet.\n")
	}
	return b.String(), nil
}
