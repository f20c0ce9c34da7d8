package knowledge

import (
	"os"
	"strings"
)

// MarkdownLoader reads Markdown files, dropping code fence markers and
// heading prefixes so chunks read as prose. The first heading becomes
// the document title.
type MarkdownLoader struct{}

func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

func (l *MarkdownLoader) Load(path string) ([]Section, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, title := stripMarkdown(string(content))
	var meta map[string]any
	if title != "" {
		meta = map[string]any{"title": title}
	}
	return []Section{{Text: text, Meta: meta}}, nil
}

// stripMarkdown removes fence lines and heading markers while keeping
// fenced content and heading text, and reports the first heading seen.
func stripMarkdown(src string) (string, string) {
	var out strings.Builder
	title := ""
	inFence := false

	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(trimmed, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if heading == "" {
				continue
			}
			if title == "" {
				title = heading
			}
			out.WriteString(heading)
			out.WriteString("\n")
			continue
		}
		out.WriteString(line)
		out.WriteString("\n")
	}

	return out.String(), title
}
