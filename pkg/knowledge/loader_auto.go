package knowledge

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AutoLoader selects the correct loader based on file extension.
type AutoLoader struct {
	text     Loader
	markdown Loader
	pdf      Loader
}

func NewAutoLoader() *AutoLoader {
	return &AutoLoader{
		text:     NewTextLoader(),
		markdown: NewMarkdownLoader(),
		pdf:      NewPDFLoader(),
	}
}

// Supports reports whether the file at path has a loadable extension.
func (l *AutoLoader) Supports(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".pdf":
		return true
	}
	return false
}

func (l *AutoLoader) Load(path string) ([]Section, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return l.pdf.Load(path)
	case ".md", ".markdown":
		return l.markdown.Load(path)
	case ".txt":
		return l.text.Load(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
}
