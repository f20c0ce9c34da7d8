package knowledge

import "os"

// Loader extracts plain text from one file format.
type Loader interface {
	// Load returns the text of the file at path, one Section per
	// independently addressable region: PDFs produce a section per
	// page, everything else a single section for the whole file.
	Load(path string) ([]Section, error)
}

// Section is a contiguous region of extracted text plus the metadata
// that should ride along with every chunk cut from it.
type Section struct {
	Text string
	Meta map[string]any
}

// TextLoader reads plain text files verbatim.
type TextLoader struct{}

func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

func (l *TextLoader) Load(path string) ([]Section, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []Section{{Text: string(content)}}, nil
}
