package knowledge

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFLoader extracts per-page text from PDF files. pdfcpu validates
// the file before text extraction so malformed input fails fast
// instead of turning into garbage entries; the page count goes into
// every section's metadata.
type PDFLoader struct{}

func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

func (l *PDFLoader) Load(path string) ([]Section, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return nil, fmt.Errorf("invalid PDF: %w", err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to count PDF pages: %w", err)
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var sections []Section
	for pageIndex := 1; pageIndex <= r.NumPage(); pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", pageIndex, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		// Numbers go in as float64, the same type AOF replay decodes
		// from JSON, so filters behave identically after a restart.
		sections = append(sections, Section{
			Text: text,
			Meta: map[string]any{"page": float64(pageIndex), "pages": float64(pages)},
		})
	}
	return sections, nil
}
