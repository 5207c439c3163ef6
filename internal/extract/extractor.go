package extract

import (
	"net/url"
	"path"
	"strings"

	"citadex/internal/domain"
)

// Extractor dispatches on content type. It holds no state; offsets it
// produces depend only on the document bytes.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (x *Extractor) Extract(doc *domain.Document) (*domain.ExtractedText, error) {
	if len(doc.Body) == 0 {
		return nil, &domain.ExtractionError{URL: doc.URL, Err: domain.ErrEmptyContent}
	}
	switch doc.ContentType {
	case domain.ContentHTML:
		return ExtractHTML(doc)
	case domain.ContentPDF:
		return ExtractPDF(doc)
	default:
		return nil, &domain.ExtractionError{URL: doc.URL, Err: domain.ErrUnsupportedContent}
	}
}

func fallbackTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return u.Host
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
