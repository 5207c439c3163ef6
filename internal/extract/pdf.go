package extract

import (
	"bytes"
	"fmt"
	"sort"
	"unicode"

	"github.com/ledongthuc/pdf"

	"citadex/internal/domain"
)

const (
	headingSizeRatio = 1.2
	maxHeadingRunes  = 120
)

type pdfLine struct {
	Text string
	Size float64
}

// readPDF returns the text lines of every page, top to bottom. The parser
// panics on some malformed inputs, so panics are turned into errors.
func readPDF(data []byte) (pages [][]pdfLine, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, nil)
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}

		var lines []pdfLine
		for _, row := range rows {
			var buf bytes.Buffer
			size := 0.0
			for _, t := range row.Content {
				buf.WriteString(t.S)
				if t.FontSize > size {
					size = t.FontSize
				}
			}
			if text := collapse(buf.String()); text != "" {
				lines = append(lines, pdfLine{Text: text, Size: size})
			}
		}
		pages = append(pages, lines)
	}
	return pages, nil
}

func medianSize(lines []pdfLine) float64 {
	sizes := make([]float64, 0, len(lines))
	for _, l := range lines {
		if l.Size > 0 {
			sizes = append(sizes, l.Size)
		}
	}
	if len(sizes) == 0 {
		return 0
	}
	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}

func looksLikeHeading(l pdfLine, median float64) bool {
	if median <= 0 || l.Size < median*headingSizeRatio || runeLen(l.Text) > maxHeadingRunes {
		return false
	}
	for _, r := range l.Text {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// assemblePDF joins pages with a blank line, recording where each page
// starts and treating oversized lines as section headings.
func assemblePDF(pages [][]pdfLine) (text string, sections []domain.SectionMarker, pageStarts []int) {
	var all []pdfLine
	for _, p := range pages {
		all = append(all, p...)
	}
	median := medianSize(all)

	var buf textBuffer
	for _, lines := range pages {
		buf.breakLine(2)
		if len(lines) == 0 {
			pageStarts = append(pageStarts, buf.Len())
			continue
		}
		pageStarts = append(pageStarts, buf.mark())

		for _, l := range lines {
			if looksLikeHeading(l, median) {
				buf.breakLine(2)
				sections = append(sections, domain.SectionMarker{Heading: l.Text, Offset: buf.mark(), Level: 1})
				buf.writeText(l.Text)
				buf.breakLine(2)
				continue
			}
			buf.writeText(l.Text)
			buf.breakLine(1)
		}
	}
	return buf.String(), sections, pageStarts
}

// ExtractPDF extracts per-page text with page-boundary offsets.
func ExtractPDF(doc *domain.Document) (*domain.ExtractedText, error) {
	pages, err := readPDF(doc.Body)
	if err != nil {
		return nil, &domain.ExtractionError{URL: doc.URL, Err: err}
	}

	text, sections, starts := assemblePDF(pages)
	if text == "" {
		return nil, &domain.ExtractionError{URL: doc.URL, Err: domain.ErrEmptyContent}
	}

	title := fallbackTitle(doc.URL)
	if len(sections) > 0 {
		title = sections[0].Heading
	}

	return &domain.ExtractedText{
		URL:         doc.URL,
		Title:       title,
		ContentType: domain.ContentPDF,
		CrawledAt:   doc.CrawledAt,
		Text:        text,
		Sections:    sections,
		PageStarts:  starts,
	}, nil
}
