package text

import (
	"fmt"
	"math"
	"unicode"

	"github.com/google/uuid"

	"citadex/internal/domain"
)

// Overlap between neighbours always stays inside this band of the earlier
// chunk's length.
const (
	overlapBandMin = 0.2
	overlapBandMax = 0.3
)

// Separators tried after section boundaries, strongest first.
var separators = []string{"\n\n", "\n", ". ", " "}

type Options struct {
	MinSize int
	MaxSize int
	Overlap float64
}

func DefaultOptions() Options {
	return Options{MinSize: 800, MaxSize: 1600, Overlap: 0.25}
}

type Chunker struct {
	opts Options
}

func New(opts Options) *Chunker {
	if opts.MinSize <= 0 || opts.MaxSize < opts.MinSize {
		opts = DefaultOptions()
	}
	opts.Overlap = math.Min(math.Max(opts.Overlap, overlapBandMin), overlapBandMax)
	return &Chunker{opts: opts}
}

// ChunkKey identifies a chunk by its source and span, never by content, so
// re-chunking the same region reproduces the same key.
func ChunkKey(url string, start, end int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d-%d", url, start, end))).String()
}

// Chunk splits et into overlapping spans, all tagged with version. The result
// is verified before it is returned; a violation is reported as a
// *domain.ChunkingInvariantError.
func (c *Chunker) Chunk(et *domain.ExtractedText, version int) ([]domain.Chunk, error) {
	runes := []rune(et.Text)
	spans := c.spans(runes, et.Sections)

	chunks := make([]domain.Chunk, 0, len(spans))
	for i, sp := range spans {
		chunks = append(chunks, domain.Chunk{
			Key:         ChunkKey(et.URL, sp[0], sp[1]),
			URL:         et.URL,
			Title:       et.Title,
			Seq:         i,
			CharStart:   sp[0],
			CharEnd:     sp[1],
			Text:        string(runes[sp[0]:sp[1]]),
			Section:     et.SectionAt(sp[0]),
			Page:        et.PageAt(sp[0]),
			ContentType: et.ContentType,
			Version:     version,
			CrawledAt:   et.CrawledAt,
		})
	}

	if err := Verify(runes, chunks); err != nil {
		return nil, &domain.ChunkingInvariantError{URL: et.URL, Reason: err.Error()}
	}
	return chunks, nil
}

func (c *Chunker) spans(runes []rune, sections []domain.SectionMarker) [][2]int {
	n := len(runes)
	if n == 0 {
		return nil
	}

	var spans [][2]int
	start := 0
	for {
		if n-start <= c.opts.MaxSize {
			spans = append(spans, [2]int{start, n})
			return spans
		}
		end := c.breakPoint(runes, start, sections)
		spans = append(spans, [2]int{start, end})
		start = c.nextStart(runes, start, end)
	}
}

// breakPoint picks the end of the chunk starting at start. Candidates must
// fall inside [start+MinSize, start+MaxSize]; the one closest to the target
// size wins within the strongest boundary class that has any.
func (c *Chunker) breakPoint(runes []rune, start int, sections []domain.SectionMarker) int {
	lo := start + c.opts.MinSize
	hi := start + c.opts.MaxSize
	target := start + (c.opts.MinSize+c.opts.MaxSize)/2

	best := -1
	for _, m := range sections {
		if m.Offset >= lo && m.Offset <= hi && closer(m.Offset, best, target) {
			best = m.Offset
		}
	}
	if best > 0 {
		return best
	}

	for _, sep := range separators {
		sr := []rune(sep)
		for p := lo; p <= hi; p++ {
			if endsWith(runes, p, sr) && closer(p, best, target) {
				best = p
			}
		}
		if best > 0 {
			return best
		}
	}
	return target
}

// nextStart backs off from end by the configured overlap, snapping to a word
// start when one lies inside the overlap band.
func (c *Chunker) nextStart(runes []rune, start, end int) int {
	length := end - start
	minOv := int(math.Ceil(float64(length) * overlapBandMin))
	maxOv := int(math.Floor(float64(length) * overlapBandMax))
	ideal := end - int(math.Round(float64(length)*c.opts.Overlap))

	best := -1
	for q := end - maxOv; q <= end-minOv; q++ {
		if q > start && unicode.IsSpace(runes[q-1]) && !unicode.IsSpace(runes[q]) && closer(q, best, ideal) {
			best = q
		}
	}
	if best > 0 {
		return best
	}
	return ideal
}

func closer(candidate, best, target int) bool {
	if best < 0 {
		return true
	}
	dc, db := candidate-target, best-target
	if dc < 0 {
		dc = -dc
	}
	if db < 0 {
		db = -db
	}
	return dc < db
}

func endsWith(runes []rune, p int, sep []rune) bool {
	if p < len(sep) || p > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[p-len(sep)+i] != r {
			return false
		}
	}
	return true
}

// Verify checks full coverage, exact spans and the overlap band.
func Verify(runes []rune, chunks []domain.Chunk) error {
	n := len(runes)
	if n == 0 {
		if len(chunks) != 0 {
			return fmt.Errorf("chunks produced for empty text")
		}
		return nil
	}
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks for %d characters", n)
	}
	if chunks[0].CharStart != 0 {
		return fmt.Errorf("first chunk starts at %d", chunks[0].CharStart)
	}
	if last := chunks[len(chunks)-1]; last.CharEnd != n {
		return fmt.Errorf("last chunk ends at %d of %d", last.CharEnd, n)
	}

	keys := make(map[string]bool, len(chunks))
	for i, ch := range chunks {
		if ch.CharStart < 0 || ch.CharEnd > n || ch.CharStart >= ch.CharEnd {
			return fmt.Errorf("chunk %d has invalid span [%d, %d)", i, ch.CharStart, ch.CharEnd)
		}
		if ch.Text != string(runes[ch.CharStart:ch.CharEnd]) {
			return fmt.Errorf("chunk %d text drifted from its span", i)
		}
		if keys[ch.Key] {
			return fmt.Errorf("duplicate chunk key at %d", i)
		}
		keys[ch.Key] = true

		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		if ch.CharStart <= prev.CharStart {
			return fmt.Errorf("chunk %d does not advance", i)
		}
		if ch.CharStart > prev.CharEnd {
			return fmt.Errorf("gap [%d, %d) between chunks %d and %d", prev.CharEnd, ch.CharStart, i-1, i)
		}
		overlap := prev.CharEnd - ch.CharStart
		if limit := int(math.Floor(float64(prev.CharEnd-prev.CharStart) * overlapBandMax)); overlap > limit {
			return fmt.Errorf("overlap %d between chunks %d and %d exceeds %d", overlap, i-1, i, limit)
		}
		if i >= 2 && ch.CharStart < chunks[i-2].CharEnd {
			return fmt.Errorf("chunk %d overlaps non-neighbour %d", i, i-2)
		}
	}
	return nil
}
