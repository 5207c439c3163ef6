package domain

import "time"

type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentPDF  ContentType = "pdf"
)

// Validators are the conditional-request tokens remembered for a URL.
type Validators struct {
	ETag         string
	LastModified string
}

func (v Validators) Empty() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Document is one fetched resource.
type Document struct {
	URL         string
	ContentType ContentType
	Body        []byte
	ContentHash string
	Validators  Validators
	Status      int
	CrawledAt   time.Time
	Title       string
}

type SectionMarker struct {
	Heading string
	Offset  int
	Level   int
}

// ExtractedText is the normalized text of a Document. All offsets are rune
// offsets into Text.
type ExtractedText struct {
	URL         string
	Title       string
	ContentType ContentType
	CrawledAt   time.Time
	Text        string
	Sections    []SectionMarker
	// PageStarts holds the offset where each PDF page begins. Empty for HTML.
	PageStarts []int
}

// SectionAt returns the heading of the nearest marker at or before offset.
func (e *ExtractedText) SectionAt(offset int) string {
	heading := ""
	for _, m := range e.Sections {
		if m.Offset > offset {
			break
		}
		heading = m.Heading
	}
	return heading
}

// PageAt maps an offset to its 1-based page number, or 0 when the text has no pages.
func (e *ExtractedText) PageAt(offset int) int {
	page := 0
	for i, start := range e.PageStarts {
		if start > offset {
			break
		}
		page = i + 1
	}
	return page
}

// Chunk is a span [CharStart, CharEnd) of an ExtractedText.
type Chunk struct {
	Key         string
	URL         string
	Title       string
	Seq         int
	CharStart   int
	CharEnd     int
	Text        string
	Section     string
	Page        int
	ContentType ContentType
	Version     int
	CrawledAt   time.Time
}

// IndexEntry is what the vector store persists for one chunk version.
type IndexEntry struct {
	ID             string
	ChunkKey       string
	Version        int
	URL            string
	Title          string
	Section        string
	Text           string
	CharStart      int
	CharEnd        int
	Page           int
	Seq            int
	ContentType    ContentType
	CrawledAt      time.Time
	IsLatest       bool
	EmbeddingModel string
	Vector         []float32
}

type RetrievalCandidate struct {
	Entry       IndexEntry
	Score       float64
	RerankScore *float64
}

type Citation struct {
	URL          string  `json:"url"`
	Title        string  `json:"title"`
	Section      string  `json:"section"`
	Snippet      string  `json:"snippet"`
	CharStart    int     `json:"char_start"`
	CharEnd      int     `json:"char_end"`
	Page         int     `json:"page,omitempty"`
	Score        float64 `json:"score"`
	LowCertainty bool    `json:"low_certainty,omitempty"`
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// URLFailure is a URL that could not be ingested during a crawl run.
type URLFailure struct {
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type CrawlReport struct {
	Fetched       int          `json:"fetched"`
	NotModified   int          `json:"not_modified"`
	Unchanged     int          `json:"unchanged"`
	Indexed       int          `json:"indexed"`
	Skipped       int          `json:"skipped"`
	Failed        int          `json:"failed"`
	OffHost       int          `json:"off_host"`
	Duplicates    int          `json:"duplicates"`
	Cancelled     bool         `json:"cancelled"`
	Failures      []URLFailure `json:"failures,omitempty"`
	OffHostSample []string     `json:"off_host_sample,omitempty"`
	Duration      string       `json:"duration"`
}

// EntryRef is the lineage record of one written IndexEntry.
type EntryRef struct {
	ID        string
	ChunkKey  string
	CharStart int
	CharEnd   int
}

type MetadataPatch struct {
	IsLatest bool
}

type SearchFilter struct {
	LatestOnly  bool
	ContentType ContentType
}

const (
	StateIndexed          = "indexed"
	StateExtractionFailed = "extraction_failed"
	StateFailed           = "failed"
)

// CrawlState is what is remembered about a URL between crawl runs.
type CrawlState struct {
	URL           string
	ContentType   ContentType
	ContentHash   string
	Validators    Validators
	HTTPStatus    int
	Title         string
	Status        string
	LatestVersion int
	CrawledAt     time.Time
	LastError     string
}
