package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citadex/internal/answer"
	"citadex/internal/crawler"
	"citadex/internal/domain"
	"citadex/internal/extract"
	"citadex/internal/fetcher"
	"citadex/internal/retrieval"
	"citadex/internal/settings"
)

const filingStatusPage = `<!doctype html>
<html>
<head><title>Filing Status | Internal Revenue Service</title></head>
<body>
  <nav class="navbar"><a href="/">Home</a><a href="/forms">Forms</a></nav>
  <main>
    <h1>Filing Status</h1>
    <p>Your filing status determines your standard deduction and tax rates.</p>
    <p>For tax year 2023 the standard deduction for single filers is $13,850.</p>
  </main>
  <footer>IRS.gov</footer>
</body>
</html>`

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, prompt string, sources []domain.RetrievalCandidate) (string, error) {
	if len(sources) == 0 {
		return `[]`, nil
	}
	return "See [1].", nil
}

func TestEndToEnd_CitationPointsAtFigure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/filing-status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"fs-1"`)
		if r.Header.Get("If-None-Match") == `"fs-1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte(filingStatusPage))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx := context.Background()
	f := newFixture()
	ftch := fetcher.New(fetcher.Options{
		UserAgent:   "citadex-test",
		MaxAttempts: 2,
		BackoffMin:  time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		Timeout:     2 * time.Second,
	}, nil)
	controller := crawler.NewController(ftch, f.pipeline, nil)

	seed := ts.URL + "/filing-status"
	report, err := controller.Run(ctx, crawler.RunOptions{Seeds: []string{seed}, MaxPages: 5, Concurrency: 2, FollowLinks: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Zero(t, report.Failed)

	retriever := retrieval.NewService(f.embedder, f.store, nil, f.lineage, time.Second)
	defaults := settings.Effective{SearchTopK: 10, SearchTopN: 3, SimilarityCutoff: 0.3, HighConfidence: 0.8}
	svc := answer.NewService(settings.NewService(nil, defaults), retriever, answer.NewAssembler(echoGenerator{}, time.Second), nil, false)

	resp, err := svc.Ask(ctx, answer.ChatRequest{Query: "standard deduction for single filers $13,850"})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)

	src := resp.Sources[0]
	assert.Equal(t, seed, src.URL)
	assert.Equal(t, "Filing Status", src.Section)
	assert.NotEqual(t, domain.ConfidenceLow, resp.Confidence)

	et, err := extract.New().Extract(&domain.Document{URL: seed, ContentType: domain.ContentHTML, Body: []byte(filingStatusPage)})
	require.NoError(t, err)
	runes := []rune(et.Text)
	require.LessOrEqual(t, src.CharEnd, len(runes))
	assert.Contains(t, string(runes[src.CharStart:src.CharEnd]), "$13,850")
	assert.True(t, strings.Contains(src.Snippet, "$13,850"))

	// a second run revalidates with the stored ETag and does no work
	calls := f.embedder.Calls
	report, err = controller.Run(ctx, crawler.RunOptions{Seeds: []string{seed}, MaxPages: 5, Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NotModified)
	assert.Equal(t, calls, f.embedder.Calls)
}
