package ingest_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citadex/internal/adapter/memory"
	"citadex/internal/crawler"
	"citadex/internal/domain"
	"citadex/internal/extract"
	"citadex/internal/index"
	"citadex/internal/ingest"
	"citadex/internal/testutils"
	"citadex/internal/text"
)

const pageURL = "https://www.irs.gov/filing"

// failingFlips fails the next n latest-flag updates.
type failingFlips struct {
	*memory.Store
	n int
}

func (f *failingFlips) UpdateMetadata(ctx context.Context, ids []string, patch domain.MetadataPatch) error {
	if f.n > 0 {
		f.n--
		return errors.New("connection reset")
	}
	return f.Store.UpdateMetadata(ctx, ids, patch)
}

type fixture struct {
	state    *memory.StateStore
	store    *memory.Store
	flips    *failingFlips
	lineage  *memory.Lineage
	embedder *testutils.HashEmbedder
	pipeline *ingest.Pipeline
}

func newFixture() *fixture {
	f := &fixture{
		state:    memory.NewStateStore(),
		store:    memory.NewStore(),
		lineage:  memory.NewLineage(),
		embedder: testutils.NewHashEmbedder(),
	}
	f.flips = &failingFlips{Store: f.store}
	w := index.NewWriter(f.embedder, f.flips, f.lineage, f.lineage, 8)
	f.pipeline = ingest.NewPipeline(f.state, extract.New(), text.New(text.DefaultOptions()), f.lineage, w)
	return f
}

func page(body string) *domain.Document {
	sum := sha256.Sum256([]byte(body))
	return &domain.Document{
		URL:         pageURL,
		ContentType: domain.ContentHTML,
		Body:        []byte(body),
		ContentHash: hex.EncodeToString(sum[:]),
		Validators:  domain.Validators{ETag: `"` + hex.EncodeToString(sum[:4]) + `"`},
		Status:      200,
		CrawledAt:   time.Now().UTC(),
	}
}

const v1 = `<html><head><title>Filing</title></head><body><main><h1>Filing Status</h1><p>Single filers use Form 1040.</p></main></body></html>`
const v2 = `<html><head><title>Filing</title></head><body><main><h1>Filing Status</h1><p>Single filers use Form 1040 or Form 1040-SR.</p></main></body></html>`

func latest(entries []domain.IndexEntry) []domain.IndexEntry {
	var out []domain.IndexEntry
	for _, e := range entries {
		if e.IsLatest {
			out = append(out, e)
		}
	}
	return out
}

func TestPipeline_FirstIngestThenUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	outcome, err := f.pipeline.Handle(ctx, page(v1))
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeIndexed, outcome)

	st, err := f.state.Get(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIndexed, st.Status)
	assert.Equal(t, 1, st.LatestVersion)
	assert.Equal(t, "Filing", st.Title)

	v, err := f.pipeline.Validators(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, page(v1).Validators, v)

	calls := f.embedder.Calls
	outcome, err = f.pipeline.Handle(ctx, page(v1))
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeUnchanged, outcome)
	assert.Equal(t, calls, f.embedder.Calls, "unchanged content must not be embedded again")
	assert.Len(t, f.store.Entries(pageURL), len(latest(f.store.Entries(pageURL))))
}

func TestPipeline_ModifiedDocumentSupersedes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.pipeline.Handle(ctx, page(v1))
	require.NoError(t, err)
	_, err = f.pipeline.Handle(ctx, page(v2))
	require.NoError(t, err)

	entries := f.store.Entries(pageURL)
	live := latest(entries)
	require.NotEmpty(t, live)
	for _, e := range live {
		assert.Equal(t, 2, e.Version)
	}
	assert.Greater(t, len(entries), len(live))

	for i := range live {
		for j := i + 1; j < len(live); j++ {
			overlap := min(live[i].CharEnd, live[j].CharEnd) - max(live[i].CharStart, live[j].CharStart)
			if overlap > 0 {
				assert.Equal(t, live[i].Seq+1, live[j].Seq, "only neighbouring chunks may overlap")
			}
		}
	}

	st, _ := f.state.Get(ctx, pageURL)
	assert.Equal(t, 2, st.LatestVersion)
}

func TestPipeline_FailedFlipDoesNotReuseVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.pipeline.Handle(ctx, page(v1))
	require.NoError(t, err)

	f.flips.n = 1
	_, err = f.pipeline.Handle(ctx, page(v2))
	var we *domain.IndexWriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "flip", we.Stage)

	// same spans as v2, different words: chunk keys collide across versions
	const v3 = `<html><head><title>Filing</title></head><body><main><h1>Filing Status</h1><p>Single filers use Form 1040 or Form 1040-NR.</p></main></body></html>`
	_, err = f.pipeline.Handle(ctx, page(v3))
	require.NoError(t, err)

	live := latest(f.store.Entries(pageURL))
	require.NotEmpty(t, live)
	for _, e := range live {
		assert.Equal(t, 3, e.Version)
		assert.Contains(t, e.Text, "1040-NR")
		assert.NotContains(t, e.Text, "1040-SR")
	}
	st, _ := f.state.Get(ctx, pageURL)
	assert.Equal(t, 3, st.LatestVersion)
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.pipeline.Handle(ctx, page(`<html><body><nav>Menu only</nav></body></html>`))
	var ee *domain.ExtractionError
	require.ErrorAs(t, err, &ee)

	st, err := f.state.Get(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExtractionFailed, st.Status)
	assert.NotEmpty(t, st.LastError)

	v, err := f.pipeline.Validators(ctx, pageURL)
	require.NoError(t, err)
	assert.True(t, v.Empty())
	assert.Empty(t, f.store.Entries(pageURL))
}

func TestPipeline_EmbeddingFailureKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.pipeline.Handle(ctx, page(v1))
	require.NoError(t, err)

	f.embedder.FailAfter = f.embedder.Calls
	f.embedder.Err = errors.New("quota exhausted")

	_, err = f.pipeline.Handle(ctx, page(v2))
	var me *domain.EmbeddingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "embedding", domain.FailureKind(err))

	for _, e := range latest(f.store.Entries(pageURL)) {
		assert.Equal(t, 1, e.Version)
	}
	st, _ := f.state.Get(ctx, pageURL)
	assert.Equal(t, domain.StateFailed, st.Status)
	assert.Equal(t, 1, st.LatestVersion)

	// the next run fetches in full and retries
	f.embedder.FailAfter = -1
	v, _ := f.pipeline.Validators(ctx, pageURL)
	assert.True(t, v.Empty())
	_, err = f.pipeline.Handle(ctx, page(v2))
	require.NoError(t, err)
	for _, e := range latest(f.store.Entries(pageURL)) {
		assert.Equal(t, 2, e.Version)
	}
}

func TestPipeline_NotModified(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	assert.NoError(t, f.pipeline.NotModified(ctx, "https://www.irs.gov/unknown"))

	_, err := f.pipeline.Handle(ctx, page(v1))
	require.NoError(t, err)
	before, _ := f.state.Get(ctx, pageURL)

	require.NoError(t, f.pipeline.NotModified(ctx, pageURL))
	after, _ := f.state.Get(ctx, pageURL)
	assert.False(t, after.CrawledAt.Before(before.CrawledAt))
	assert.Equal(t, before.ContentHash, after.ContentHash)
}
