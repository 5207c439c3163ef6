package snapshot_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"citadex/internal/adapter/memory"
	"citadex/internal/domain"
	"citadex/internal/snapshot"
)

func TestExporter_WritesLatestEntriesWithoutVectors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	var entries []domain.IndexEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, domain.IndexEntry{
			ID: fmt.Sprintf("e%d", i), URL: "https://www.irs.gov/a", Version: 2, Text: "body",
			ContentType: domain.ContentHTML, IsLatest: i != 3, Vector: []float32{1, 2},
		})
	}
	require.NoError(t, store.Upsert(ctx, entries))

	var buf bytes.Buffer
	n, err := snapshot.NewExporter(store, 2).Write(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	var ids []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		assert.NotContains(t, line, "vector")
		assert.Equal(t, "https://www.irs.gov/a", line["url"])
		ids = append(ids, line["id"].(string))
	}
	assert.Equal(t, []string{"e0", "e1", "e2", "e4"}, ids)
}

type MockScroller struct {
	mock.Mock
}

func (m *MockScroller) Scroll(ctx context.Context, after string, limit int) ([]domain.IndexEntry, error) {
	args := m.Called(ctx, after, limit)
	page, _ := args.Get(0).([]domain.IndexEntry)
	return page, args.Error(1)
}

func TestExporter_FollowsCursorAndReportsErrors(t *testing.T) {
	s := new(MockScroller)
	s.On("Scroll", mock.Anything, "", 2).Return([]domain.IndexEntry{{ID: "a"}, {ID: "b"}}, nil)
	s.On("Scroll", mock.Anything, "b", 2).Return(nil, errors.New("unavailable"))

	var buf bytes.Buffer
	n, err := snapshot.NewExporter(s, 2).Write(context.Background(), &buf)
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	s.AssertExpectations(t)
}
