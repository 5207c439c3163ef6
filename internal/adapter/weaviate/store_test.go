package weaviate_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	adapter "citadex/internal/adapter/weaviate"
	"citadex/internal/domain"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	require.NoError(t, err)
	return client, ts
}

func TestStore_Upsert(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Objects []map[string]interface{} `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Objects, 1)
		obj := body.Objects[0]
		assert.Equal(t, "CitationChunk", obj["class"])
		assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", obj["id"])
		props := obj["properties"].(map[string]interface{})
		assert.Equal(t, "Filing status text", props["content"])
		assert.Equal(t, true, props["isLatest"])
		assert.Equal(t, "2025-01-02T00:00:00Z", props["crawledAt"])

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]interface{}{map[string]interface{}{"id": obj["id"]}})
	})
	defer ts.Close()

	err := adapter.NewStore(client).Upsert(context.Background(), []domain.IndexEntry{{
		ID:        "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		URL:       "https://www.irs.gov/filing",
		Text:      "Filing status text",
		IsLatest:  true,
		CrawledAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Vector:    []float32{0.1, 0.2},
	}})
	assert.NoError(t, err)
}

func TestStore_UpsertReportsObjectErrors(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","result":{"errors":{"error":[{"message":"vector lengths don't match"}]}}}]`))
	})
	defer ts.Close()

	err := adapter.NewStore(client).Upsert(context.Background(), []domain.IndexEntry{{ID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector lengths")
}

func TestStore_UpdateMetadata(t *testing.T) {
	var mu sync.Mutex
	var patched []string
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, false, body["properties"].(map[string]interface{})["isLatest"])

		mu.Lock()
		patched = append(patched, r.URL.Path)
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	defer ts.Close()

	err := adapter.NewStore(client).UpdateMetadata(context.Background(), []string{"a", "gone"}, domain.MetadataPatch{IsLatest: false})
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"/v1/objects/CitationChunk/a", "/v1/objects/CitationChunk/gone"}, patched)
}

func TestStore_UpdateMetadataBoundsConcurrency(t *testing.T) {
	var inFlight, peak, calls int32
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, true, body["properties"].(map[string]interface{})["isLatest"])

		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNoContent)
	})
	defer ts.Close()

	ids := make([]string, 40)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	err := adapter.NewStore(client).UpdateMetadata(context.Background(), ids, domain.MetadataPatch{IsLatest: true})
	require.NoError(t, err)
	assert.Equal(t, int32(40), atomic.LoadInt32(&calls))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(8))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1), "merges run in parallel")
}

func TestStore_UpdateMetadataFails(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer ts.Close()

	err := adapter.NewStore(client).UpdateMetadata(context.Background(), []string{"a"}, domain.MetadataPatch{})
	assert.Error(t, err)
}

func TestStore_Search(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		query := body["query"].(string)
		assert.Contains(t, query, "nearVector")
		assert.Contains(t, query, "isLatest")
		assert.Contains(t, query, "limit: 5")

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"CitationChunk": []interface{}{
						map[string]interface{}{
							"content":     "Single filers: $13,850",
							"url":         "https://www.irs.gov/filing",
							"section":     "Filing Status",
							"charStart":   10.0,
							"charEnd":     32.0,
							"version":     2.0,
							"contentType": "html",
							"crawledAt":   "2025-01-02T00:00:00Z",
							"isLatest":    true,
							"_additional": map[string]interface{}{
								"id":       "e1",
								"distance": 0.25,
							},
						},
					},
				},
			},
		})
	})
	defer ts.Close()

	results, err := adapter.NewStore(client).Search(context.Background(), []float32{0.1, 0.2}, 5, domain.SearchFilter{LatestOnly: true})
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "e1", got.Entry.ID)
	assert.InDelta(t, 0.75, got.Score, 1e-9)
	assert.Equal(t, "Filing Status", got.Entry.Section)
	assert.Equal(t, 10, got.Entry.CharStart)
	assert.Equal(t, 32, got.Entry.CharEnd)
	assert.Equal(t, 2, got.Entry.Version)
	assert.True(t, got.Entry.IsLatest)
	assert.Equal(t, domain.ContentHTML, got.Entry.ContentType)
	assert.Equal(t, 2025, got.Entry.CrawledAt.Year())
}

func TestStore_ScrollSkipsOlderVersions(t *testing.T) {
	pages := map[string][]interface{}{
		"": {
			map[string]interface{}{"url": "u", "isLatest": false, "_additional": map[string]interface{}{"id": "a"}},
			map[string]interface{}{"url": "u", "isLatest": true, "content": "x", "_additional": map[string]interface{}{"id": "b"}},
		},
		"b": {
			map[string]interface{}{"url": "u", "isLatest": true, "content": "y", "_additional": map[string]interface{}{"id": "c"}},
		},
	}
	var queries []string
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		query := body["query"].(string)
		queries = append(queries, query)
		assert.NotContains(t, query, "distance")
		assert.NotContains(t, query, "where")

		after := ""
		if strings.Contains(query, `after: "b"`) || strings.Contains(query, `after:"b"`) {
			after = "b"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"Get": map[string]interface{}{"CitationChunk": pages[after]}},
		})
	})
	defer ts.Close()

	got, err := adapter.NewStore(client).Scroll(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "y", got[1].Text)
	assert.Len(t, queries, 2)
}

func TestStore_SearchGraphQLError(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errors":[{"message":"no such class"}]}`))
	})
	defer ts.Close()

	_, err := adapter.NewStore(client).Search(context.Background(), []float32{1}, 5, domain.SearchFilter{})
	assert.Error(t, err)
}

func TestStore_CountLatest(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		query := body["query"].(string)
		assert.Contains(t, query, "Aggregate")
		assert.Contains(t, query, "isLatest")

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Aggregate": map[string]interface{}{
					"CitationChunk": []interface{}{
						map[string]interface{}{"meta": map[string]interface{}{"count": 42.0}},
					},
				},
			},
		})
	})
	defer ts.Close()

	count, err := adapter.NewStore(client).CountLatest(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 42, count)
}

func TestStore_EnsureSchemaCreatesClass(t *testing.T) {
	var created bool
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/schema/CitationChunk":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
			created = true
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"class":"CitationChunk"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	defer ts.Close()

	require.NoError(t, adapter.NewStore(client).EnsureSchema(context.Background()))
	assert.True(t, created)
}
