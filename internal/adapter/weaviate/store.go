// Package weaviate stores chunk versions in a Weaviate class and serves
// nearest-neighbour search over the latest ones.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"golang.org/x/sync/errgroup"

	"citadex/internal/domain"
	"citadex/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, schemaClient{s.client})
}

// Upsert writes entries in one batch. Entry IDs are content addressed, so
// replaying a batch rewrites identical objects.
func (s *Store) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	objects := make([]*models.Object, 0, len(entries))
	for _, e := range entries {
		objects = append(objects, &models.Object{
			Class:      vector.ClassName,
			ID:         strfmt.UUID(e.ID),
			Properties: properties(e),
			Vector:     models.C11yVector(e.Vector),
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func properties(e domain.IndexEntry) map[string]interface{} {
	return map[string]interface{}{
		"chunkKey":       e.ChunkKey,
		"version":        e.Version,
		"url":            e.URL,
		"title":          e.Title,
		"section":        e.Section,
		"content":        e.Text,
		"charStart":      e.CharStart,
		"charEnd":        e.CharEnd,
		"page":           e.Page,
		"seq":            e.Seq,
		"contentType":    string(e.ContentType),
		"crawledAt":      e.CrawledAt.UTC().Format(time.RFC3339Nano),
		"isLatest":       e.IsLatest,
		"embeddingModel": e.EmbeddingModel,
	}
}

// flipConcurrency bounds the merge requests in flight for one UpdateMetadata.
const flipConcurrency = 8

// UpdateMetadata patches the latest flag with one merge per object, at most
// flipConcurrency at a time. Weaviate's batch endpoint replaces whole objects,
// so it cannot carry a partial update. Missing objects are ignored.
func (s *Store) UpdateMetadata(ctx context.Context, ids []string, patch domain.MetadataPatch) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(flipConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := s.client.Data().Updater().
				WithMerge().
				WithClassName(vector.ClassName).
				WithID(id).
				WithProperties(map[string]interface{}{"isLatest": patch.IsLatest}).
				Do(ctx)
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("update %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func isNotFound(err error) bool {
	var fe *fault.WeaviateClientError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound
}

var searchFields = []graphql.Field{
	{Name: "chunkKey"},
	{Name: "version"},
	{Name: "url"},
	{Name: "title"},
	{Name: "section"},
	{Name: "content"},
	{Name: "charStart"},
	{Name: "charEnd"},
	{Name: "page"},
	{Name: "seq"},
	{Name: "contentType"},
	{Name: "crawledAt"},
	{Name: "isLatest"},
	{Name: "embeddingModel"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
}

func where(filter domain.SearchFilter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if filter.LatestOnly {
		operands = append(operands, filters.Where().
			WithPath([]string{"isLatest"}).
			WithOperator(filters.Equal).
			WithValueBoolean(true))
	}
	if filter.ContentType != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"contentType"}).
			WithOperator(filters.Equal).
			WithValueString(string(filter.ContentType)))
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// Search returns the k nearest entries to vec. Score is cosine similarity.
func (s *Store) Search(ctx context.Context, vec []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	near := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	q := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(near).
		WithLimit(k).
		WithFields(searchFields...)
	if w := where(filter); w != nil {
		q = q.WithWhere(w)
	}

	res, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	var out []domain.RetrievalCandidate
	data, _ := res.Data["Get"].(map[string]interface{})
	rows, _ := data[vector.ClassName].([]interface{})
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, candidate(props))
	}
	return out, nil
}

func candidate(props map[string]interface{}) domain.RetrievalCandidate {
	e := domain.IndexEntry{
		ChunkKey:       str(props["chunkKey"]),
		Version:        num(props["version"]),
		URL:            str(props["url"]),
		Title:          str(props["title"]),
		Section:        str(props["section"]),
		Text:           str(props["content"]),
		CharStart:      num(props["charStart"]),
		CharEnd:        num(props["charEnd"]),
		Page:           num(props["page"]),
		Seq:            num(props["seq"]),
		ContentType:    domain.ContentType(str(props["contentType"])),
		EmbeddingModel: str(props["embeddingModel"]),
	}
	e.IsLatest, _ = props["isLatest"].(bool)
	if t, err := time.Parse(time.RFC3339Nano, str(props["crawledAt"])); err == nil {
		e.CrawledAt = t
	}

	c := domain.RetrievalCandidate{Entry: e}
	if add, ok := props["_additional"].(map[string]interface{}); ok {
		c.Entry.ID = str(add["id"])
		// Weaviate reports cosine distance; some versions encode it as a string
		switch d := add["distance"].(type) {
		case float64:
			c.Score = 1 - d
		case string:
			if f, err := strconv.ParseFloat(d, 64); err == nil {
				c.Score = 1 - f
			}
		}
	}
	return c
}

var scrollFields = append(searchFields[:len(searchFields)-1:len(searchFields)-1],
	graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}})

// Scroll returns up to limit latest entries after the given id, in id order.
// Weaviate's cursor cannot be combined with a filter, so older versions are
// skipped client side. Vectors are not requested.
func (s *Store) Scroll(ctx context.Context, after string, limit int) ([]domain.IndexEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.IndexEntry
	for len(out) < limit {
		q := s.client.GraphQL().Get().
			WithClassName(vector.ClassName).
			WithLimit(limit).
			WithFields(scrollFields...)
		if after != "" {
			q = q.WithAfter(after)
		}
		res, err := q.Do(ctx)
		if err != nil {
			return nil, err
		}
		if len(res.Errors) > 0 {
			return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
		}

		data, _ := res.Data["Get"].(map[string]interface{})
		rows, _ := data[vector.ClassName].([]interface{})
		for _, row := range rows {
			props, ok := row.(map[string]interface{})
			if !ok {
				continue
			}
			e := candidate(props).Entry
			after = e.ID
			if e.IsLatest && len(out) < limit {
				out = append(out, e)
			}
		}
		if len(rows) < limit {
			break
		}
	}
	return out, nil
}

// CountLatest counts the entries currently visible to retrieval.
func (s *Store) CountLatest(ctx context.Context) (int, error) {
	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithWhere(where(domain.SearchFilter{LatestOnly: true})).
		WithFields(meta).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	data, _ := res.Data["Aggregate"].(map[string]interface{})
	rows, _ := data[vector.ClassName].([]interface{})
	if len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	m, _ := row["meta"].(map[string]interface{})
	return num(m["count"]), nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
