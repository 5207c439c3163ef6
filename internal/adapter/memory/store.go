// Package memory holds process-local implementations of the index and crawl
// state capabilities. They back the memory vector backend and tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"citadex/internal/domain"
)

type Store struct {
	mu      sync.RWMutex
	entries map[string]domain.IndexEntry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]domain.IndexEntry)}
}

// Upsert keeps existing entries untouched; a key is written once.
func (s *Store) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.entries[e.ID]; ok {
			continue
		}
		e.Vector = append([]float32(nil), e.Vector...)
		s.entries[e.ID] = e
	}
	return nil
}

func (s *Store) UpdateMetadata(ctx context.Context, ids []string, patch domain.MetadataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.IsLatest = patch.IsLatest
			s.entries[id] = e
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RetrievalCandidate
	for _, e := range s.entries {
		if filter.LatestOnly && !e.IsLatest {
			continue
		}
		if filter.ContentType != "" && e.ContentType != filter.ContentType {
			continue
		}
		out = append(out, domain.RetrievalCandidate{Entry: e, Score: Cosine(vector, e.Vector)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Entries returns a snapshot of every stored entry for url.
func (s *Store) Entries(url string) []domain.IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.IndexEntry
	for _, e := range s.entries {
		if e.URL == url {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Scroll returns up to limit latest entries with IDs after the cursor, in ID
// order and without vectors.
func (s *Store) Scroll(ctx context.Context, after string, limit int) ([]domain.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.IndexEntry
	for id, e := range s.entries {
		if e.IsLatest && id > after {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Vector = nil
	}
	return out, nil
}

func (s *Store) CountLatest(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.IsLatest {
			n++
		}
	}
	return n, nil
}

func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
