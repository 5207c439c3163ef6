package memory

import (
	"context"
	"sync"
	"time"

	"citadex/internal/domain"
)

type StateStore struct {
	mu     sync.Mutex
	states map[string]domain.CrawlState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]domain.CrawlState)}
}

func (s *StateStore) Get(ctx context.Context, url string) (*domain.CrawlState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[url]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (s *StateStore) Save(ctx context.Context, st *domain.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.URL] = *st
	return nil
}

func (s *StateStore) Touch(ctx context.Context, url string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[url]
	if !ok {
		return domain.ErrNotFound
	}
	st.CrawledAt = at
	s.states[url] = st
	return nil
}

func (s *StateStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, st := range s.states {
		out[st.Status]++
	}
	return out, nil
}
