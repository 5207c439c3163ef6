// Package settings holds the retrieval tuning that can be changed at runtime
// without redeploying.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrInvalid = errors.New("invalid settings")

// Settings are the stored overrides. A nil field falls back to the default.
type Settings struct {
	SearchTopK       *int     `json:"search_top_k,omitempty" yaml:"search_top_k,omitempty"`
	SearchTopN       *int     `json:"search_top_n,omitempty" yaml:"search_top_n,omitempty"`
	SimilarityCutoff *float64 `json:"similarity_cutoff,omitempty" yaml:"similarity_cutoff,omitempty"`
	HighConfidence   *float64 `json:"high_confidence,omitempty" yaml:"high_confidence,omitempty"`
}

// Effective is what retrieval actually uses.
type Effective struct {
	SearchTopK       int     `json:"search_top_k" yaml:"search_top_k"`
	SearchTopN       int     `json:"search_top_n" yaml:"search_top_n"`
	SimilarityCutoff float64 `json:"similarity_cutoff" yaml:"similarity_cutoff"`
	HighConfidence   float64 `json:"high_confidence" yaml:"high_confidence"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo     Repository
	defaults Effective
}

// NewService returns a Service backed by repo. A nil repo serves defaults only.
func NewService(repo Repository, defaults Effective) *Service {
	return &Service{repo: repo, defaults: defaults}
}

// Get merges stored overrides over the defaults. A storage failure is logged
// and the defaults are served.
func (s *Service) Get(ctx context.Context) (*Effective, error) {
	eff := s.defaults
	if s.repo == nil {
		return &eff, nil
	}
	o, err := s.repo.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "settings unavailable, using defaults", "error", err)
		return &eff, nil
	}
	return apply(eff, o), nil
}

func apply(eff Effective, o *Settings) *Effective {
	if o.SearchTopK != nil {
		eff.SearchTopK = *o.SearchTopK
	}
	if o.SearchTopN != nil {
		eff.SearchTopN = *o.SearchTopN
	}
	if o.SimilarityCutoff != nil {
		eff.SimilarityCutoff = *o.SimilarityCutoff
	}
	if o.HighConfidence != nil {
		eff.HighConfidence = *o.HighConfidence
	}
	return &eff
}

// Update validates the overrides merged with the defaults and stores them.
func (s *Service) Update(ctx context.Context, o *Settings) error {
	if s.repo == nil {
		return errors.New("settings: no persistent store configured")
	}
	if err := Validate(apply(s.defaults, o)); err != nil {
		return err
	}
	return s.repo.Update(ctx, o)
}

// Patch stores the non-nil fields of o on top of the stored overrides.
func (s *Service) Patch(ctx context.Context, o *Settings) error {
	if s.repo == nil {
		return errors.New("settings: no persistent store configured")
	}
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if o.SearchTopK != nil {
		cur.SearchTopK = o.SearchTopK
	}
	if o.SearchTopN != nil {
		cur.SearchTopN = o.SearchTopN
	}
	if o.SimilarityCutoff != nil {
		cur.SimilarityCutoff = o.SimilarityCutoff
	}
	if o.HighConfidence != nil {
		cur.HighConfidence = o.HighConfidence
	}
	return s.Update(ctx, cur)
}

func Validate(e *Effective) error {
	switch {
	case e.SearchTopK < 1:
		return fmt.Errorf("%w: search_top_k must be at least 1", ErrInvalid)
	case e.SearchTopN < 1 || e.SearchTopN > e.SearchTopK:
		return fmt.Errorf("%w: search_top_n must be between 1 and search_top_k", ErrInvalid)
	case e.SimilarityCutoff < 0 || e.SimilarityCutoff > 1:
		return fmt.Errorf("%w: similarity_cutoff must be within [0, 1]", ErrInvalid)
	case e.HighConfidence < e.SimilarityCutoff || e.HighConfidence > 1:
		return fmt.Errorf("%w: high_confidence must be within [similarity_cutoff, 1]", ErrInvalid)
	}
	return nil
}
