// Package answer turns retrieval candidates into a cited answer or a refusal.
package answer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"citadex/internal/domain"
)

// Generator is the LLM collaborator. sources are the candidates the prompt
// was built from.
type Generator interface {
	Generate(ctx context.Context, prompt string, sources []domain.RetrievalCandidate) (string, error)
}

type Query struct {
	Text    string
	History []Turn
}

type Result struct {
	Text       string
	Confidence domain.Confidence
	Citations  []domain.Citation
	Disclaimer bool
}

type Assembler struct {
	gen     Generator
	timeout time.Duration
}

func NewAssembler(gen Generator, timeout time.Duration) *Assembler {
	return &Assembler{gen: gen, timeout: timeout}
}

// Tier maps the best similarity among candidates to a confidence level.
func Tier(candidates []domain.RetrievalCandidate, highConfidence float64) domain.Confidence {
	if len(candidates) == 0 {
		return domain.ConfidenceLow
	}
	top := candidates[0].Score
	for _, c := range candidates[1:] {
		top = max(top, c.Score)
	}
	if top >= highConfidence {
		return domain.ConfidenceHigh
	}
	return domain.ConfidenceMedium
}

// Citations builds one citation per candidate, in order.
func Citations(candidates []domain.RetrievalCandidate, lowCertainty bool) []domain.Citation {
	out := make([]domain.Citation, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, domain.Citation{
			URL:          c.Entry.URL,
			Title:        c.Entry.Title,
			Section:      c.Entry.Section,
			Snippet:      truncate(c.Entry.Text, snippetLimit),
			CharStart:    c.Entry.CharStart,
			CharEnd:      c.Entry.CharEnd,
			Page:         c.Entry.Page,
			Score:        c.Score,
			LowCertainty: lowCertainty,
		})
	}
	return out
}

// Assemble decides the evidence tier and generates the grounded answer. An
// empty candidate set is a normal refusal, not an error.
func (a *Assembler) Assemble(ctx context.Context, q Query, candidates []domain.RetrievalCandidate, highConfidence float64) (*Result, error) {
	res := &Result{
		Confidence: Tier(candidates, highConfidence),
		Disclaimer: NeedsDisclaimer(q.Text),
	}

	if res.Confidence == domain.ConfidenceLow {
		res.Text = RefusalText
		res.Citations = []domain.Citation{}
	} else {
		weak := res.Confidence == domain.ConfidenceMedium
		text, err := a.generate(ctx, BuildPrompt(q.Text, q.History, candidates, weak), candidates)
		if err != nil {
			return nil, err
		}
		res.Text = text
		res.Citations = Citations(candidates, weak)
	}

	if res.Disclaimer {
		res.Text = DisclaimerText + "\n\n" + res.Text
	}
	return res, nil
}

func (a *Assembler) generate(ctx context.Context, prompt string, sources []domain.RetrievalCandidate) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	text, err := a.gen.Generate(ctx, prompt, sources)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &domain.GenerationTimeoutError{Err: err}
		}
		return "", &domain.GenerationError{Err: err}
	}
	return text, nil
}

// FollowUps asks for suggested next questions. Any failure yields none.
func (a *Assembler) FollowUps(ctx context.Context, query, answer string) []string {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	text, err := a.gen.Generate(ctx, followUpPrompt(query, answer), nil)
	if err != nil {
		slog.WarnContext(ctx, "follow-up generation failed", "error", err)
		return nil
	}
	qs, err := parseFollowUps(text)
	if err != nil {
		slog.WarnContext(ctx, "follow-up questions unparseable", "error", err)
		return nil
	}
	return qs
}
