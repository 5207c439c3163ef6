package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"citadex/internal/domain"
	"citadex/internal/fetcher"
)

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, v domain.Validators) (*fetcher.Result, error)
	Allowed(ctx context.Context, rawURL string) (bool, error)
	Sitemaps(ctx context.Context, rawURL string) []string
}

type Outcome int

const (
	OutcomeIndexed Outcome = iota
	OutcomeUnchanged
)

// Handler receives every successfully fetched document. It owns persisted
// crawl state and everything downstream of the fetch.
type Handler interface {
	Validators(ctx context.Context, url string) (domain.Validators, error)
	NotModified(ctx context.Context, url string) error
	Handle(ctx context.Context, doc *domain.Document) (Outcome, error)
}

// FailureRecorder persists URLs that failed so they can be retried later.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, url string, err error) error
}

type RunOptions struct {
	Seeds         []string
	MaxPages      int
	Concurrency   int
	AllowPDF      bool
	AllowPrefixes []string
	BlockPrefixes []string
	UseSitemaps   bool
	FollowLinks   bool
}

type Controller struct {
	fetcher  Fetcher
	handler  Handler
	failures FailureRecorder
}

func NewController(f Fetcher, h Handler, failures FailureRecorder) *Controller {
	return &Controller{fetcher: f, handler: h, failures: failures}
}

// Run crawls from the seeds until the queue drains, the page budget is spent
// or ctx is cancelled. Per-URL errors never abort the run; they are counted
// in the returned report. On cancellation the report is partial.
func (c *Controller) Run(ctx context.Context, opts RunOptions) (domain.CrawlReport, error) {
	if len(opts.Seeds) == 0 {
		return domain.CrawlReport{}, errors.New("crawl: no seed urls")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	seeds := make([]string, 0, len(opts.Seeds))
	for _, s := range opts.Seeds {
		n, err := Normalize(nil, s)
		if err != nil {
			return domain.CrawlReport{}, fmt.Errorf("crawl: invalid seed %q: %w", s, err)
		}
		seeds = append(seeds, n)
	}
	first, _ := url.Parse(seeds[0])

	scope := Scope{
		Host:          first.Host,
		AllowPrefixes: opts.AllowPrefixes,
		BlockPrefixes: opts.BlockPrefixes,
		AllowPDF:      opts.AllowPDF,
	}
	session := NewCrawlSession(opts.MaxPages)
	start := time.Now()

	slog.InfoContext(ctx, "crawl started", "host", scope.Host, "seeds", len(seeds), "max_pages", opts.MaxPages, "concurrency", opts.Concurrency)

	for _, s := range seeds {
		c.admit(session, scope, s)
	}
	if opts.UseSitemaps {
		origin := first.Scheme + "://" + first.Host
		for _, raw := range c.discoverSitemapURLs(ctx, origin) {
			if n, err := Normalize(first, raw); err == nil {
				c.admit(session, scope, n)
			}
		}
	}
	session.CloseWhenDrained()

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.work(ctx, session, scope, opts)
		}()
	}
	wg.Wait()

	report := session.Report()
	report.Cancelled = ctx.Err() != nil
	report.Duration = time.Since(start).Round(time.Millisecond).String()

	slog.InfoContext(ctx, "crawl finished",
		"fetched", report.Fetched,
		"indexed", report.Indexed,
		"not_modified", report.NotModified,
		"unchanged", report.Unchanged,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"off_host", report.OffHost,
		"cancelled", report.Cancelled,
	)
	return report, nil
}

func (c *Controller) admit(s *CrawlSession, scope Scope, normalized string) {
	u, err := url.Parse(normalized)
	if err != nil {
		return
	}
	switch scope.Classify(u) {
	case InScope:
		s.Admit(normalized)
	case OffHost:
		s.RecordOffHost(normalized)
	}
}

func (c *Controller) work(ctx context.Context, s *CrawlSession, scope Scope, opts RunOptions) {
	for u := range s.Queue() {
		if ctx.Err() != nil {
			s.Stop()
			s.Done()
			continue
		}
		// In-flight work finishes even if the run is cancelled meanwhile.
		c.process(context.WithoutCancel(ctx), s, scope, opts, u)
		s.Done()
	}
}

func (c *Controller) process(ctx context.Context, s *CrawlSession, scope Scope, opts RunOptions, rawURL string) {
	log := slog.With("url", rawURL)

	allowed, err := c.fetcher.Allowed(ctx, rawURL)
	if err == nil && !allowed {
		log.DebugContext(ctx, "disallowed by robots.txt")
		s.Update(func(r *domain.CrawlReport) { r.Skipped++ })
		return
	}

	validators, err := c.handler.Validators(ctx, rawURL)
	if err != nil {
		log.WarnContext(ctx, "failed to load crawl state, fetching unconditionally", "error", err)
		validators = domain.Validators{}
	}

	res, err := c.fetcher.Fetch(ctx, rawURL, validators)
	if err != nil {
		c.fail(ctx, s, rawURL, err)
		return
	}

	if res.NotModified {
		s.Update(func(r *domain.CrawlReport) { r.Fetched++; r.NotModified++ })
		if err := c.handler.NotModified(ctx, rawURL); err != nil {
			log.WarnContext(ctx, "failed to mark document revisited", "error", err)
		}
		return
	}
	s.Update(func(r *domain.CrawlReport) { r.Fetched++ })

	docURL := rawURL
	if final, err := Normalize(nil, res.FinalURL); err == nil && final != rawURL {
		fu, _ := url.Parse(final)
		if fu == nil || scope.Classify(fu) != InScope {
			log.DebugContext(ctx, "redirected out of scope", "final_url", final)
			s.Update(func(r *domain.CrawlReport) { r.Skipped++ })
			return
		}
		// First URL to claim a canonical form owns it.
		if !s.Claim(final) {
			s.Update(func(r *domain.CrawlReport) { r.Duplicates++ })
			return
		}
		docURL = final
	}

	ct, ok := classifyContent(res, docURL)
	if !ok || (ct == domain.ContentPDF && !opts.AllowPDF) {
		log.DebugContext(ctx, "skipping unsupported content", "content_type", res.ContentType())
		s.Update(func(r *domain.CrawlReport) { r.Skipped++ })
		return
	}

	sum := sha256.Sum256(res.Body)
	doc := &domain.Document{
		URL:         docURL,
		ContentType: ct,
		Body:        res.Body,
		ContentHash: hex.EncodeToString(sum[:]),
		Validators:  res.Validators,
		Status:      res.Status,
		CrawledAt:   time.Now().UTC(),
	}

	outcome, err := c.handler.Handle(ctx, doc)
	switch {
	case err != nil:
		c.fail(ctx, s, docURL, err)
	case outcome == OutcomeUnchanged:
		s.Update(func(r *domain.CrawlReport) { r.Unchanged++ })
	default:
		s.Update(func(r *domain.CrawlReport) { r.Indexed++ })
	}

	if ct == domain.ContentHTML && opts.FollowLinks {
		c.enqueueLinks(ctx, s, scope, docURL, res.Body)
	}
}

func (c *Controller) enqueueLinks(ctx context.Context, s *CrawlSession, scope Scope, pageURL string, body []byte) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	links, baseHref := ExtractLinks(body)
	if baseHref != "" {
		if b, err := base.Parse(baseHref); err == nil {
			base = b
		}
	}

	inScope, offHost := DiscoverLinks(scope, base, links)
	for _, o := range offHost {
		s.RecordOffHost(o)
	}
	admitted := 0
	for _, l := range inScope {
		if s.Admit(l) == Admitted {
			admitted++
		}
	}
	if admitted > 0 {
		slog.DebugContext(ctx, "links enqueued", "url", pageURL, "count", admitted)
	}
}

func (c *Controller) fail(ctx context.Context, s *CrawlSession, rawURL string, err error) {
	kind := domain.FailureKind(err)
	failure := domain.URLFailure{URL: rawURL, Kind: kind, Error: err.Error()}

	var ee *domain.ExtractionError
	if errors.As(err, &ee) {
		slog.WarnContext(ctx, "extraction failed, skipping", "url", rawURL, "error", err)
		s.Update(func(r *domain.CrawlReport) {
			r.Skipped++
			r.Failures = append(r.Failures, failure)
		})
		return
	}

	var ce *domain.ChunkingInvariantError
	if errors.As(err, &ce) {
		slog.ErrorContext(ctx, "internal error while ingesting", "url", rawURL, "error", err)
	} else {
		slog.WarnContext(ctx, "url failed", "url", rawURL, "kind", kind, "error", err)
	}
	s.Update(func(r *domain.CrawlReport) {
		r.Failed++
		r.Failures = append(r.Failures, failure)
	})

	if c.failures != nil {
		if rerr := c.failures.RecordFailure(ctx, rawURL, err); rerr != nil {
			slog.ErrorContext(ctx, "failed to record failed url", "url", rawURL, "error", rerr)
		}
	}
}

func classifyContent(res *fetcher.Result, docURL string) (domain.ContentType, bool) {
	switch ct := res.ContentType(); {
	case ct == "text/html" || ct == "application/xhtml+xml":
		return domain.ContentHTML, true
	case ct == "application/pdf":
		return domain.ContentPDF, true
	case ct == "" || ct == "application/octet-stream":
		if strings.HasSuffix(strings.ToLower(docURL), ".pdf") {
			return domain.ContentPDF, true
		}
		if ct == "" && len(res.Body) > 0 && strings.Contains(strings.ToLower(string(res.Body[:min(len(res.Body), 512)])), "<html") {
			return domain.ContentHTML, true
		}
	}
	return "", false
}
