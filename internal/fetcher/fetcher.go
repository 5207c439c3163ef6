package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"citadex/internal/domain"
)

const defaultMaxBodyBytes = 32 << 20

type Options struct {
	UserAgent    string
	RPS          float64 // <= 0 disables the global ceiling
	Timeout      time.Duration
	MaxAttempts  int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	RobotsTTL    time.Duration
	// RobotsRetry bounds how long an unreachable robots.txt is treated as
	// allow-all before it is requested again.
	RobotsRetry  time.Duration
	MaxBodyBytes int64
}

// Result is a successful fetch. NotModified is set on a 304, in which case
// Body is empty.
type Result struct {
	URL         string
	FinalURL    string
	Status      int
	Body        []byte
	Header      http.Header
	Validators  domain.Validators
	NotModified bool
	Attempts    int
}

// ContentType returns the media type of the response without parameters.
func (r *Result) ContentType() string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// Fetcher is safe for concurrent use. All workers of a crawl share one
// Fetcher so the token bucket and per-host politeness are global.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	robots  *robotsCache

	hostMu sync.Mutex
	nextAt map[string]time.Time
}

func New(opts Options, client *http.Client) *Fetcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	f := &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		nextAt:  make(map[string]time.Time),
	}
	f.robots = newRobotsCache(f, opts.RobotsTTL, opts.RobotsRetry)
	return f
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Fetch retrieves rawURL, sending conditional headers when validators are
// known. Transient failures are retried with exponential backoff and jitter
// up to MaxAttempts; 4xx other than 429 fails on the first attempt.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, v domain.Validators) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.BackoffMin
	b.MaxInterval = f.opts.BackoffMax
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.opts.MaxAttempts-1)), ctx)

	attempts := 0
	var result *Result
	op := func() error {
		attempts++
		res, err := f.do(ctx, u, v)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		switch {
		case res.Status == http.StatusNotModified:
			res.NotModified = true
			result = res
			return nil
		case res.Status >= 200 && res.Status < 300:
			result = res
			return nil
		case retryableStatus(res.Status):
			return &statusError{code: res.Status}
		default:
			return backoff.Permanent(&statusError{code: res.Status})
		}
	}
	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "fetch attempt failed, retrying", "url", rawURL, "attempt", attempts, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		fe := &domain.FetchError{URL: rawURL, Attempts: attempts, Retryable: true, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			fe.Status = se.code
			fe.Retryable = retryableStatus(se.code)
		}
		if ctx.Err() != nil {
			fe.Retryable = false
		}
		return nil, fe
	}

	result.Attempts = attempts
	return result, nil
}

func (f *Fetcher) do(ctx context.Context, u *url.URL, v domain.Validators) (*Result, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := f.politeWait(ctx, u.Host); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &Result{
		URL:      u.String(),
		FinalURL: resp.Request.URL.String(),
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Validators: domain.Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		res.Body = body
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return res, nil
}

// politeWait spaces requests to one host by its robots crawl-delay.
func (f *Fetcher) politeWait(ctx context.Context, host string) error {
	delay := f.robots.crawlDelay(host)
	if delay <= 0 {
		return nil
	}

	f.hostMu.Lock()
	now := time.Now()
	at := f.nextAt[host]
	if at.Before(now) {
		at = now
	}
	f.nextAt[host] = at.Add(delay)
	f.hostMu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Allowed reports whether robots.txt permits fetching rawURL.
func (f *Fetcher) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	data := f.robots.get(ctx, u)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, f.opts.UserAgent), nil
}

// Sitemaps returns the Sitemap: entries of the host's robots.txt.
func (f *Fetcher) Sitemaps(ctx context.Context, rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return f.robots.get(ctx, u).Sitemaps
}
