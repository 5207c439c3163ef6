package fetcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRobotsTTL   = 24 * time.Hour
	defaultRobotsRetry = time.Minute
)

type robotsEntry struct {
	data    *robotstxt.RobotsData
	delay   time.Duration
	expires time.Time
}

// robotsCache holds one parsed robots.txt per scheme+host until ttl expires.
// A robots.txt that could not be requested at all is cached for retry only.
type robotsCache struct {
	f     *Fetcher
	ttl   time.Duration
	retry time.Duration

	mu      sync.RWMutex
	entries map[string]*robotsEntry
	group   singleflight.Group
}

func newRobotsCache(f *Fetcher, ttl, retry time.Duration) *robotsCache {
	if ttl <= 0 {
		ttl = defaultRobotsTTL
	}
	if retry <= 0 {
		retry = defaultRobotsRetry
	}
	return &robotsCache{f: f, ttl: ttl, retry: min(retry, ttl), entries: make(map[string]*robotsEntry)}
}

func (c *robotsCache) get(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	origin := u.Scheme + "://" + u.Host

	c.mu.RLock()
	e, ok := c.entries[origin]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expires) {
		return e.data
	}

	v, _, _ := c.group.Do(origin, func() (interface{}, error) {
		data, reached := c.fetch(ctx, origin)
		ttl := c.ttl
		if !reached {
			ttl = c.retry
		}
		entry := &robotsEntry{data: data, expires: time.Now().Add(ttl)}
		if g := data.FindGroup(c.f.opts.UserAgent); g != nil {
			entry.delay = g.CrawlDelay
		}
		c.mu.Lock()
		c.entries[origin] = entry
		c.mu.Unlock()
		return data, nil
	})
	return v.(*robotstxt.RobotsData)
}

// crawlDelay only consults cached entries; it never triggers a fetch.
func (c *robotsCache) crawlDelay(host string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, scheme := range []string{"https://", "http://"} {
		if e, ok := c.entries[scheme+host]; ok {
			return e.delay
		}
	}
	return 0
}

// fetch never fails: unreachable robots.txt is treated as allow-all, 5xx as
// disallow-all, following robotstxt's status semantics. reached is false when
// no response was received, including cancellation.
func (c *robotsCache) fetch(ctx context.Context, origin string) (data *robotstxt.RobotsData, reached bool) {
	status, body := http.StatusNotFound, []byte(nil)

	if err := c.f.limiter.Wait(ctx); err == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
		if err == nil {
			req.Header.Set("User-Agent", c.f.opts.UserAgent)
			resp, err := c.f.client.Do(req)
			if err != nil {
				slog.WarnContext(ctx, "robots.txt unreachable, allowing all", "origin", origin, "error", err, "retry_in", c.retry)
			} else {
				reached = true
				status = resp.StatusCode
				body, _ = io.ReadAll(io.LimitReader(resp.Body, 512<<10))
				resp.Body.Close()
			}
		}
	}

	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		slog.WarnContext(ctx, "robots.txt unparsable, allowing all", "origin", origin, "error", err)
		data, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	}
	return data, reached
}
