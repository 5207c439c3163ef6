package crawler

import (
	"sync"

	"citadex/internal/domain"
)

type AdmitResult int

const (
	Admitted AdmitResult = iota
	AlreadySeen
	BudgetExhausted
	Stopped
)

const maxOffHostSample = 20

// CrawlSession is the per-run frontier: the seen set, the work queue and the
// running report. Admission never blocks because the queue is sized to the
// page budget.
type CrawlSession struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	offHost  map[string]struct{}
	budget   int
	admitted int
	stopped  bool
	report   domain.CrawlReport

	queue   chan string
	pending sync.WaitGroup
}

func NewCrawlSession(maxPages int) *CrawlSession {
	if maxPages < 1 {
		maxPages = 1
	}
	return &CrawlSession{
		seen:    make(map[string]struct{}),
		offHost: make(map[string]struct{}),
		budget:  maxPages,
		queue:   make(chan string, maxPages),
	}
}

// Admit enqueues a normalized URL unless it was seen before, the budget is
// spent or the session is stopped.
func (s *CrawlSession) Admit(u string) AdmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Stopped
	}
	if _, ok := s.seen[u]; ok {
		return AlreadySeen
	}
	if s.admitted >= s.budget {
		return BudgetExhausted
	}
	s.seen[u] = struct{}{}
	s.admitted++
	s.pending.Add(1)
	s.queue <- u
	return Admitted
}

// Claim marks u as seen without queueing it. It reports false when u was
// already known, which is how redirect collisions are detected.
func (s *CrawlSession) Claim(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[u]; ok {
		return false
	}
	s.seen[u] = struct{}{}
	return true
}

func (s *CrawlSession) Seen(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[u]
	return ok
}

func (s *CrawlSession) Queue() <-chan string {
	return s.queue
}

// Done must be called once for every URL received from Queue.
func (s *CrawlSession) Done() {
	s.pending.Done()
}

// CloseWhenDrained closes the queue once every admitted URL is Done. Call it
// after the initial seeds are admitted.
func (s *CrawlSession) CloseWhenDrained() {
	go func() {
		s.pending.Wait()
		close(s.queue)
	}()
}

// Stop refuses further admissions.
func (s *CrawlSession) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *CrawlSession) RecordOffHost(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offHost[u]; ok {
		return
	}
	s.offHost[u] = struct{}{}
	s.report.OffHost++
	if len(s.report.OffHostSample) < maxOffHostSample {
		s.report.OffHostSample = append(s.report.OffHostSample, u)
	}
}

func (s *CrawlSession) Update(fn func(r *domain.CrawlReport)) {
	s.mu.Lock()
	fn(&s.report)
	s.mu.Unlock()
}

func (s *CrawlSession) Report() domain.CrawlReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.report
	r.Failures = append([]domain.URLFailure(nil), s.report.Failures...)
	r.OffHostSample = append([]string(nil), s.report.OffHostSample...)
	return r
}
