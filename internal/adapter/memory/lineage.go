package memory

import (
	"context"
	"sync"

	"citadex/internal/domain"
)

type docLineage struct {
	latest   int
	versions map[int][]domain.EntryRef
	complete map[int]bool
	flags    map[string]bool
}

// Lineage implements the version arena and latest pointer in memory. It also
// serves as the model registry.
type Lineage struct {
	mu    sync.Mutex
	docs  map[string]*docLineage
	model string
}

func NewLineage() *Lineage {
	return &Lineage{docs: make(map[string]*docLineage)}
}

func (l *Lineage) doc(url string) *docLineage {
	d, ok := l.docs[url]
	if !ok {
		d = &docLineage{versions: make(map[int][]domain.EntryRef), complete: make(map[int]bool), flags: make(map[string]bool)}
		l.docs[url] = d
	}
	return d
}

func (l *Lineage) LatestVersion(ctx context.Context, url string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.docs[url]; ok {
		return d.latest, nil
	}
	return 0, nil
}

// NextVersion is one past the highest version recorded for url, pending or not.
func (l *Lineage) NextVersion(ctx context.Context, url string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := 1
	if d, ok := l.docs[url]; ok {
		next = d.latest + 1
		for v := range d.versions {
			next = max(next, v+1)
		}
	}
	return next, nil
}

// Record appends refs not yet known for version. Existing refs are kept.
func (l *Lineage) Record(ctx context.Context, url string, version int, refs []domain.EntryRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.doc(url)
	for _, r := range refs {
		if _, ok := d.flags[r.ID]; ok {
			continue
		}
		d.flags[r.ID] = false
		d.versions[version] = append(d.versions[version], r)
	}
	return nil
}

func (l *Lineage) Complete(ctx context.Context, url string, version int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc(url).complete[version] = true
	return nil
}

func (l *Lineage) EntryIDs(ctx context.Context, url string, version int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.docs[url]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(d.versions[version]))
	for _, r := range d.versions[version] {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// PriorLatest lists entries of the promoted version and of any version
// between it and version.
func (l *Lineage) PriorLatest(ctx context.Context, url string, version int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.docs[url]
	if !ok {
		return nil, nil
	}
	var ids []string
	for v, refs := range d.versions {
		if v >= version || v < d.latest {
			continue
		}
		for _, r := range refs {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (l *Lineage) Promote(ctx context.Context, url string, version int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.doc(url)
	if version < d.latest {
		return nil
	}
	d.latest = version
	for v, refs := range d.versions {
		for _, r := range refs {
			d.flags[r.ID] = v == version
		}
	}
	return nil
}

// Unpromoted lists documents whose newest complete version is ahead of the
// latest pointer.
func (l *Lineage) Unpromoted(ctx context.Context) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int)
	for url, d := range l.docs {
		newest := 0
		for v, done := range d.complete {
			if done && len(d.versions[v]) > 0 {
				newest = max(newest, v)
			}
		}
		if newest > d.latest {
			out[url] = newest
		}
	}
	return out, nil
}

// LatestRefs returns the entries currently marked latest for url.
func (l *Lineage) LatestRefs(url string) []domain.EntryRef {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.docs[url]
	if !ok {
		return nil
	}
	var out []domain.EntryRef
	for _, r := range d.versions[d.latest] {
		if d.flags[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

func (l *Lineage) IndexedModel(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.model, nil
}

func (l *Lineage) RecordModel(ctx context.Context, model string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.model = model
	return nil
}
