package crawler

import (
	"net/url"
	"strings"
)

type Verdict int

const (
	InScope Verdict = iota
	OffHost
	Blocked
	PDFDisallowed
)

// Scope limits a crawl to one host and, optionally, a set of path prefixes.
type Scope struct {
	Host          string
	AllowPrefixes []string
	BlockPrefixes []string
	AllowPDF      bool
}

func (s Scope) Classify(u *url.URL) Verdict {
	if !strings.EqualFold(u.Host, s.Host) {
		return OffHost
	}
	for _, p := range s.BlockPrefixes {
		if strings.HasPrefix(u.Path, p) {
			return Blocked
		}
	}
	if len(s.AllowPrefixes) > 0 {
		allowed := false
		for _, p := range s.AllowPrefixes {
			if strings.HasPrefix(u.Path, p) {
				allowed = true
				break
			}
		}
		if !allowed {
			return Blocked
		}
	}
	if !s.AllowPDF && isPDFPath(u) {
		return PDFDisallowed
	}
	return InScope
}

// DiscoverLinks normalizes raw links found on the page at base and splits
// them into in-scope and off-host URLs, each deduplicated.
func DiscoverLinks(scope Scope, base *url.URL, links []string) (inScope, offHost []string) {
	seen := make(map[string]bool)

	for _, link := range links {
		normalized, err := Normalize(base, link)
		if err != nil || seen[normalized] {
			continue
		}
		seen[normalized] = true

		u, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		switch scope.Classify(u) {
		case InScope:
			inScope = append(inScope, normalized)
		case OffHost:
			offHost = append(offHost, normalized)
		}
	}
	return inScope, offHost
}
