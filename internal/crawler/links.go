package crawler

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// ExtractLinks returns the raw href values of anchors in an HTML body, in
// document order. A <base href> is returned separately so callers can
// resolve relative links against it.
func ExtractLinks(body []byte) (links []string, baseHref string) {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return links, baseHref
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				continue
			}
			tag := string(name)
			if tag != "a" && tag != "area" && tag != "base" {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					href := strings.TrimSpace(string(val))
					if tag == "base" {
						if baseHref == "" {
							baseHref = href
						}
					} else if keepHref(href) {
						links = append(links, href)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func keepHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, p := range []string{"mailto:", "javascript:", "tel:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}
