package extract

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"citadex/internal/domain"
)

var skipTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Template: true,
	atom.Button:   true,
	atom.Select:   true,
	atom.Head:     true,
}

var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Section:    true,
	atom.Article:    true,
	atom.Main:       true,
	atom.Ul:         true,
	atom.Ol:         true,
	atom.Table:      true,
	atom.Blockquote: true,
	atom.Pre:        true,
	atom.Dl:         true,
	atom.Figure:     true,
	atom.Hr:         true,
	atom.Address:    true,
	atom.Details:    true,
}

var lineTags = map[atom.Atom]bool{
	atom.Li:         true,
	atom.Tr:         true,
	atom.Dt:         true,
	atom.Dd:         true,
	atom.Figcaption: true,
	atom.Summary:    true,
}

var boilerplateRoles = map[string]bool{
	"navigation":    true,
	"banner":        true,
	"contentinfo":   true,
	"complementary": true,
	"search":        true,
}

var boilerplateClass = regexp.MustCompile(`(?i)(^|[\s_-])(nav|navbar|menu|breadcrumbs?|footer|sidebar|skip-link|cookie|social-share|pager|pagination)($|[\s_-])`)

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func isBoilerplate(n *html.Node) bool {
	if skipTags[n.DataAtom] {
		return true
	}
	if boilerplateRoles[strings.ToLower(attr(n, "role"))] {
		return true
	}
	if hasAttr(n, "hidden") || attr(n, "aria-hidden") == "true" {
		return true
	}
	return boilerplateClass.MatchString(attr(n, "class")) || boilerplateClass.MatchString(attr(n, "id"))
}

// mainRegion picks <main>, then role=main, then <article>, then <body>.
func mainRegion(root *html.Node) *html.Node {
	var byTag func(n *html.Node, match func(*html.Node) bool) *html.Node
	byTag = func(n *html.Node, match func(*html.Node) bool) *html.Node {
		if n.Type == html.ElementNode && match(n) {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := byTag(c, match); found != nil {
				return found
			}
		}
		return nil
	}

	matchers := []func(*html.Node) bool{
		func(n *html.Node) bool { return n.DataAtom == atom.Main },
		func(n *html.Node) bool { return attr(n, "role") == "main" },
		func(n *html.Node) bool { return n.DataAtom == atom.Article },
		func(n *html.Node) bool { return n.DataAtom == atom.Body },
	}
	for _, m := range matchers {
		if n := byTag(root, m); n != nil {
			return n
		}
	}
	return root
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		case html.ElementNode:
			if skipTags[n.DataAtom] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapse(sb.String())
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

type htmlWalker struct {
	buf      textBuffer
	sections []domain.SectionMarker
}

func (w *htmlWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.buf.writeText(n.Data)
		return
	case html.ElementNode:
		if isBoilerplate(n) {
			return
		}
		if level := headingLevel(n.DataAtom); level > 0 {
			w.heading(n, level)
			return
		}
		switch {
		case n.DataAtom == atom.Br:
			w.buf.breakLine(1)
			return
		case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
			w.buf.writeText(" ")
		}
	}

	sep := 0
	if n.Type == html.ElementNode {
		if blockTags[n.DataAtom] {
			sep = 2
		} else if lineTags[n.DataAtom] {
			sep = 1
		}
	}
	w.buf.breakLine(sep)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	w.buf.breakLine(sep)
}

func (w *htmlWalker) heading(n *html.Node, level int) {
	text := textContent(n)
	if text == "" {
		return
	}
	w.buf.breakLine(2)
	offset := w.buf.mark()
	w.sections = append(w.sections, domain.SectionMarker{Heading: text, Offset: offset, Level: level})
	w.buf.writeText(text)
	w.buf.breakLine(2)
}

// ExtractHTML converts an HTML page into normalized main-region text with
// its headings recorded as section markers.
func ExtractHTML(doc *domain.Document) (*domain.ExtractedText, error) {
	body := bytes.ToValidUTF8(doc.Body, []byte("�"))
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ExtractionError{URL: doc.URL, Err: err}
	}

	w := &htmlWalker{}
	w.walk(mainRegion(root))

	if w.buf.Len() == 0 {
		return nil, &domain.ExtractionError{URL: doc.URL, Err: domain.ErrEmptyContent}
	}

	title := ""
	if t := findFirst(root, atom.Title); t != nil {
		title = textContent(t)
	}
	if title == "" {
		if h1 := findFirst(root, atom.H1); h1 != nil {
			title = textContent(h1)
		}
	}
	if title == "" {
		title = fallbackTitle(doc.URL)
	}

	return &domain.ExtractedText{
		URL:         doc.URL,
		Title:       title,
		ContentType: domain.ContentHTML,
		CrawledAt:   doc.CrawledAt,
		Text:        w.buf.String(),
		Sections:    w.sections,
	}, nil
}
