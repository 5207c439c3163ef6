package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// textBuffer accumulates normalized text. Whitespace runs collapse to one
// space, block breaks collapse to at most one blank line, and nothing is
// emitted at the edges, so the output and its offsets are a pure function of
// the token sequence. Offsets are counted in runes.
type textBuffer struct {
	b            strings.Builder
	runes        int
	pendingSpace bool
	pendingBreak int // 0, 1 ("\n") or 2 ("\n\n")
}

func (t *textBuffer) writeText(s string) {
	for _, r := range s {
		if unicode.IsSpace(r) {
			t.pendingSpace = true
			continue
		}
		t.flush()
		t.b.WriteRune(r)
		t.runes++
	}
}

// breakLine requests a separator of n newlines before the next text.
func (t *textBuffer) breakLine(n int) {
	if n > t.pendingBreak {
		t.pendingBreak = n
	}
}

func (t *textBuffer) flush() {
	if t.runes == 0 {
		t.pendingBreak, t.pendingSpace = 0, false
		return
	}
	switch {
	case t.pendingBreak > 0:
		sep := strings.Repeat("\n", t.pendingBreak)
		t.b.WriteString(sep)
		t.runes += t.pendingBreak
	case t.pendingSpace:
		t.b.WriteByte(' ')
		t.runes++
	}
	t.pendingBreak, t.pendingSpace = 0, false
}

// mark flushes pending separators and returns the offset where the next
// text will start.
func (t *textBuffer) mark() int {
	if t.runes > 0 && (t.pendingBreak > 0 || t.pendingSpace) {
		t.flush()
	}
	return t.runes
}

func (t *textBuffer) String() string { return t.b.String() }

func (t *textBuffer) Len() int { return t.runes }

// collapse normalizes whitespace within a single line of text.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
