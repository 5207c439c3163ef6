package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citadex/internal/domain"
)

func TestAssemblePDF_PagesAndHeadings(t *testing.T) {
	pages := [][]pdfLine{
		{
			{Text: "Publication 17", Size: 18},
			{Text: "Your Federal Income Tax", Size: 10},
			{Text: "For use in preparing 2023 returns", Size: 10},
		},
		nil,
		{
			{Text: "Filing Status", Size: 14},
			{Text: "You must determine your filing status.", Size: 10},
		},
	}

	text, sections, starts := assemblePDF(pages)

	assert.Equal(t,
		"Publication 17\n\nYour Federal Income Tax\nFor use in preparing 2023 returns\n\n"+
			"Filing Status\n\nYou must determine your filing status.",
		text)
	require.Len(t, sections, 2)
	assert.Equal(t, "Publication 17", sections[0].Heading)
	assert.Equal(t, 0, sections[0].Offset)
	assert.Equal(t, "Filing Status", sections[1].Heading)

	require.Len(t, starts, 3)
	assert.Equal(t, 0, starts[0])
	assert.Equal(t, sections[1].Offset, starts[2])

	et := &domain.ExtractedText{Text: text, PageStarts: starts}
	assert.Equal(t, 1, et.PageAt(5))
	assert.Equal(t, 3, et.PageAt(starts[2]))
	assert.Equal(t, 3, et.PageAt(len([]rune(text))-1))
}

func TestAssemblePDF_NoHeadingsWhenUniform(t *testing.T) {
	text, sections, starts := assemblePDF([][]pdfLine{{{Text: "a b", Size: 10}, {Text: "c", Size: 10}}})
	assert.Equal(t, "a b\nc", text)
	assert.Empty(t, sections)
	assert.Equal(t, []int{0}, starts)
}

func TestTextBuffer_CollapsesAndTrims(t *testing.T) {
	var b textBuffer
	b.breakLine(2)
	b.writeText("  hello \t world ")
	b.breakLine(1)
	b.breakLine(2)
	b.writeText("next")
	b.breakLine(2)
	assert.Equal(t, "hello world\n\nnext", b.String())
	assert.Equal(t, len([]rune("hello world\n\nnext")), b.Len())
}
