package answer

import (
	"encoding/json"
	"fmt"
	"strings"

	"citadex/internal/domain"
)

const (
	snippetLimit = 300
	excerptLimit = 500
	maxFollowUps = 3
)

// Turn is one earlier message of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contextLine struct {
	Ref       int    `json:"ref"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Section   string `json:"section,omitempty"`
	Page      int    `json:"page,omitempty"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
	Excerpt   string `json:"excerpt"`
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// BuildPrompt renders the grounded generation prompt: one JSON line per
// candidate, the conversation so far, then the question.
func BuildPrompt(query string, history []Turn, candidates []domain.RetrievalCandidate, lowCertainty bool) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the numbered sources below. ")
	sb.WriteString("Cite sources as [n]. If the sources do not support an answer, reply exactly: \"")
	sb.WriteString(RefusalText)
	sb.WriteString("\"\nDo not give legal or tax-filing advice; quote what the sources say instead.\n")
	if lowCertainty {
		sb.WriteString("The sources are only a weak match for the question; say so and keep the answer narrow.\n")
	}

	sb.WriteString("\nSOURCES:\n")
	for i, c := range candidates {
		line, _ := json.Marshal(contextLine{
			Ref:       i + 1,
			URL:       c.Entry.URL,
			Title:     c.Entry.Title,
			Section:   c.Entry.Section,
			Page:      c.Entry.Page,
			CharStart: c.Entry.CharStart,
			CharEnd:   c.Entry.CharEnd,
			Excerpt:   truncate(c.Entry.Text, excerptLimit),
		})
		sb.Write(line)
		sb.WriteByte('\n')
	}

	if len(history) > 0 {
		sb.WriteString("\nCONVERSATION:\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(t.Role), t.Content)
		}
	}

	fmt.Fprintf(&sb, "\nQUESTION:\n%s\n", query)
	return sb.String()
}

func followUpPrompt(query, answer string) string {
	return fmt.Sprintf("Suggest up to %d short follow-up questions (under 80 characters each) a reader of this answer might ask next. "+
		"Respond with a JSON array of strings and nothing else.\n\nQuestion: %s\n\nAnswer: %s\n", maxFollowUps, query, answer)
}

// parseFollowUps accepts a bare JSON array, optionally wrapped in a code fence.
func parseFollowUps(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var raw []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, maxFollowUps)
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
		if len(out) == maxFollowUps {
			break
		}
	}
	return out, nil
}
