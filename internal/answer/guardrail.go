package answer

import "strings"

const (
	RefusalText    = "I don't have verifiable information in the knowledge base for that query."
	DisclaimerText = "I am not a lawyer; for legal or tax-filing advice consult a qualified tax professional or the IRS."
)

var advicePhrases = []string{
	"should i file",
	"what should i claim",
	"advice",
	"deduct",
	"penalty strategy",
	"how should i",
	"what do you recommend",
	"should i",
	"can i claim",
	"what can i deduct",
}

// NeedsDisclaimer reports whether query asks for advice rather than facts.
func NeedsDisclaimer(query string) bool {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))
	q = strings.ReplaceAll(q, "’", "'")
	for _, p := range advicePhrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}
