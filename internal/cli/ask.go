package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"citadex/internal/answer"
	"citadex/internal/domain"
)

var (
	askContentType string
	askJSON        bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed pages",
	Long: `Retrieves the best matching passages and answers from them only. Every
answer lists its sources; with no good match the question is declined.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askContentType, "content-type", "", "restrict sources to html or pdf")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the response as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	req := answer.ChatRequest{Query: args[0]}
	switch ct := domain.ContentType(askContentType); ct {
	case "":
	case domain.ContentHTML, domain.ContentPDF:
		req.Filters = &answer.Filters{ContentType: ct}
	default:
		return fmt.Errorf("unknown content type %q", askContentType)
	}

	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := a.Answers.Ask(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printAnswer(cmd, resp)
	return nil
}

func printAnswer(cmd *cobra.Command, resp *answer.ChatResponse) {
	cmd.Println(resp.AnswerText)
	cmd.Println()
	cmd.Printf("Confidence: %s\n", resp.Confidence)

	if len(resp.Sources) > 0 {
		cmd.Println("Sources:")
		for i, s := range resp.Sources {
			title := s.Title
			if s.Section != "" && s.Section != s.Title {
				title += " > " + s.Section
			}
			cmd.Printf("  [%d] %s (%.2f)\n", i+1, title, s.Score)
			if s.Page > 0 {
				cmd.Printf("      %s (page %d)\n", s.URL, s.Page)
			} else {
				cmd.Printf("      %s\n", s.URL)
			}
			if s.LowCertainty {
				cmd.Println("      weak match")
			}
		}
	}

	if len(resp.FollowUpQuestions) > 0 {
		cmd.Println("You could also ask:")
		for _, q := range resp.FollowUpQuestions {
			cmd.Printf("  - %s\n", q)
		}
	}
}
