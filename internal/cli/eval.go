package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"citadex/internal/eval"
)

var (
	evalQueries string
	evalOutput  string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run a query file through the answer pipeline and record the results",
	Long: `Asks every question of a YAML query file and writes one JSON line per
question with the answer, confidence, sources and latency. A summary is
printed when the run completes.`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalQueries, "queries", "q", "", "YAML query file (required)")
	evalCmd.Flags().StringVarP(&evalOutput, "output", "o", "", "JSON lines output file, default stdout")
	evalCmd.MarkFlagRequired("queries")
	rootCmd.AddCommand(evalCmd)
}

// openOutput returns w for an empty path, else a new file.
func openOutput(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}

func runEval(cmd *cobra.Command, _ []string) error {
	suite, err := eval.LoadSuite(evalQueries)
	if err != nil {
		return err
	}

	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	out, closeOut, err := openOutput(evalOutput, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	sum, err := eval.NewRunner(a.Answers).Run(cmd.Context(), suite, out)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(sum)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	cmd.PrintErr(string(data))
	return nil
}
