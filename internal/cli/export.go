package cli

import (
	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the latest index entries as JSON lines",
	Long: `Pages through the vector store and writes every latest entry, with its
text and citation metadata but without its vector, one JSON object per line.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, default stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	out, closeOut, err := openOutput(exportOutput, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	n, err := a.Export.Write(cmd.Context(), out)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	cmd.PrintErrf("Exported %d entries.\n", n)
	return nil
}
