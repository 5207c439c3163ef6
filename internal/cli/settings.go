package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"citadex/internal/settings"
)

var (
	setTopK           int
	setTopN           int
	setCutoff         float64
	setHighConfidence float64
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View and change retrieval tuning",
	RunE:  runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Override retrieval settings",
	Long: `Stores overrides for the flags given; stored overrides for other fields are kept.
Overrides apply to the next query without a restart.`,
	Args: cobra.NoArgs,
	RunE: runSettingsSet,
}

func init() {
	settingsSetCmd.Flags().IntVar(&setTopK, "top-k", 0, "candidates fetched from the index")
	settingsSetCmd.Flags().IntVar(&setTopN, "top-n", 0, "sources passed to the answer")
	settingsSetCmd.Flags().Float64Var(&setCutoff, "cutoff", 0, "minimum similarity of a source")
	settingsSetCmd.Flags().Float64Var(&setHighConfidence, "high-confidence", 0, "similarity that makes an answer high confidence")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	eff, err := a.Settings.Get(cmd.Context())
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(eff)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	cmd.Print(string(out))
	return nil
}

// overridesFromFlags keeps only the flags the user actually passed.
func overridesFromFlags(cmd *cobra.Command) *settings.Settings {
	o := &settings.Settings{}
	flags := cmd.Flags()
	if flags.Changed("top-k") {
		o.SearchTopK = &setTopK
	}
	if flags.Changed("top-n") {
		o.SearchTopN = &setTopN
	}
	if flags.Changed("cutoff") {
		o.SimilarityCutoff = &setCutoff
	}
	if flags.Changed("high-confidence") {
		o.HighConfidence = &setHighConfidence
	}
	return o
}

func runSettingsSet(cmd *cobra.Command, _ []string) error {
	o := overridesFromFlags(cmd)
	if o.SearchTopK == nil && o.SearchTopN == nil && o.SimilarityCutoff == nil && o.HighConfidence == nil {
		return fmt.Errorf("nothing to set, see --help")
	}

	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.Settings.Patch(cmd.Context(), o); err != nil {
		return err
	}
	cmd.Println("Settings updated.")
	return nil
}
