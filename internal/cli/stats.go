package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and crawl state counts",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Finish index writes interrupted before their old version was retired",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := a.Stats.Get(cmd.Context())
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	cmd.Print(string(out))
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := a.Reconcile(cmd.Context())
	cmd.Printf("Reconciled %d document(s).\n", n)
	return err
}
