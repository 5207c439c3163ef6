package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"citadex/internal/app"
)

var errNoJobs = errors.New("failed jobs need a persistent backend with NSQ")

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and retry failed URLs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List URLs that failed to ingest",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry [job-id]",
	Short: "Re-queue a failed URL for the worker",
	Long:  "The job stays listed until the worker ingests the URL.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

var jobsDropCmd = &cobra.Command{
	Use:   "drop [job-id]",
	Short: "Forget a failed URL without retrying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDrop,
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	jobsCmd.AddCommand(jobsDropCmd)
	rootCmd.AddCommand(jobsCmd)
}

func withJobs(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()
	if a.Jobs == nil {
		return errNoJobs
	}
	return fn(a)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	return withJobs(cmd, func(a *app.App) error {
		jobs, err := a.Jobs.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		if len(jobs) == 0 {
			cmd.Println("No failed jobs.")
			return nil
		}
		for _, j := range jobs {
			cmd.Printf("%s  %s  [%s] failures=%d\n", j.ID, j.URL, j.Kind, j.Failures)
			cmd.Printf("    %s\n", j.Error)
		}
		return nil
	})
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	return withJobs(cmd, func(a *app.App) error {
		if err := a.Jobs.Retry(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("retry job: %w", err)
		}
		cmd.Printf("Job %s re-queued.\n", args[0])
		return nil
	})
}

func runJobsDrop(cmd *cobra.Command, args []string) error {
	return withJobs(cmd, func(a *app.App) error {
		if err := a.Jobs.Drop(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("drop job: %w", err)
		}
		cmd.Printf("Job %s dropped.\n", args[0])
		return nil
	})
}
