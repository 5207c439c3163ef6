package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"citadex/internal/config"
	"citadex/internal/worker"
)

var workerProfile string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume re-ingestion tasks from NSQ",
	Long: `Runs until interrupted, re-ingesting each URL published on the ingest topic,
typically by "citadex jobs retry". A profile limits tasks to its path scope.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVarP(&workerProfile, "profile", "p", "", "crawl profile whose scope tasks must satisfy")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	var allow, block []string
	if workerProfile != "" {
		p, err := config.LoadProfile(workerProfile)
		if err != nil {
			return err
		}
		allow, block = p.AllowPrefixes, p.BlockPrefixes
	}

	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()
	if !a.Config.UsesPostgres() {
		return errors.New("the worker needs a persistent backend")
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = a.Config.NSQMaxInFlight
	consumer, err := nsq.NewConsumer(config.TopicIngestURL, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	var resolver worker.Resolver
	if a.Jobs != nil {
		resolver = a.Jobs
	}
	consumer.AddHandler(worker.NewIngestConsumer(a.Crawler, resolver, allow, block))

	if err := consumer.ConnectToNSQLookupd(a.Config.NSQLookupd); err != nil {
		return fmt.Errorf("connect to nsqlookupd: %w", err)
	}
	slog.Info("worker started", "topic", config.TopicIngestURL, "channel", config.ChannelIngestWorker)

	<-cmd.Context().Done()
	slog.Info("shutting down worker...")
	consumer.Stop()
	<-consumer.StopChan
	return nil
}
