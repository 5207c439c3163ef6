package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"citadex/internal/config"
	"citadex/internal/domain"
)

var (
	crawlProfile  string
	crawlSeeds    []string
	crawlMaxPages int
	crawlAllowPDF bool
	crawlJSON     bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl a site and index its pages",
	Long: `Crawls from the seed URLs, staying on the seed host, and indexes every new
or changed page. Unchanged pages are revalidated and skipped.

Seeds and scope come from a YAML profile (--profile) or from --seed flags.`,
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().StringVarP(&crawlProfile, "profile", "p", "", "crawl profile YAML file")
	crawlCmd.Flags().StringSliceVar(&crawlSeeds, "seed", nil, "seed URL (repeatable)")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "page budget, overrides the profile")
	crawlCmd.Flags().BoolVar(&crawlAllowPDF, "allow-pdf", false, "also index linked PDFs")
	crawlCmd.Flags().BoolVar(&crawlJSON, "json", false, "print the crawl report as JSON")
	rootCmd.AddCommand(crawlCmd)
}

func crawlProfileFromFlags() (*config.CrawlProfile, error) {
	var p *config.CrawlProfile
	switch {
	case crawlProfile != "":
		loaded, err := config.LoadProfile(crawlProfile)
		if err != nil {
			return nil, err
		}
		p = loaded
	case len(crawlSeeds) > 0:
		p = &config.CrawlProfile{}
	default:
		return nil, errors.New("either --profile or --seed is required")
	}

	p.Seeds = append(p.Seeds, crawlSeeds...)
	if crawlMaxPages > 0 {
		p.MaxPages = crawlMaxPages
	}
	if crawlAllowPDF {
		p.AllowPDF = true
	}
	return p, nil
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	p, err := crawlProfileFromFlags()
	if err != nil {
		return err
	}

	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := a.Crawl(cmd.Context(), p)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	if crawlJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, r domain.CrawlReport) {
	if r.Cancelled {
		cmd.Println("Crawl cancelled, partial report:")
	} else {
		cmd.Println("Crawl finished:")
	}
	cmd.Printf("  fetched %d, indexed %d, unchanged %d, not modified %d\n", r.Fetched, r.Indexed, r.Unchanged, r.NotModified)
	cmd.Printf("  skipped %d, failed %d, off-host %d, duplicates %d\n", r.Skipped, r.Failed, r.OffHost, r.Duplicates)
	if r.Duration != "" {
		cmd.Printf("  took %s\n", r.Duration)
	}
	for _, f := range r.Failures {
		cmd.Printf("  ! %s [%s] %s\n", f.URL, f.Kind, f.Error)
	}
}
