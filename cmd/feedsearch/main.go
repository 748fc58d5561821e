// Command feedsearch finds RSS, Atom, and JSON feeds for one or more sites.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/feedsearch-crawler/feedsearch"
)

var (
	flagConfig   string
	flagOutput   string
	flagTimeout  time.Duration
	flagDepth    int
	flagRPS      float64
	flagTryURLs  bool
	flagNoRobots bool
	flagNoHosts  bool
	flagStats    bool
	flagVerbose  bool
)

func main() {
	root := &cobra.Command{
		Use:   "feedsearch <url> [url...]",
		Short: "Discover RSS, Atom, and JSON feeds for websites",
		Long: `feedsearch crawls a bounded neighborhood of each given site and
reports the feeds it finds, ranked by relevance.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := root.Flags()
	flags.StringVarP(&flagConfig, "config", "c", "", "path to a JSON options file")
	flags.StringVarP(&flagOutput, "output", "o", "json", "output format: json or opml")
	flags.DurationVar(&flagTimeout, "timeout", 0, "total crawl deadline (default 10s)")
	flags.IntVar(&flagDepth, "max-depth", 0, "maximum link depth from a seed (default 10)")
	flags.Float64Var(&flagRPS, "global-rps", 0, "global requests-per-second ceiling (default unlimited)")
	flags.BoolVar(&flagTryURLs, "try-urls", false, "probe common feed paths on each origin")
	flags.BoolVar(&flagNoRobots, "no-robots", false, "ignore robots.txt disallow rules")
	flags.BoolVar(&flagNoHosts, "no-hosts", false, "skip fetching origin pages for site metadata")
	flags.BoolVar(&flagStats, "stats", false, "include crawl statistics in JSON output")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if flagVerbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	crawler := feedsearch.NewCrawler(opts, log)
	result := crawler.SearchWithInfo(context.Background(), args...)

	switch flagOutput {
	case "opml":
		out, err := feedsearch.OPML(result.Feeds)
		if err != nil {
			return fmt.Errorf("render opml: %w", err)
		}
		fmt.Println(string(out))
	case "json":
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("render json: %w", err)
		}
		fmt.Println(string(out))
	default:
		return fmt.Errorf("unknown output format %q", flagOutput)
	}

	if result.RootError != nil {
		return fmt.Errorf("%s: %s", result.RootError.URL, result.RootError.ErrorType)
	}
	return nil
}

func buildOptions() (*feedsearch.Options, error) {
	opts := feedsearch.DefaultOptions()
	if flagConfig != "" {
		loaded, err := feedsearch.LoadOptions(flagConfig)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	if flagTimeout > 0 {
		opts.TotalTimeout = flagTimeout
	}
	if flagDepth > 0 {
		opts.MaxDepth = flagDepth
	}
	if flagRPS > 0 {
		opts.GlobalRPS = flagRPS
	}
	if flagTryURLs {
		opts.TryURLs = true
	}
	if flagNoRobots {
		opts.RespectRobots = false
	}
	if flagNoHosts {
		opts.CrawlHosts = false
	}
	if flagStats {
		opts.IncludeStats = true
	}
	return opts, nil
}
