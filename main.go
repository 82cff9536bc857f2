package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abja/topic-streams/pkg/cli"
	"github.com/abja/topic-streams/pkg/version"
)

// Build information (will be overridden by build flags)
var (
	buildVersion = ""
	buildCommit  = ""
	buildTime    = ""
)

func printUsage() {
	fmt.Printf(`Topic Streams - Real-time news feed per topic v%s

USAGE:
    topic-streams <command> [options]

COMMANDS:
    serve        Start the API, WebSocket and scraping daemon
    scrape       Run a single scrape cycle for one topic
    inspect      Display stored news entries for a topic
    version      Show version information
    build-info   Show build information in JSON format

EXAMPLES:
    topic-streams serve
    topic-streams serve --port 8080 --scrape-interval 5m
    topic-streams scrape --topic bitcoin
    topic-streams inspect --topic bitcoin --limit 50

The database connection is configured through DB_HOST, DB_PORT, DB_USER,
DB_PASSWORD, DB_NAME and DB_SSLMODE environment variables.

For detailed help on any command:
    topic-streams <command> --help

`, version.GetBuildInfo().Version)
}

func main() {
	version.SetBuildInfo(buildVersion, buildCommit, buildTime)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		port := serveCmd.Int("port", 8080, "HTTP listen port")
		scrapeInterval := serveCmd.Duration("scrape-interval", 5*time.Minute, "Delay between scrape cycles (0 disables scraping)")
		debug := serveCmd.Bool("debug", false, "Enable debug logging")

		serveCmd.Usage = func() {
			fmt.Printf(`USAGE: topic-streams serve [options]

OPTIONS:
`)
			serveCmd.PrintDefaults()
			fmt.Printf(`
DESCRIPTION:
    Start the daemon: REST API and WebSocket endpoint on the given port,
    the database notification listener, and a periodic scraper that
    refreshes every active topic.

EXAMPLES:
    topic-streams serve
    topic-streams serve --port 9000 --scrape-interval 10m --debug
    topic-streams serve --scrape-interval 0   # API only, no scraping
`)
		}

		if err := serveCmd.Parse(os.Args[2:]); err != nil {
			serveCmd.Usage()
			os.Exit(1)
		}

		if err := cli.Serve(*port, *scrapeInterval, *debug); err != nil {
			fmt.Fprintf(os.Stderr, "Serve command failed: %v\n", err)
			os.Exit(1)
		}

	case "scrape":
		scrapeCmd := flag.NewFlagSet("scrape", flag.ExitOnError)
		topic := scrapeCmd.String("topic", "", "Topic to scrape (required)")
		debug := scrapeCmd.Bool("debug", false, "Enable debug logging")

		scrapeCmd.Usage = func() {
			fmt.Printf(`USAGE: topic-streams scrape [options]

OPTIONS:
`)
			scrapeCmd.PrintDefaults()
			fmt.Printf(`
DESCRIPTION:
    Register the topic (if new) and run one scrape cycle for it, storing
    any entries found. Topic names are normalized: lowercased, punctuation
    stripped, whitespace collapsed.

EXAMPLES:
    topic-streams scrape --topic bitcoin
    topic-streams scrape --topic "machine learning" --debug
`)
		}

		if err := scrapeCmd.Parse(os.Args[2:]); err != nil {
			scrapeCmd.Usage()
			os.Exit(1)
		}

		if *topic == "" {
			fmt.Println("Error: --topic is required")
			scrapeCmd.Usage()
			os.Exit(1)
		}

		if err := cli.Scrape(*topic, *debug); err != nil {
			fmt.Fprintf(os.Stderr, "Scrape command failed: %v\n", err)
			os.Exit(1)
		}

	case "inspect":
		inspectCmd := flag.NewFlagSet("inspect", flag.ExitOnError)
		topic := inspectCmd.String("topic", "", "Topic to inspect (required)")
		limit := inspectCmd.Int("limit", 50, "Number of entries to show")
		since := inspectCmd.String("since", "", "Show entries since (e.g., '1h', '24h')")

		inspectCmd.Usage = func() {
			fmt.Printf(`USAGE: topic-streams inspect [options]

OPTIONS:
`)
			inspectCmd.PrintDefaults()
			fmt.Printf(`
DESCRIPTION:
    Display stored news entries for a topic in a formatted table,
    newest first.

EXAMPLES:
    topic-streams inspect --topic bitcoin
    topic-streams inspect --topic bitcoin --limit 100
    topic-streams inspect --topic bitcoin --since 24h
`)
		}

		if err := inspectCmd.Parse(os.Args[2:]); err != nil {
			inspectCmd.Usage()
			os.Exit(1)
		}

		if *topic == "" {
			fmt.Println("Error: --topic is required")
			inspectCmd.Usage()
			os.Exit(1)
		}

		if err := cli.Inspect(*topic, *limit, *since); err != nil {
			fmt.Fprintf(os.Stderr, "Inspect command failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Print(version.FormatInfo())

	case "build-info":
		info, err := version.FormatJSON()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to format build info: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(info)

	case "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}
