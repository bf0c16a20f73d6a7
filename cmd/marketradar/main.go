package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "marketradar",
		Short:         "Collect financial news, drop duplicates and rank market-moving stories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(collectCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(articlesCmd())
	root.AddCommand(analysesCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	var feeds []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch all feeds once and store new articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), feeds)
		},
	}

	cmd.Flags().StringSliceVar(&feeds, "feed", nil, "specific feed ids to collect (e.g., reuters,coindesk)")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify and score stored articles that have not been analyzed yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max articles to analyze (default: analyze.batch_size)")
	return cmd
}

func articlesCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Show recently ingested articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArticles(cmd.Context(), jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max articles to show")
	return cmd
}

func analysesCmd() *cobra.Command {
	var (
		jsonOutput bool
		f          analysesFlags
	)

	cmd := &cobra.Command{
		Use:   "analyses",
		Short: "Show analyses ranked by importance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyses(cmd.Context(), jsonOutput, f)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&f.window, "window", "all", "recency window: today, week, month or all")
	cmd.Flags().IntVar(&f.minImportance, "min-importance", 0, "minimum importance (1-5)")
	cmd.Flags().StringSliceVar(&f.categories, "category", nil, "categories, any of")
	cmd.Flags().StringSliceVar(&f.tickers, "ticker", nil, "tickers, any of")
	cmd.Flags().StringVar(&f.query, "q", "", "text to search in title, summary and topic")
	cmd.Flags().StringVar(&f.cursor, "cursor", "", "id of the last analysis of the previous page")
	cmd.Flags().IntVar(&f.limit, "limit", 20, "max analyses to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: server.port)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: server.port)")
	return cmd
}
