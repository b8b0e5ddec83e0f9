package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:   "casedocs",
	Short: "Matter document ingestion, indexing and question answering",
	Long: `casedocs stores documents uploaded to legal matters, indexes them in a
per-matter search store and answers questions grounded in the indexed files.

Running without a subcommand starts the HTTP server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOr("CASEDOCS_CONFIG", ""), "path to config.json")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", envOr("CASEDOCS_DB", "sqlite3"), "database to use (sqlite3 or mysql)")
	rootCmd.AddCommand(serveCmd, sweepCmd, reindexCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
