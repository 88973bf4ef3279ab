// QueryDeck - analytical query service with result caching.
// Serves DuckDB-backed SQL with file, Redis, or S3 result caches.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/querydeck/querydeck/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	verbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "querydeck",
	Short: "QueryDeck - cached analytical SQL service",
	Long: `QueryDeck serves read-only analytical SQL over DuckDB with a
result cache in front of the engine. Identical queries are answered from
the cache until their entries expire or are invalidated.

Examples:
  querydeck serve                        # Start the HTTP server
  querydeck query "SELECT 42 AS answer"  # Run a query from the CLI
  querydeck cache stats                  # Show cache statistics`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := config.Global()
		cfg := mgr.Get()

		fmt.Printf("server:    %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("database:  %s\n", databaseLabel(cfg.Database.Path))
		fmt.Printf("cache:     enabled=%t backend=%s expiry=%s\n",
			cfg.Cache.Enabled, cfg.Cache.Backend, cfg.Cache.Expiry)
		fmt.Printf("telemetry: enabled=%t endpoint=%s\n",
			cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint)
		if paths := mgr.GetPaths(); len(paths) > 0 {
			fmt.Printf("loaded:    %v\n", paths)
		}
		return nil
	},
}

func databaseLabel(path string) string {
	if path == "" {
		return "(in-memory)"
	}
	return path
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(configCmd)
}
