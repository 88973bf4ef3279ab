package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/querydeck/querydeck/pkg/cache"
	"github.com/querydeck/querydeck/pkg/config"
	"github.com/querydeck/querydeck/pkg/tui"
)

var clearAllFlag bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		admin, closeFn, err := buildAdmin()
		if err != nil {
			return err
		}
		defer closeFn()

		stats, err := admin.Statistics(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(tui.RenderStats(stats))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove expired cache entries (or everything with --all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		admin, closeFn, err := buildAdmin()
		if err != nil {
			return err
		}
		defer closeFn()

		var removed int
		if clearAllFlag {
			removed, err = admin.ClearAll(cmd.Context())
		} else {
			removed, err = admin.ClearExpired(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Println(tui.Success(fmt.Sprintf("removed %d entries", removed)))
		return nil
	},
}

var cacheClearTableCmd = &cobra.Command{
	Use:   "clear-table [table]",
	Short: "Remove cache entries that referenced a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		admin, closeFn, err := buildAdmin()
		if err != nil {
			return err
		}
		defer closeFn()

		removed, err := admin.ClearByTable(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(tui.Success(fmt.Sprintf("removed %d entries for table %s", removed, args[0])))
		return nil
	},
}

var cacheHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the cache backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Global().Get()
		if !cfg.Cache.Enabled {
			fmt.Print(tui.RenderHealth(cache.Health{Status: "disabled"}))
			return nil
		}

		admin, closeFn, err := buildAdmin()
		if err != nil {
			return err
		}
		defer closeFn()

		fmt.Print(tui.RenderHealth(admin.ProbeHealth(cmd.Context())))
		return nil
	},
}

// buildAdmin constructs the admin surface over the configured backend
// without starting the query engine.
func buildAdmin() (*cache.Admin, func(), error) {
	cfg := config.Global().Get()
	if !cfg.Cache.Enabled {
		return nil, nil, fmt.Errorf("cache is disabled in configuration")
	}
	logger := newLogger()

	backend, meta, err := buildBackend(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	c := cache.New(backend, meta, logger)
	return cache.NewAdmin(c, logger), func() { c.Close() }, nil
}

func init() {
	cacheClearCmd.Flags().BoolVar(&clearAllFlag, "all", false, "Remove every entry, not just expired ones")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheClearTableCmd)
	cacheCmd.AddCommand(cacheHealthCmd)
	rootCmd.AddCommand(cacheCmd)
}
