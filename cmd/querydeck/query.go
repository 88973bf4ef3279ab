package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querydeck/querydeck/pkg/config"
	"github.com/querydeck/querydeck/pkg/tui"
)

var queryNoCache bool

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Execute a read-only SQL query",
	Long: `Execute a read-only SQL query against the configured database,
answering from the result cache when possible.

Examples:
  querydeck query "SELECT count(*) FROM sales"
  querydeck query --no-cache "SELECT * FROM sales LIMIT 10"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryNoCache, "no-cache", false, "Bypass the result cache")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	if queryNoCache {
		// Copy so the override does not leak into later loads.
		c := *cfg
		c.Cache.Enabled = false
		cfg = &c
	}
	logger := newLogger()

	s, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	sqlText := strings.Join(args, " ")
	out, err := s.gate.Execute(cmd.Context(), sqlText)
	if err != nil {
		fmt.Println(tui.Failure(err.Error()))
		return err
	}

	fmt.Print(tui.RenderResult(out.Result, out.TotalTime.String()))
	return nil
}
