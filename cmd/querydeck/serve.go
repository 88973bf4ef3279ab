package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/querydeck/querydeck/pkg/api/rest"
	"github.com/querydeck/querydeck/pkg/config"
	"github.com/querydeck/querydeck/pkg/telemetry"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the QueryDeck HTTP server",
	Long: `Start the HTTP server fronting the query engine.

The server provides:
  - POST /v1/query for read-only SQL with result caching
  - Cache statistics, clearing, and health endpoints
  - A background sweeper that evicts expired entries

Examples:
  querydeck serve                  # Start on default port (8080)
  querydeck serve --port 3000      # Start on custom port
  querydeck serve --host 0.0.0.0   # Listen on all interfaces`,
	RunE: runServe,
}

func init() {
	cfg := config.Global().Get()

	serveCmd.Flags().IntVarP(&servePort, "port", "p", cfg.Server.Port, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", cfg.Server.Host, "Host to bind to")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	logger := newLogger()

	if cfg.Telemetry.Enabled {
		otlpCfg := telemetry.DefaultOTLPConfig(cfg.Telemetry.ServiceName)
		if cfg.Telemetry.Endpoint != "" {
			otlpCfg.Endpoint = cfg.Telemetry.Endpoint
		}
		otlpCfg.ServiceVersion = version
		shutdown, err := telemetry.InitOTLP(otlpCfg)
		if err != nil {
			logger.Printf("telemetry disabled: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				shutdown(ctx)
			}()
		}
	}

	s, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	addr := fmt.Sprintf("%s:%d", serveHost, servePort)
	srv := rest.NewServer(rest.Config{
		Addr:        addr,
		Gate:        s.gate,
		QueryEngine: s.engine,
		Admin:       s.admin,
		AdminAPIKey: cfg.Server.AdminAPIKey,
		CacheDir:    cfg.Cache.Dir,
		CacheExpiry: cfg.Cache.Expiry,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("querydeck listening on http://%s", addr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Periodic eviction of expired entries; backends with native TTL
	// report zero work and the sweep is a no-op.
	if s.admin != nil && cfg.Cache.CleanupInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Cache.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := s.admin.ClearExpired(ctx); err != nil {
						logger.Printf("expiry sweep failed: %v", err)
					}
				}
			}
		})
	}

	return g.Wait()
}
