package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/metrics"
	"github.com/kozaktomas/eigenfaces/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the eigenfaces HTTP API.
The API lists stored evaluation runs, serves their result tables and
identifies probe faces against a run's eigenface basis. Prometheus metrics
are exposed on /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default WEB_PORT or 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (default WEB_HOST or 0.0.0.0)")
}

// initGalleryIndex preloads the gallery index persisted at indexPath.
func initGalleryIndex(gallery *database.GalleryCache, indexPath string) {
	if indexPath == "" {
		log.Info().Msg("gallery indexes will be built in memory on first identify")
		return
	}
	idx, err := database.LoadGalleryIndex(indexPath)
	if err != nil {
		log.Warn().Err(err).Str("path", indexPath).Msg("failed to load gallery index, building on demand")
		return
	}
	gallery.Put(idx)
	log.Info().Str("path", indexPath).Str("run_id", idx.RunID().String()).
		Int("faces", idx.Count()).Msg("gallery index loaded")
}

// resolveServeHostPort lets flags override the configured address.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := initStorage(ctx, &cfg.Database); err != nil {
		return err
	}
	defer database.Close()
	log.Info().Str("backend", database.BackendName()).Msg("using storage backend")

	gallery := database.NewGalleryCache()
	initGalleryIndex(gallery, cfg.Database.HNSWIndexPath)

	server := web.NewServer(cfg, gallery, metrics.Default())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	fmt.Printf("Starting eigenfaces API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
