package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/anaxi/internal/server"
	"github.com/kiesman99/anaxi/internal/stitcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the tile stitching API",
	Long: `Start an HTTP server that provides a REST API for tile ranges and stitching.

Examples:
  # Start server on default port 8080
  anaxi serve

  # Start server on custom port
  anaxi serve --port 3000

  # Start server with custom bind address
  anaxi serve --bind 0.0.0.0 --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("request-timeout", 5*time.Minute, "request timeout")
	serveCmd.Flags().String("work-dir", os.TempDir(), "directory for per-request downloads")
	serveCmd.Flags().Int("max-tiles", server.DefaultMaxTiles, "maximum tiles per stitch request")
	serveCmd.Flags().Int64("max-pixels", stitcher.DefaultMaxPixels, "maximum stitched image area in pixels (0 = unlimited)")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("request-timeout"))
	viper.BindPFlag("server.work-dir", serveCmd.Flags().Lookup("work-dir"))
	viper.BindPFlag("server.max-tiles", serveCmd.Flags().Lookup("max-tiles"))
	viper.BindPFlag("server.max-pixels", serveCmd.Flags().Lookup("max-pixels"))
}

func runServe(cmd *cobra.Command, args []string) error {
	bind := viper.GetString("server.bind")
	port := viper.GetInt("server.port")
	timeout := viper.GetDuration("server.timeout")

	addr := fmt.Sprintf("%s:%d", bind, port)

	sources, err := knownSources()
	if err != nil {
		return err
	}

	// Create server implementation
	apiServer := server.NewServer(Version,
		server.WithSources(sources),
		server.WithWorkDir(viper.GetString("server.work-dir")),
		server.WithMaxTiles(viper.GetInt("server.max-tiles")),
		server.WithMaxPixels(viper.GetInt64("server.max-pixels")),
		server.WithWorkers(viper.GetInt("workers")),
		server.WithUserAgent(viper.GetString("user-agent")),
		server.WithHTTPClient(&http.Client{Timeout: viper.GetDuration("timeout")}),
		server.WithLogger(log.StandardLogger()),
	)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.NewRouter(apiServer, timeout),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeout + 10*time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}()

	log.Infof("Starting anaxi server on %s", addr)
	log.Infof("Health check: http://%s/api/v1/health", addr)
	log.Infof("Stitch endpoint: http://%s/api/v1/stitch", addr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %v", err)
	}

	return nil
}
