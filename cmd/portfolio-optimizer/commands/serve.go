package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iwvelando/portfolio-optimizer/internal/server"
	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var (
	serverConfigFile string
	serverAddress    string
	maxUploadSize    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the JSON API.

Endpoints:
  POST /api/optimize  - minimum-variance allocation for explicit statistics
  POST /api/frontier  - efficient frontier for explicit statistics
  POST /api/plan      - optimize an uploaded YAML configuration
  POST /api/export    - normalized YAML for a JSON configuration
  GET  /api/version   - server version

Example:
  portfolio-optimizer serve --server-config server-config.yaml --address :9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverConfigFile, "server-config", constants.DefaultServerConfigFile, "path to server configuration file")
	serveCmd.Flags().StringVar(&serverAddress, "address", "", "listen address override")
	serveCmd.Flags().StringVar(&maxUploadSize, "max-upload", "", "maximum request size override (e.g. 512K)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	op := "commands.runServe"
	cfg, err := server.LoadConfig(serverConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load server configuration at %s: %w", serverConfigFile, err)
	}
	if serverAddress != "" {
		cfg.Address = serverAddress
	}
	if maxUploadSize != "" {
		size, err := server.ParseSize(maxUploadSize)
		if err != nil {
			return err
		}
		cfg.SetUploadSizeBytes(size)
	}

	logger, err := initializeLogger(cfg.Logging, logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	source, closeFn, err := newSource(cfg.MarketData, logger)
	if err != nil {
		return err
	}
	defer closeSource(logger, closeFn)

	srv := &http.Server{
		Addr: cfg.Address,
		Handler: server.NewHandler(logger, server.Options{
			MaxUploadSize: cfg.UploadSizeBytes(),
			SolveTimeout:  cfg.SolveTimeout,
			Version:       Version,
			Source:        source,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("op", op),
			zap.String("address", cfg.Address),
			zap.Int64("maxUploadSize", cfg.UploadSizeBytes()),
			zap.Duration("solveTimeout", cfg.SolveTimeout),
			zap.String("provider", cfg.MarketData.Provider),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server", zap.String("op", op))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped", zap.String("op", op))
	return nil
}
