package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"gigstream/internal/app"
	"gigstream/internal/config"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("gigstream exited")
	}
}

// newRootCmd builds the CLI. Without a subcommand it serves.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gigstream",
		Short:         "Real-time notification fan-out for the gig marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	// Load configuration with precedence (file > env > defaults)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GIGSTREAM_CONFIG_FILE"),
		"JSON or YAML config file (env GIGSTREAM_CONFIG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the stream, websocket and notification endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printConfig(cmd.OutOrStdout(), configPath)
		},
	})

	return root
}

// redacted replaces secrets in printed configuration
const redacted = "<redacted>"

func printConfig(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	file := cfg.ToFile()
	if file.Auth.NotifyToken != "" {
		file.Auth.NotifyToken = redacted
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return err
	}
	return enc.Close()
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// run blocks until ctx is cancelled or the server fails
func run(ctx context.Context, configPath string) error {
	// STEP 1: Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Start serving
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 4: Wait for shutdown signal or server failure
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-application.Done():
	}

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), application.ShutdownTimeout())
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("application error: %w", serveErr)
	}
	return nil
}
