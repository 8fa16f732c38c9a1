// Package main is the entry point for the llmrelay server and CLI.
//
// @title        llmrelay API
// @version      1.0
// @description  Multi-provider LLM request relay with health-aware fallback.
// @BasePath     /
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	_ "llmrelay/cmd/llmrelay/docs"
	"llmrelay/config"
	"llmrelay/internal/app"
	"llmrelay/internal/logging"
	"llmrelay/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "llmrelay",
		Short:         "Multi-provider LLM request relay with health-aware fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(serveCmd(), checkCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			logger.Info("starting llmrelay",
				"version", version.Version,
				"commit", version.Commit,
				"build_date", version.Date,
			)

			application, err := app.New(cmd.Context(), app.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}

			// Handle graceful shutdown
			go func() {
				quit := make(chan os.Signal, 1)
				signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
				<-quit

				logger.Info("received shutdown signal")

				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := application.Shutdown(ctx); err != nil {
					logger.Error("application shutdown error", "error", err)
				}
			}()

			if err := application.Start(":" + cfg.Server.Port); err != nil {
				_ = application.Shutdown(context.Background())
				return err
			}
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe every configured provider once and print its reachability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			cfg.Probe.Enabled = false
			cfg.Usage.Enabled = false
			cfg.Tracing.Enabled = false

			application, err := app.New(cmd.Context(), app.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer func() { _ = application.Shutdown(context.Background()) }()

			reports := application.Prober().CheckAll(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tREACHABLE\tLATENCY\tDETAIL")
			unreachable := 0
			for _, r := range reports {
				if !r.Reachable {
					unreachable++
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", r.Provider, r.Reachable, r.Latency.Round(time.Millisecond), r.Detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if unreachable > 0 {
				return fmt.Errorf("%d of %d providers unreachable", unreachable, len(reports))
			}
			return nil
		},
	}
}

// load reads configuration and builds the logger it asks for.
func load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
