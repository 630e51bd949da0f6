package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nbi-ai/nbi/config"
	"github.com/nbi-ai/nbi/server"
	"github.com/nbi-ai/nbi/service"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nbi",
		Short: "Notebook Intelligence - AI assistant server for Jupyter",
		Long: `Notebook Intelligence serves chat, code generation and inline
completions to the JupyterLab frontend, backed by GitHub Copilot,
Ollama or any OpenAI compatible LLM provider.`,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		host           string
		port           int
		rootDir        string
		allowedOrigins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Notebook Intelligence server",
		Long: `Start the HTTP and websocket server.

Configuration is read from NBI_ENV_DIR (environment layer) and
~/.jupyter/nbi (user layer), user settings taking precedence.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(host, port, rootDir, allowedOrigins)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "host to listen on")
	cmd.Flags().IntVar(&port, "port", 8866, "port to listen on")
	cmd.Flags().StringVar(&rootDir, "root-dir", "", "server root directory (defaults to the working directory)")
	cmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origins", nil, "allowed CORS and websocket origins")

	return cmd
}

func runServer(host string, port int, rootDir string, allowedOrigins []string) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if rootDir == "" {
		var err error
		rootDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
	}

	cfg := config.New(config.Options{ServerRootDir: rootDir})
	manager := service.NewManager(cfg)
	defer manager.Stop()

	srv := server.New(manager, server.Options{
		Host:           host,
		Port:           port,
		AllowedOrigins: allowedOrigins,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nbi %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
