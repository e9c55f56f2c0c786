package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidfriends/scout/internal/config"
	"github.com/vidfriends/scout/internal/db"
	"github.com/vidfriends/scout/internal/handlers"
	"github.com/vidfriends/scout/internal/httpserver"
	"github.com/vidfriends/scout/internal/logging"
)

// Run bootstraps the scout service.
func Run(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	var configFlag string

	load := func() (config.Config, error) {
		path := strings.TrimSpace(configFlag)
		if path == "" {
			return config.Load()
		}
		return config.LoadFile(path)
	}

	rootCmd := &cobra.Command{
		Use:           "scout",
		Short:         "Profile discovery backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $SCOUT_CONFIG)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	rootCmd.AddCommand(newMigrateCommand(load))
	rootCmd.AddCommand(newSessionCommand(load))

	return rootCmd
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     logging.ParseLevel(cfg.LogLevel),
	}))
}

func serve(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	restored, err := svc.store.Restore(ctx)
	if err != nil {
		logger.Warn("restore session failed", "error", err)
	}
	logger.Info("session restored", "present", restored)

	runCtx, stopValidator := context.WithCancel(ctx)
	validatorDone := make(chan struct{})
	go func() {
		defer close(validatorDone)
		_ = svc.validator.Run(runCtx)
	}()

	handler := handlers.NewRouter(svc.handlers, logger)
	srv := httpserver.New(cfg.AppPort, handler, cfg.Scraper.Timeout+30*time.Second)

	logger.Info("starting http server", "port", cfg.AppPort)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	stopValidator()
	<-validatorDone
	if err := cleanup(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}

	return serveErr
}
