package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tvachon/lanvault/internal/activity"
	"github.com/tvachon/lanvault/internal/broker"
	"github.com/tvachon/lanvault/internal/config"
	"github.com/tvachon/lanvault/internal/device"
	"github.com/tvachon/lanvault/internal/logger"
	"github.com/tvachon/lanvault/internal/pairing"
	"github.com/tvachon/lanvault/internal/server"
	"github.com/tvachon/lanvault/internal/transfer"
	"github.com/tvachon/lanvault/internal/watcher"
)

// dataDir is where settings and the activity log live.
func dataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".lanvault"), nil
}

func serveCmd() *cobra.Command {
	var configFlag string
	var logLevel string
	var logFile string
	var rateLimit int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (control and transfer listeners)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, logFile); err != nil {
				return err
			}

			dir, err := dataDir()
			if err != nil {
				return err
			}
			configPath := configFlag
			if configPath == "" {
				configPath = filepath.Join(dir, "settings.yaml")
			}
			settings, err := config.Open(configPath)
			if err != nil {
				return fmt.Errorf("open settings: %w", err)
			}

			log, err := activity.Open(filepath.Join(filepath.Dir(configPath), "activity.db"))
			if err != nil {
				return fmt.Errorf("open activity log: %w", err)
			}
			defer log.Close()

			registry := device.NewRegistry()
			authority, err := pairing.NewAuthority(registry)
			if err != nil {
				return fmt.Errorf("generate host key: %w", err)
			}
			fingerprint, err := authority.Fingerprint()
			if err != nil {
				return fmt.Errorf("fingerprint host key: %w", err)
			}
			slog.Info("host key ready", "fingerprint", fingerprint)

			b := broker.New(registry, server.Lister(settings))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			w, err := watcher.New(b, settings.StorageRoot())
			if err != nil {
				return fmt.Errorf("watch storage root: %w", err)
			}
			go w.Run(ctx)

			controlSrv := server.New(settings, registry, authority, b, log)
			controlSrv.OnRootChange = w.Retarget

			transferSrv := &transfer.Server{
				Registry: registry,
				Tickets:  authority,
				Root:     settings.StorageRoot,
				Limiter:  transfer.NewLimiter(rateLimit),
				Record: func(event, deviceID, detail string) {
					_ = log.Record(event, deviceID, detail)
				},
			}

			current := settings.Current()
			control := &http.Server{
				Addr:    fmt.Sprintf(":%d", current.Network.Port),
				Handler: controlSrv,
			}
			transferHTTP := &http.Server{
				Addr:    fmt.Sprintf(":%d", current.Network.TransferPort),
				Handler: transferSrv.Handler(),
			}

			errCh := make(chan error, 2)
			go func() {
				slog.Info("control plane listening", "addr", control.Addr)
				errCh <- control.ListenAndServe()
			}()
			go func() {
				slog.Info("transfer plane listening", "addr", transferHTTP.Addr)
				errCh <- transferHTTP.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				slog.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				transferHTTP.Shutdown(shutdownCtx)
				return control.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&configFlag, "config", "", "settings file path (default ~/.lanvault/settings.yaml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "per-device transfer rate in bytes/sec (0 = unlimited)")
	return cmd
}
