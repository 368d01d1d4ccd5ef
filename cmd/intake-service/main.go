package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/novacare/clinic-intake/pkg/common/config"
	"github.com/novacare/clinic-intake/pkg/common/database"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/store"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-service",
		Short: "Clinic patient intake and central registry reconciliation",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(resyncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.ServiceName)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background resync worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if cfg.SyncEnabled() {
				if err := app.worker.Start(cfg.SyncSchedule); err != nil {
					return err
				}
			} else {
				logger.Log.Info("Resync worker disabled")
			}

			address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
			server := &http.Server{
				Addr:         address,
				Handler:      app.Router(),
				ReadTimeout:  cfg.ReadTimeout,
				WriteTimeout: cfg.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Log.WithField("addr", address).Info("Intake service listening")
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			}

			logger.Log.Info("Shutting down intake service...")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			app.worker.Stop(ctx)
			if err := server.Shutdown(ctx); err != nil {
				logger.Log.WithError(err).Error("Intake service forced to shutdown")
			}
			logger.Log.Info("Intake service stopped")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the record store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := store.New(db).AutoMigrate(); err != nil {
				return err
			}
			logger.Log.WithField("driver", cfg.StoreDriver).Info("Record store migrated")
			return nil
		},
	}
}

func resyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Push never-synced patients to the central registry once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := app.worker.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
