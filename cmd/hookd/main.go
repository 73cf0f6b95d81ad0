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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/testquill/hookd/internal/api"
	"github.com/testquill/hookd/internal/config"
	"github.com/testquill/hookd/internal/dispatch"
	"github.com/testquill/hookd/internal/metrics"
	"github.com/testquill/hookd/internal/realtime"
	"github.com/testquill/hookd/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookd",
		Short: "hookd — Testquill webhook dispatch service",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(emitCmd(&configPath))
	rootCmd.AddCommand(sweepCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hookd server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			metrics.Register()

			hub := realtime.NewHub(log)
			sender := dispatch.NewSender(cfg.Delivery.Timeout)
			worker := dispatch.NewWorker(store, sender, cfg.Delivery.MaxRetries, cfg.Delivery.RetrySchedule, hub, log)
			dispatcher := dispatch.NewDispatcher(store, worker, hub, log)

			scheduler := dispatch.NewScheduler(cfg.Delivery, store, worker, log)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			scheduler.Start(ctx)

			server := api.NewServer(cfg.Server, store, dispatcher, nil, hub, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("max_retries", cfg.Delivery.MaxRetries).
				Str("storage", cfg.Storage.Driver).
				Msg("hookd is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			scheduler.Stop()

			log.Info().Msg("hookd stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func emitCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Dispatch an event to a tenant's webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			eventType, _ := cmd.Flags().GetString("type")
			payloadJSON, _ := cmd.Flags().GetString("payload")
			if tenant == "" || eventType == "" {
				return fmt.Errorf("--tenant and --type are required")
			}

			var payload map[string]any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("invalid payload JSON: %w", err)
				}
			}

			cfg, store, log, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sender := dispatch.NewSender(cfg.Delivery.Timeout)
			worker := dispatch.NewWorker(store, sender, cfg.Delivery.MaxRetries, cfg.Delivery.RetrySchedule, nil, log)
			dispatcher := dispatch.NewDispatcher(store, worker, nil, log)

			dispatcher.Dispatch(context.Background(), tenant, eventType, payload)

			// Give the fire-and-forget attempts a moment before exiting.
			time.Sleep(2 * time.Second)
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	cmd.Flags().String("type", "", "event type name")
	cmd.Flags().String("payload", "", "event payload as JSON")
	return cmd
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retry sweep over due deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, log, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sender := dispatch.NewSender(cfg.Delivery.Timeout)
			worker := dispatch.NewWorker(store, sender, cfg.Delivery.MaxRetries, cfg.Delivery.RetrySchedule, nil, log)
			scheduler := dispatch.NewScheduler(cfg.Delivery, store, worker, log)

			scheduler.SweepDue(context.Background())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hookd v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "memory":
		log.Warn().Msg("using in-memory storage; state is lost on exit")
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func openStore(configPath string) (*config.Config, storage.Storage, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, zerolog.Logger{}, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, log, fmt.Errorf("failed to run migrations: %w", err)
	}

	return cfg, store, log, nil
}
