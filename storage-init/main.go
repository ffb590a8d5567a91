package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"board-api/config"
	"board-api/storage"
	"board-api/storage/sqlite"
)

type initConfig struct {
	Driver           string `env:"STORE_DRIVER" envDefault:"tables"`
	ConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	DocumentsTable   string `env:"DOCUMENTS_TABLE" envDefault:"documents"`
	EventsQueue      string `env:"EVENTS_QUEUE"`
	SQLitePath       string `env:"SQLITE_PATH"`
	Debug            bool   `env:"DEBUG"`
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	cfg, err := env.ParseAs[initConfig]()
	if err != nil {
		log.Fatalf("parse env: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	cmd := &cobra.Command{
		Use:   "storage-init",
		Short: "Create the board document store and event queue",
		Long: `storage-init prepares the backing storage of the board API.

With --driver tables it creates the documents table and, when configured, the
events queue in the Azure Storage account named by STORAGE_CONNECTION_STRING.
Existing resources are left untouched.

With --driver sqlite it creates the database file and its schema.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Driver, "driver", cfg.Driver, "store driver: tables or sqlite")
	cmd.Flags().StringVar(&cfg.DocumentsTable, "table", cfg.DocumentsTable, "documents table name")
	cmd.Flags().StringVar(&cfg.EventsQueue, "queue", cfg.EventsQueue, "events queue name, empty to skip")
	cmd.Flags().StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path")
	return cmd
}

func run(ctx context.Context, cfg initConfig) error {
	log.Infof("storage init starting, driver: %s", cfg.Driver)

	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		if err := store.Close(); err != nil {
			return fmt.Errorf("sqlite close: %w", err)
		}
	case config.DriverTables:
		if cfg.ConnectionString == "" {
			return errors.New("missing STORAGE_CONNECTION_STRING")
		}
		tables, err := storage.NewTables(cfg.ConnectionString, cfg.DocumentsTable)
		if err != nil {
			return err
		}
		if err := tables.CreateTable(ctx); err != nil {
			return fmt.Errorf("create table %s: %w", cfg.DocumentsTable, err)
		}
	default:
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	if cfg.EventsQueue != "" {
		if cfg.ConnectionString == "" {
			return errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
		}
		q, err := storage.NewEventQueue(cfg.ConnectionString, cfg.EventsQueue)
		if err != nil {
			return err
		}
		if err := q.CreateQueue(ctx); err != nil {
			return fmt.Errorf("create queue %s: %w", cfg.EventsQueue, err)
		}
	}

	log.Info("storage init complete")
	return nil
}
