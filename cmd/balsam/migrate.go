package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/balsam/pkg/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := connectDatabase(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()

			return migrateDatabase(opts, db, down)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back every migration")
	return cmd
}

func connectDatabase(ctx context.Context, opts *rootOptions) (*database.DatabaseInstance, error) {
	cfg := opts.cfg
	return database.Connect(ctx, database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, opts.logger)
}

func migrateDatabase(opts *rootOptions, db *database.DatabaseInstance, down bool) error {
	cfg := opts.cfg
	return database.NewMigrationService(opts.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             cfg.DatabaseMigrationVersion,
		Force:               cfg.DatabaseMigrationForce,
		Down:                down,
	}).Migrate(db.DB.DB, cfg.DatabaseName)
}
