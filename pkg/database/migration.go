package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// migrationLogger adapts an ectologger to migrate.Logger.
type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool {
	return false
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	// Version to migrate to. Zero means latest.
	Version uint
	// Force marks the schema as clean at this version before migrating.
	Force int
	// Down rolls back every migration instead of applying them.
	Down bool
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) resolveMigrationFolder() (string, error) {
	folder := ms.config.MigrationFolderPath
	if _, err := os.Stat(folder); err == nil {
		return filepath.Abs(folder)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	folder = filepath.Join(wd, ms.config.MigrationFolderPath)
	if _, err := os.Stat(folder); err != nil {
		return "", errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}
	return folder, nil
}

// Migrate applies the schema in the configured folder to a postgres database.
func (ms *MigrationService) Migrate(db *sql.DB, databaseName string) error {
	folder, err := ms.resolveMigrationFolder()
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = migrationLogger{Logger: ms.logger}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	start := time.Now()
	switch {
	case ms.config.Down:
		err = m.Down()
	case ms.config.Version != 0:
		err = m.Migrate(ms.config.Version)
	default:
		err = m.Up()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		ms.logger.Info("No new migrations to apply")
		return nil
	}
	if err != nil {
		version, dirty, _ := m.Version()
		ms.logger.WithError(err).Errorf("Failed to apply migrations. Database version is dirty=%t at version %d", dirty, version)
		return err
	}

	ms.logger.Infof("Database migrations completed in %v", time.Since(start))
	return nil
}
