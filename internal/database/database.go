package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quindar/refdata-api/internal/database/migrations"
	"github.com/quindar/refdata-api/internal/schema"
)

// NewDatabase opens the metadata database and applies migrations. The
// table shapes are derived from the schema registry, so the registry
// must be fully built before the database comes up.
func NewDatabase(driver, dsn string, registry *schema.Registry) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.CreateInstrumentTables(db, registry); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.CreateHistoryTables(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
