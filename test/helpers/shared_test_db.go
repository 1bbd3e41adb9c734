package helpers

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qbanklabs/qbank-go/internal/infrastructure/database"
)

// SharedTestDB is the singleton database instance used across all integration tests
var SharedTestDB *gorm.DB

// InitializeSharedTestDB creates and migrates the shared test database.
// Called once in TestMain before running any tests.
func InitializeSharedTestDB() error {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open shared test database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate shared test database: %w", err)
	}

	SharedTestDB = db
	return nil
}

// ResetSharedTestDB empties every table so scenarios start from a clean
// slate without paying for a fresh schema each time.
func ResetSharedTestDB() error {
	if SharedTestDB == nil {
		return fmt.Errorf("shared test database is not initialized")
	}

	tables := []string{
		"queue_deliveries",
		"queue_messages",
		"pipeline_logs",
		"pipeline_jobs",
		"pipeline_runs",
		"items",
		"tenant_categories",
		"tenants",
		"cache_entries",
	}
	for _, table := range tables {
		if err := SharedTestDB.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to reset table %s: %w", table, err)
		}
	}
	return nil
}

// CloseSharedTestDB releases the singleton. Called from TestMain teardown.
func CloseSharedTestDB() error {
	if SharedTestDB == nil {
		return nil
	}
	return database.Close(SharedTestDB)
}
