package helpers

import (
	"testing"

	"gorm.io/gorm"

	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/internal/domain/corpus"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/domain/queue"
	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
)

// TestRepositories bundles every persistence adapter over one test
// database, so integration-style tests wire a full slice of the system
// in one call.
type TestRepositories struct {
	DB         *gorm.DB
	Tenants    tenant.Repository
	Categories tenant.CategoryRepository
	Runs       pipeline.RunRepository
	Jobs       pipeline.JobRepository
	Items      corpus.ItemRepository
	Logs       persistence.PipelineLogRepository
	Queue      queue.Queue
}

// NewTestRepositories creates all repositories over a fresh in-memory
// database. The database is closed when the test finishes.
func NewTestRepositories(t *testing.T) *TestRepositories {
	db := NewTestDB(t)
	return NewRepositoriesOn(db)
}

// NewRepositoriesOn creates all repositories over an existing database,
// typically the shared BDD database.
func NewRepositoriesOn(db *gorm.DB) *TestRepositories {
	return &TestRepositories{
		DB:         db,
		Tenants:    persistence.NewGormTenantRepository(db),
		Categories: persistence.NewGormCategoryRepository(db),
		Runs:       persistence.NewGormRunRepository(db),
		Jobs:       persistence.NewGormJobRepository(db),
		Items:      persistence.NewGormItemRepository(db, nil),
		Logs:       persistence.NewGormPipelineLogRepository(db, nil),
		Queue:      persistence.NewGormQueue(db, nil),
	}
}
