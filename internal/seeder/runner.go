package seeder

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aethra/lowcode/internal/database"
	"github.com/aethra/lowcode/internal/migration"
)

// NewRunner creates a runner for seed files tracked in the sys_seeders ledger
func NewRunner(db *gorm.DB, dirs func() []string, logger *zap.Logger) *migration.Runner {
	return migration.NewRunner(db, database.NewLedger(db, database.SeedersTable), dirs, "seeder", logger)
}
