package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aethra/lowcode/internal/models"
)

// Bootstrap creates the system tables and both ledgers
func Bootstrap(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to create system tables: %w", err)
	}
	for _, table := range []string{MigrationsTable, SeedersTable} {
		if err := NewLedger(db, table).Ensure(ctx); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	if logger != nil {
		logger.Info("system tables ready", zap.String("dialect", DialectName(db)))
	}
	return nil
}
