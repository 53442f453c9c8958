package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Ledger table names
const (
	MigrationsTable = "sys_migrations"
	SeedersTable    = "sys_seeders"
)

// LedgerRecord tracks one applied file
type LedgerRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// Ledger records which migration or seeder files have been applied
type Ledger struct {
	db    *gorm.DB
	table string
}

// NewLedger creates a ledger stored in table
func NewLedger(db *gorm.DB, table string) *Ledger {
	return &Ledger{db: db, table: table}
}

// Table returns the ledger table name
func (l *Ledger) Table() string { return l.table }

// Ensure creates the ledger table if it does not exist
func (l *Ledger) Ensure(ctx context.Context) error {
	if err := l.db.WithContext(ctx).Table(l.table).AutoMigrate(&LedgerRecord{}); err != nil {
		return fmt.Errorf("failed to create ledger table %s: %w", l.table, err)
	}
	return nil
}

// Applied returns the set of applied file names
func (l *Ledger) Applied(ctx context.Context) (map[string]bool, error) {
	var names []string
	if err := l.db.WithContext(ctx).Table(l.table).Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.table, err)
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}
	return applied, nil
}

// Last returns the n most recently applied names, newest first
func (l *Ledger) Last(ctx context.Context, n int) ([]string, error) {
	applied, err := l.Applied(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(applied))
	for name := range applied {
		names = append(names, name)
	}
	// File names start with a sortable timestamp.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if n > 0 && n < len(names) {
		names = names[:n]
	}
	return names, nil
}

// Record marks name as applied using tx. A concurrent runner that recorded
// the same name first is not an error.
func (l *Ledger) Record(tx *gorm.DB, name string) error {
	err := tx.Table(l.table).Create(&LedgerRecord{Name: name}).Error
	if err != nil && !IsDuplicateKey(err) {
		return fmt.Errorf("failed to record %s: %w", name, err)
	}
	return nil
}

// Remove drops name from the ledger using tx
func (l *Ledger) Remove(tx *gorm.DB, name string) error {
	if err := tx.Table(l.table).Where("name = ?", name).Delete(&LedgerRecord{}).Error; err != nil {
		return fmt.Errorf("failed to unrecord %s: %w", name, err)
	}
	return nil
}

// IsDuplicateKey reports whether err is a unique constraint violation
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint failed")
}
