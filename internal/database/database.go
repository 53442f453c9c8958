// Package database opens the configured connection and keeps the ledgers of
// applied migration and seeder files.
package database

import (
	"fmt"
	"net"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aethra/lowcode/internal/config"
)

// Connect opens the configured database
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}

// Dialector returns the gorm dialector for the configured driver
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(PostgresDSN(cfg)), nil
	case "mysql":
		return mysql.Open(MySQLDSN(cfg)), nil
	case "sqlite":
		name := cfg.URL
		if name == "" {
			name = cfg.Name
		}
		if name == "" {
			name = "lowcode.db"
		}
		return sqlite.Open(name), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
}

// PostgresDSN returns database.url or a key/value DSN built from the parts
func PostgresDSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, sslmode)
}

// MySQLDSN returns database.url or a DSN built from the parts. Generated
// migration files hold several statements, so multiStatements is enabled.
func MySQLDSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	port := cfg.Port
	if port == "" || port == "5432" {
		port = "3306"
	}
	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, port)
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.MultiStatements = true
	return mc.FormatDSN()
}

// DialectName returns the SQL dialect of an open connection
func DialectName(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return "postgres"
	}
	return db.Dialector.Name()
}
