// Package store persists sessions, proxies, campaigns, leads and the
// message log through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

// Store wraps a gorm handle. All methods are safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if path := sqlitePath(dsn); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql handle: %w", err)
		}
		// SQLite allows one writer; a single connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates all tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&domain.Session{},
		&domain.ProxyEndpoint{},
		&domain.Campaign{},
		&domain.CampaignMessage{},
		&domain.Template{},
		&domain.SalesLead{},
		&domain.MessageLog{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// At most one open lead per (session, contact).
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_lead_active
		ON sales_leads (session_id, contact)
		WHERE stage NOT IN ('completed', 'cancelled')`).Error
	if err != nil {
		return fmt.Errorf("create lead index: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return path
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
