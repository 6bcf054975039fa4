package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite://"

// NewDatabase opens the database described by databaseURL and brings its schema
// up to date. postgres:// and postgresql:// URLs use Postgres; sqlite://<path>
// uses a SQLite file.
func NewDatabase(databaseURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dialector = postgres.Open(databaseURL)
	case strings.HasPrefix(databaseURL, sqlitePrefix):
		path := strings.TrimPrefix(databaseURL, sqlitePrefix)
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, fmt.Errorf("error creating database directory: %w", err)
			}
		}
		if !strings.Contains(path, "?") {
			path += "?_busy_timeout=5000&_foreign_keys=1"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database url '%s': expected postgres:// or sqlite://", redact(databaseURL))
	}

	log.Println("Connecting to database...")
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("unable to migrate database: %w", err)
	}

	log.Println("Database connection established.")
	return db, nil
}

func redact(databaseURL string) string {
	if at := strings.LastIndex(databaseURL, "@"); at >= 0 {
		if scheme := strings.Index(databaseURL, "://"); scheme >= 0 && scheme < at {
			return databaseURL[:scheme+3] + "***" + databaseURL[at:]
		}
	}
	return databaseURL
}
