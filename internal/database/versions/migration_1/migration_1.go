package migration_1

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Diagnosis struct {
	Location sql.NullString
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Diagnosis{}, "Location"); err != nil {
		return fmt.Errorf("error adding Location column: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&Diagnosis{}, "Location"); err != nil {
		return fmt.Errorf("error dropping Location column: %w", err)
	}

	return nil
}
