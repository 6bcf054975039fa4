package migration_1

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"vderm-backend/internal/database/versions/migration_0"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type NewDiagnosis struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId         string
	Classification string
	Location       sql.NullString
	CreationTime   time.Time
}

func (NewDiagnosis) TableName() string {
	return "diagnoses"
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, migration_0.Migration(db))

	return db
}

func TestMigrationAddsLocation(t *testing.T) {
	db := setupTestDB(t)

	old := migration_0.Diagnosis{
		Id:             uuid.New(),
		UserId:         "farmer-1",
		Classification: "Lumpy",
		CreationTime:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(&old).Error)

	assert.False(t, db.Migrator().HasColumn(&Diagnosis{}, "Location"))
	require.NoError(t, Migration(db))
	assert.True(t, db.Migrator().HasColumn(&Diagnosis{}, "Location"))

	var migrated NewDiagnosis
	require.NoError(t, db.First(&migrated, "id = ?", old.Id).Error)
	assert.Equal(t, "Lumpy", migrated.Classification)
	assert.False(t, migrated.Location.Valid)

	migrated.Location = sql.NullString{String: "Punjab", Valid: true}
	require.NoError(t, db.Save(&migrated).Error)

	require.NoError(t, Rollback(db))
	assert.False(t, db.Migrator().HasColumn(&Diagnosis{}, "Location"))
}
