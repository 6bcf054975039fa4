package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Diagnosis struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"size:128;not null;index"`

	ImageRef         string
	Classification   string `gorm:"not null"`
	ConfidenceVector datatypes.JSON
	ConfidenceScore  sql.NullFloat64

	CreationTime time.Time `gorm:"not null;index"`
}

type Conversation struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"size:128;not null;index"`

	DiagnosisId uuid.NullUUID `gorm:"type:uuid"`
	Diagnosis   *Diagnosis    `gorm:"foreignKey:DiagnosisId"`

	Title        string
	CreationTime time.Time `gorm:"not null"`
	UpdateTime   time.Time `gorm:"not null;index"`

	Messages []Message `gorm:"foreignKey:ConversationId;constraint:OnDelete:CASCADE"`
}

type Message struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationId uuid.UUID `gorm:"type:uuid;not null;index"`

	Role     string `gorm:"size:20;not null"`
	Content  string
	Metadata datatypes.JSON

	Timestamp time.Time `gorm:"not null;index"`
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Diagnosis{}, &Conversation{}, &Message{}); err != nil {
		return fmt.Errorf("error creating initial tables: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&Message{}, &Conversation{}, &Diagnosis{}); err != nil {
		return fmt.Errorf("error dropping initial tables: %w", err)
	}
	return nil
}
