package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vderm-backend/internal/core"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Diagnosis struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"size:128;not null;index"`

	ImageRef         string
	Classification   string `gorm:"not null"`
	ConfidenceVector datatypes.JSON
	ConfidenceScore  sql.NullFloat64
	Location         sql.NullString

	CreationTime time.Time `gorm:"not null;index"`
}

// NewDiagnosis flattens a prediction into the stored columns. The confidence
// score column only holds the classifier's scalar; vector predictions derive
// theirs from the vector when read back.
func NewDiagnosis(userId, imageRef string, pred core.Prediction, location string) (Diagnosis, error) {
	vector := pred.Vector()
	if vector == nil {
		vector = []float64{}
	}
	encoded, err := json.Marshal(vector)
	if err != nil {
		return Diagnosis{}, fmt.Errorf("error encoding confidence vector: %w", err)
	}

	diag := Diagnosis{
		Id:               uuid.New(),
		UserId:           userId,
		ImageRef:         imageRef,
		Classification:   pred.Classification,
		ConfidenceVector: datatypes.JSON(encoded),
		Location:         sql.NullString{String: location, Valid: location != ""},
		CreationTime:     time.Now().UTC(),
	}

	if pred.Kind() == core.ConfidenceScalar {
		score, _ := pred.Confidence()
		diag.ConfidenceScore = sql.NullFloat64{Float64: score, Valid: true}
	}

	return diag, nil
}

func (d *Diagnosis) Prediction() (core.Prediction, error) {
	var vector []float64
	if len(d.ConfidenceVector) > 0 {
		if err := json.Unmarshal(d.ConfidenceVector, &vector); err != nil {
			return core.Prediction{}, fmt.Errorf("error decoding confidence vector of diagnosis %s: %w", d.Id, err)
		}
	}

	switch {
	case len(vector) > 0:
		return core.VectorPrediction(d.Classification, vector), nil
	case d.ConfidenceScore.Valid:
		return core.ScalarPrediction(d.Classification, d.ConfidenceScore.Float64), nil
	default:
		return core.UnknownPrediction(d.Classification), nil
	}
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

const (
	RoleUser      string = "user"
	RoleAssistant string = "assistant"
)

type Message struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationId uuid.UUID `gorm:"type:uuid;not null;index"`

	Role     string `gorm:"size:20;not null"`
	Content  string
	Metadata datatypes.JSON

	Timestamp time.Time `gorm:"not null;index"`
}
