package api

import (
	"time"

	"github.com/google/uuid"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type Prediction struct {
	Classification   string    `json:"classification"`
	ConfidenceVector []float64 `json:"confidenceVector"`
	ConfidenceScore  *float64  `json:"confidenceScore,omitempty"`
	Confidence       string    `json:"confidence"`
}

type ClassProbability struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

type PredictResponse struct {
	Prediction  *Prediction `json:"prediction"`
	DiagnosisId *uuid.UUID  `json:"diagnosisId"`
	Error       string      `json:"error,omitempty"`
	Detail      string      `json:"detail,omitempty"`
}

type Diagnosis struct {
	Id         uuid.UUID          `json:"id"`
	UserId     string             `json:"userId"`
	Prediction Prediction         `json:"prediction"`
	Classes    []ClassProbability `json:"classes,omitempty"`
	Location   *string            `json:"location,omitempty"`
	HasImage   bool               `json:"hasImage"`
	CreatedAt  time.Time          `json:"createdAt"`
}

type ListDiagnosesParams struct {
	Limit int `schema:"limit"`
}

type ListDiagnosesResponse struct {
	Diagnoses []Diagnosis `json:"diagnoses"`
}
