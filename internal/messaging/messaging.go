package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DiagnosisEventsQueue = "diagnosis_events"
	RetryDelay           = 5 * time.Second
	MaxConnectRetry      = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// DiagnosisRecordedPayload is published once a diagnosis has been persisted.
// Confidence is nil when the classifier reported none.
type DiagnosisRecordedPayload struct {
	DiagnosisId    uuid.UUID
	UserId         string
	Classification string
	Confidence     *float64
	Location       string `json:",omitempty"`
	CreationTime   time.Time
}

type Publisher interface {
	PublishDiagnosisRecorded(ctx context.Context, payload DiagnosisRecordedPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
