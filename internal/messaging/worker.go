package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"vderm-backend/internal/metrics"
)

type DiagnosisEventHandler func(ctx context.Context, payload DiagnosisRecordedPayload) error

// EventProcessor drains a Reciever and dispatches diagnosis events to a
// handler.
type EventProcessor struct {
	reciever Reciever
	handler  DiagnosisEventHandler
}

func NewEventProcessor(reciever Reciever, handler DiagnosisEventHandler) *EventProcessor {
	return &EventProcessor{reciever: reciever, handler: handler}
}

// Start blocks until the reciever's task channel is closed.
func (proc *EventProcessor) Start() {
	slog.Info("starting event processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *EventProcessor) Stop() {
	slog.Info("stopping event processor")
	proc.reciever.Close()
}

func (proc *EventProcessor) ProcessTask(task Task) {
	ctx := context.Background()

	if task.Type() != DiagnosisEventsQueue {
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var payload DiagnosisRecordedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error unmarshalling diagnosis event", "error", err)
		if err := task.Reject(); err != nil { // Discard malformed message
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err := proc.handler(ctx, payload); err != nil {
		slog.Error("error processing diagnosis event", "diagnosis_id", payload.DiagnosisId, "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
		return
	}

	if err := task.Ack(); err != nil {
		slog.Error("error acknowledging message from queue", "error", err)
	}
}

// RecordDiagnosisEvent logs the event and counts it by classification.
func RecordDiagnosisEvent(ctx context.Context, payload DiagnosisRecordedPayload) error {
	attrs := []any{
		"diagnosis_id", payload.DiagnosisId,
		"user_id", payload.UserId,
		"classification", payload.Classification,
	}
	if payload.Confidence != nil {
		attrs = append(attrs, "confidence", *payload.Confidence)
	}
	if payload.Location != "" {
		attrs = append(attrs, "location", payload.Location)
	}
	slog.Info("diagnosis recorded", attrs...)

	metrics.DiagnosisEvents.WithLabelValues(payload.Classification).Inc()
	return nil
}
