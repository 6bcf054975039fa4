//go:build integration
// +build integration

// Run integration tests with: go test -tags=integration ./...

package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestRabbitMQDiagnosisEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.12.11-management-alpine")
	require.NoError(t, err, "Failed to start RabbitMQ container")
	t.Cleanup(func() {
		if err := rabbitmqContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate RabbitMQ container: %v", err)
		}
	})

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	publisher, err := NewRabbitMQPublisher(connStr)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := NewRabbitMQReceiver(connStr)
	require.NoError(t, err)

	received := make(chan DiagnosisRecordedPayload, 1)
	proc := NewEventProcessor(receiver, func(ctx context.Context, payload DiagnosisRecordedPayload) error {
		received <- payload
		return nil
	})
	done := make(chan struct{})
	go func() {
		proc.Start()
		close(done)
	}()

	confidence := 0.91
	payload := DiagnosisRecordedPayload{
		DiagnosisId:    uuid.New(),
		UserId:         "farmer-7",
		Classification: "Lumpy",
		Confidence:     &confidence,
		CreationTime:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, publisher.PublishDiagnosisRecorded(ctx, payload))

	select {
	case got := <-received:
		assert.Equal(t, payload.DiagnosisId, got.DiagnosisId)
		assert.Equal(t, "Lumpy", got.Classification)
		require.NotNil(t, got.Confidence)
		assert.InDelta(t, 0.91, *got.Confidence, 1e-9)
		assert.True(t, payload.CreationTime.Equal(got.CreationTime))
	case <-ctx.Done():
		t.Fatal("timed out waiting for diagnosis event")
	}

	proc.Stop()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("event processor did not stop after the receiver was closed")
	}
}

func TestRabbitMQPublisherClosed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.12.11-management-alpine")
	require.NoError(t, err, "Failed to start RabbitMQ container")
	t.Cleanup(func() {
		if err := rabbitmqContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate RabbitMQ container: %v", err)
		}
	})

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	publisher, err := NewRabbitMQPublisher(connStr)
	require.NoError(t, err)

	publisher.Close()
	publisher.Close()

	err = publisher.PublishDiagnosisRecorded(ctx, DiagnosisRecordedPayload{DiagnosisId: uuid.New()})
	assert.ErrorIs(t, err, ErrNotConnected)
}
