package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTask struct {
	Task
	acked, nacked, rejected bool
}

func (t *recordingTask) Ack() error {
	t.acked = true
	return nil
}

func (t *recordingTask) Nack() error {
	t.nacked = true
	return nil
}

func (t *recordingTask) Reject() error {
	t.rejected = true
	return nil
}

func TestInMemoryQueueDropsWhenFull(t *testing.T) {
	queue := NewInMemoryQueue(1)
	defer queue.Close()

	payload := DiagnosisRecordedPayload{DiagnosisId: uuid.New(), Classification: "Lumpy"}
	require.NoError(t, queue.PublishDiagnosisRecorded(context.Background(), payload))
	assert.Error(t, queue.PublishDiagnosisRecorded(context.Background(), payload))

	task := <-queue.Tasks()
	assert.Equal(t, DiagnosisEventsQueue, task.Type())

	require.NoError(t, queue.PublishDiagnosisRecorded(context.Background(), payload))
}

func TestInMemoryQueueClosed(t *testing.T) {
	queue := NewInMemoryQueue(4)
	queue.Close()
	queue.Close()

	err := queue.PublishDiagnosisRecorded(context.Background(), DiagnosisRecordedPayload{})
	assert.Error(t, err)
}

func TestEventProcessor(t *testing.T) {
	queue := NewInMemoryQueue(10)

	var handled atomic.Int32
	proc := NewEventProcessor(queue, func(ctx context.Context, payload DiagnosisRecordedPayload) error {
		handled.Add(1)
		assert.Equal(t, "Normal", payload.Classification)
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, queue.PublishDiagnosisRecorded(context.Background(), DiagnosisRecordedPayload{
			DiagnosisId:    uuid.New(),
			Classification: "Normal",
		}))
	}

	done := make(chan struct{})
	go func() {
		proc.Start()
		close(done)
	}()

	proc.Stop()
	<-done

	assert.Equal(t, int32(3), handled.Load())
}

func TestEventProcessorAcks(t *testing.T) {
	failing := NewEventProcessor(nil, func(ctx context.Context, payload DiagnosisRecordedPayload) error {
		return errors.New("handler failed")
	})
	ok := NewEventProcessor(nil, RecordDiagnosisEvent)

	good := []byte(`{"DiagnosisId":"` + uuid.NewString() + `","Classification":"Lumpy","Confidence":0.8}`)

	task := &recordingTask{Task: &inMemoryTask{queue: DiagnosisEventsQueue, payload: good}}
	ok.ProcessTask(task)
	assert.True(t, task.acked)

	task = &recordingTask{Task: &inMemoryTask{queue: DiagnosisEventsQueue, payload: good}}
	failing.ProcessTask(task)
	assert.True(t, task.nacked)

	task = &recordingTask{Task: &inMemoryTask{queue: DiagnosisEventsQueue, payload: []byte("{")}}
	ok.ProcessTask(task)
	assert.True(t, task.rejected)

	task = &recordingTask{Task: &inMemoryTask{queue: "other_queue", payload: good}}
	ok.ProcessTask(task)
	assert.True(t, task.rejected)
}
