package diagnosis

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"vderm-backend/internal/core"
	"vderm-backend/internal/messaging"
	"vderm-backend/internal/metrics"
	"vderm-backend/internal/storage"

	"github.com/google/uuid"
)

type Classifier interface {
	Infer(ctx context.Context, image []byte) (core.Prediction, error)
}

type Request struct {
	UserId   string
	Filename string
	Image    []byte
	Location string
}

type Result struct {
	Prediction  core.Prediction
	DiagnosisId *uuid.UUID
}

// Service runs an image through the classifier and records the outcome for
// identified users.
type Service struct {
	classifier Classifier
	store      *Store
	storage    storage.Provider
	bucket     string
	publisher  messaging.Publisher
}

// NewService wires the pipeline. provider and publisher may be nil, in which
// case images are not kept and no events are emitted.
func NewService(classifier Classifier, store *Store, provider storage.Provider, bucket string, publisher messaging.Publisher) *Service {
	return &Service{
		classifier: classifier,
		store:      store,
		storage:    provider,
		bucket:     bucket,
		publisher:  publisher,
	}
}

// Diagnose returns an error only when inference fails. Recording the result
// is best effort: any failure there is logged and yields a nil DiagnosisId.
func (s *Service) Diagnose(ctx context.Context, req Request) (Result, error) {
	pred, err := s.classifier.Infer(ctx, req.Image)
	if err != nil {
		return Result{}, err
	}

	result := Result{Prediction: pred}

	if req.UserId == "" {
		return result, nil
	}

	id, err := s.record(ctx, req, pred)
	if err != nil {
		slog.Warn("diagnosis not recorded, returning prediction without reference", "user_id", req.UserId, "error", err)
		return result, nil
	}

	metrics.DiagnosesRecorded.Inc()
	result.DiagnosisId = &id

	s.publish(ctx, id, req, pred)

	return result, nil
}

func (s *Service) record(ctx context.Context, req Request, pred core.Prediction) (uuid.UUID, error) {
	imageRef := ""
	if s.storage != nil {
		key := storage.UploadKey(req.Filename, time.Now())
		if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(req.Image)); err != nil {
			metrics.DiagnosisPersistFailures.WithLabelValues("image").Inc()
			return uuid.Nil, fmt.Errorf("error storing image: %w", err)
		}
		imageRef = s.bucket + "/" + key
	}

	id, err := s.store.Save(ctx, req.UserId, imageRef, pred, req.Location)
	if err != nil {
		metrics.DiagnosisPersistFailures.WithLabelValues("database").Inc()
		return uuid.Nil, err
	}

	return id, nil
}

func (s *Service) publish(ctx context.Context, id uuid.UUID, req Request, pred core.Prediction) {
	if s.publisher == nil {
		return
	}

	payload := messaging.DiagnosisRecordedPayload{
		DiagnosisId:    id,
		UserId:         req.UserId,
		Classification: pred.Classification,
		Location:       req.Location,
		CreationTime:   time.Now().UTC(),
	}
	if c, ok := pred.Confidence(); ok {
		payload.Confidence = &c
	}

	if err := s.publisher.PublishDiagnosisRecorded(ctx, payload); err != nil {
		slog.Warn("unable to publish diagnosis event", "diagnosis_id", id, "error", err)
	}
}

// Image loads the stored source image of a diagnosis owned by userId.
func (s *Service) Image(ctx context.Context, userId string, id uuid.UUID) ([]byte, error) {
	diag, err := s.store.GetForUser(ctx, userId, id)
	if err != nil {
		return nil, err
	}

	if s.storage == nil || diag.ImageRef == "" {
		return nil, ErrNotFound
	}

	bucket, key, err := storage.SplitRef(diag.ImageRef)
	if err != nil {
		return nil, err
	}

	return s.storage.GetObject(ctx, bucket, key)
}

func (s *Service) Store() *Store {
	return s.store
}
