package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vderm-backend/internal/core"
	"vderm-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("diagnosis not found")
	ErrUnauthorized = errors.New("diagnosis belongs to another user")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Store persists diagnoses. Records are append only.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, userId, imageRef string, pred core.Prediction, location string) (uuid.UUID, error) {
	if userId == "" {
		return uuid.Nil, fmt.Errorf("diagnosis owner must be specified")
	}

	diag, err := database.NewDiagnosis(userId, imageRef, pred, location)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.db.WithContext(ctx).Create(&diag).Error; err != nil {
		slog.Error("error saving diagnosis", "user_id", userId, "error", err)
		return uuid.Nil, fmt.Errorf("error saving diagnosis: %w", err)
	}

	return diag.Id, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (database.Diagnosis, error) {
	var diag database.Diagnosis
	if err := s.db.WithContext(ctx).First(&diag, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return diag, ErrNotFound
		}
		slog.Error("error loading diagnosis", "diagnosis_id", id, "error", err)
		return diag, fmt.Errorf("error loading diagnosis: %w", err)
	}
	return diag, nil
}

// GetForUser is Get plus an ownership check.
func (s *Store) GetForUser(ctx context.Context, userId string, id uuid.UUID) (database.Diagnosis, error) {
	diag, err := s.Get(ctx, id)
	if err != nil {
		return diag, err
	}
	if diag.UserId != userId {
		return database.Diagnosis{}, ErrUnauthorized
	}
	return diag, nil
}

// ListForUser returns the user's diagnoses, newest first.
func (s *Store) ListForUser(ctx context.Context, userId string, limit int) ([]database.Diagnosis, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	var diags []database.Diagnosis
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("creation_time DESC").
		Limit(limit).
		Find(&diags).Error; err != nil {
		slog.Error("error listing diagnoses", "user_id", userId, "error", err)
		return nil, fmt.Errorf("error listing diagnoses: %w", err)
	}
	return diags, nil
}

// GetMany loads the diagnoses with the given ids, keyed by id. Missing ids are
// absent from the result.
func (s *Store) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]database.Diagnosis, error) {
	out := make(map[uuid.UUID]database.Diagnosis, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var diags []database.Diagnosis
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&diags).Error; err != nil {
		return nil, fmt.Errorf("error loading diagnoses: %w", err)
	}
	for _, diag := range diags {
		out[diag.Id] = diag
	}
	return out, nil
}
