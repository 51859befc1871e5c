package verification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bassline-events/mailroom-backend/pkg/db/models"
)

// Repository exposes persistence helpers for one-time codes.
type Repository interface {
	Create(ctx context.Context, code *models.VerificationCode) error
	FindActive(ctx context.Context, email, purpose string, now time.Time) (*models.VerificationCode, error)
	MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a verification code repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Create(ctx context.Context, code *models.VerificationCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

// FindActive returns the most recently created unused, unexpired code for the
// (email, purpose) pair. Older outstanding codes are ignored.
func (r *repositoryImpl) FindActive(ctx context.Context, email, purpose string, now time.Time) (*models.VerificationCode, error) {
	var code models.VerificationCode
	err := r.db.WithContext(ctx).
		Where("email = ? AND purpose = ? AND used_at IS NULL AND expires_at > ?", email, purpose, now).
		Order("created_at DESC, id DESC").
		First(&code).Error
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// MarkUsed spends a code. The used_at guard makes the operation idempotent in
// the failing direction: a second call reports no update.
func (r *repositoryImpl) MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.VerificationCode{}).
		Where("id = ? AND used_at IS NULL", id).
		UpdateColumn("used_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.VerificationCode{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
