package mailqueue

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bassline-events/mailroom-backend/pkg/db/models"
	"github.com/bassline-events/mailroom-backend/pkg/enums"
	"github.com/bassline-events/mailroom-backend/pkg/pagination"
)

// Repository exposes persistence helpers for mail jobs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, job *models.MailJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MailJob, error)
	ClaimDue(ctx context.Context, workerID string, limit int, now time.Time) ([]models.MailJob, error)
	MarkSent(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkRetrying(ctx context.Context, id uuid.UUID, nextAt time.Time, lastError string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, now time.Time, lastError string) (bool, error)
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	RequeueAllFailed(ctx context.Context, now time.Time) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteByStatus(ctx context.Context, status enums.MailStatus) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ReleaseExpiredClaims(ctx context.Context, cutoff, now time.Time) (int64, error)
	List(ctx context.Context, params listJobsParams) ([]models.MailJob, *pagination.Cursor, error)
	CountByStatus(ctx context.Context) (map[enums.MailStatus]int64, error)
	CountSentSince(ctx context.Context, since time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a mail job repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listJobsParams struct {
	Status   *enums.MailStatus
	Category string
	Search   string
	From     *time.Time
	To       *time.Time
	Limit    int
	Cursor   *pagination.Cursor
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, job *models.MailJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.MailJob, error) {
	var job models.MailJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimDue selects due jobs and transitions each to sending with a conditional
// update keyed on the current status. A job whose status changed between the
// candidate read and the update loses the race and is skipped, so no two
// callers ever claim the same job.
func (r *repositoryImpl) ClaimDue(ctx context.Context, workerID string, limit int, now time.Time) ([]models.MailJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var candidates []models.MailJob
	err := r.db.WithContext(ctx).
		Where("status IN ? AND scheduled_at <= ?", []enums.MailStatus{enums.MailStatusPending, enums.MailStatusRetrying}, now).
		Order("priority ASC, scheduled_at ASC, id ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]models.MailJob, 0, len(candidates))
	for _, candidate := range candidates {
		result := r.db.WithContext(ctx).
			Model(&models.MailJob{}).
			Where("id = ? AND status = ?", candidate.ID, candidate.Status).
			Updates(map[string]any{
				"status":     enums.MailStatusSending,
				"claimed_by": workerID,
				"claimed_at": now,
				"updated_at": now,
			})
		if result.Error != nil {
			return claimed, result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}
		candidate.Status = enums.MailStatusSending
		candidate.ClaimedBy = &workerID
		claimedAt := now
		candidate.ClaimedAt = &claimedAt
		claimed = append(claimed, candidate)
	}
	return claimed, nil
}

func (r *repositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MailJob{}).
		Where("id = ? AND status = ?", id, enums.MailStatusSending).
		Updates(map[string]any{
			"status":     enums.MailStatusSent,
			"sent_at":    now,
			"claimed_by": nil,
			"claimed_at": nil,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkRetrying increments retry_count and reschedules a job that is currently
// claimed. The increment happens in SQL so the retry budget invariant holds
// even under concurrent admin mutations.
func (r *repositoryImpl) MarkRetrying(ctx context.Context, id uuid.UUID, nextAt time.Time, lastError string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MailJob{}).
		Where("id = ? AND status = ? AND retry_count < max_retries", id, enums.MailStatusSending).
		Updates(map[string]any{
			"status":       enums.MailStatusRetrying,
			"retry_count":  gorm.Expr("retry_count + 1"),
			"scheduled_at": nextAt,
			"last_error":   lastError,
			"claimed_by":   nil,
			"claimed_at":   nil,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, now time.Time, lastError string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MailJob{}).
		Where("id = ? AND status = ?", id, enums.MailStatusSending).
		Updates(map[string]any{
			"status":     enums.MailStatusFailed,
			"failed_at":  now,
			"last_error": lastError,
			"claimed_by": nil,
			"claimed_at": nil,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Requeue puts a failed job back into the dispatchable pool. The retry budget
// guard keeps exhausted jobs out.
func (r *repositoryImpl) Requeue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MailJob{}).
		Where("id = ? AND status = ? AND retry_count < max_retries", id, enums.MailStatusFailed).
		Updates(map[string]any{
			"status":       enums.MailStatusPending,
			"retry_count":  gorm.Expr("retry_count + 1"),
			"scheduled_at": now,
			"failed_at":    nil,
			"last_error":   nil,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) RequeueAllFailed(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MailJob{}).
		Where("status = ? AND retry_count < max_retries", enums.MailStatusFailed).
		Updates(map[string]any{
			"status":       enums.MailStatusPending,
			"retry_count":  gorm.Expr("retry_count + 1"),
			"scheduled_at": now,
			"failed_at":    nil,
			"last_error":   nil,
			"updated_at":   now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Delete removes a single job unless the dispatcher currently owns it.
func (r *repositoryImpl) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, enums.MailStatusSending).
		Delete(&models.MailJob{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) DeleteByStatus(ctx context.Context, status enums.MailStatus) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ?", status).
		Delete(&models.MailJob{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []enums.MailStatus{enums.MailStatusSent, enums.MailStatusFailed}, cutoff).
		Delete(&models.MailJob{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ReleaseExpiredClaims returns sending jobs whose claim lease lapsed to the
// retrying pool. Covers workers that died mid-send.
func (r *repositoryImpl) ReleaseExpiredClaims(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MailJob{}).
		Where("status = ? AND claimed_at < ?", enums.MailStatusSending, cutoff).
		Updates(map[string]any{
			"status":       enums.MailStatusRetrying,
			"scheduled_at": now,
			"last_error":   "claim lease expired",
			"claimed_by":   nil,
			"claimed_at":   nil,
			"updated_at":   now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listJobsParams) ([]models.MailJob, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.MailJob{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}
	if params.Search != "" {
		pattern := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(recipient) LIKE ? OR LOWER(subject) LIKE ?", pattern, pattern)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at < ?", *params.To)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var jobs []models.MailJob
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, nil, err
	}

	if len(jobs) > normalized {
		next := jobs[normalized]
		jobs = jobs[:normalized]
		return jobs, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return jobs, nil, nil
}

func (r *repositoryImpl) CountByStatus(ctx context.Context) (map[enums.MailStatus]int64, error) {
	type statusRow struct {
		Status enums.MailStatus
		Total  int64
	}
	var rows []statusRow
	err := r.db.WithContext(ctx).
		Model(&models.MailJob{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.MailStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *repositoryImpl) CountSentSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MailJob{}).
		Where("status = ? AND sent_at >= ?", enums.MailStatusSent, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
