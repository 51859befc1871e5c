package mailqueue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/db/models"
	dbtypes "github.com/bassline-events/mailroom-backend/pkg/db/types"
	"github.com/bassline-events/mailroom-backend/pkg/enums"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
	"github.com/bassline-events/mailroom-backend/pkg/pagination"
)

// CategoryVerification marks jobs carrying one-time codes. They jump the queue
// and burn through a smaller retry budget.
const CategoryVerification = "verification"

// CategoryNotification is the default tag for transactional mail.
const CategoryNotification = "notification"

// PriorityUrgent is the most urgent dispatch priority.
const PriorityUrgent = 1

// PriorityDefault is the standard dispatch priority.
const PriorityDefault = 100

// Kicker nudges the dispatcher to run a cycle ahead of its next poll. Failures
// are swallowed: the periodic sweep is the durability guarantee, the kick is a
// latency optimization only.
type Kicker interface {
	Kick(ctx context.Context)
}

// Service defines queue mutations and the operator read surface.
type Service interface {
	Enqueue(ctx context.Context, params EnqueueParams) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*models.MailJob, error)
	Claim(ctx context.Context, workerID string, limit int) ([]models.MailJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, sendErr error) error
	Requeue(ctx context.Context, id uuid.UUID) error
	RequeueAllFailed(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByStatus(ctx context.Context, status enums.MailStatus) (int64, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	repo   Repository
	cfg    config.QueueConfig
	logg   *logger.Logger
	kicker Kicker
	now    func() time.Time
}

// NewService wires queue dependencies. The kicker is optional.
func NewService(repo Repository, cfg config.QueueConfig, logg *logger.Logger, kicker Kicker) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mail job repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:   repo,
		cfg:    cfg,
		logg:   logg,
		kicker: kicker,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnqueueParams describe one outbound message to persist.
type EnqueueParams struct {
	Recipient   string
	SenderEmail string
	SenderName  string
	Subject     string
	BodyHTML    string
	BodyText    string
	Category    string
	Priority    int
	ScheduledAt *time.Time
	MaxRetries  *int
	Metadata    map[string]string
}

// ListParams configure filters and pagination for the operator list view.
type ListParams struct {
	Status   string
	Category string
	Search   string
	From     *time.Time
	To       *time.Time
	Limit    int
	Cursor   string
}

// ListResult wraps returned jobs and the cursor for the next page.
type ListResult struct {
	Items  []models.MailJob `json:"items"`
	Cursor string           `json:"cursor"`
}

func (s *service) Enqueue(ctx context.Context, params EnqueueParams) (uuid.UUID, error) {
	now := s.now()

	recipient := strings.TrimSpace(params.Recipient)
	if recipient == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient is required")
	}
	if strings.TrimSpace(params.SenderEmail) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "sender email is required")
	}
	if strings.TrimSpace(params.Subject) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subject is required")
	}
	if params.BodyHTML == "" && params.BodyText == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "message body is required")
	}

	category := strings.TrimSpace(params.Category)
	if category == "" {
		category = CategoryNotification
	}

	scheduledAt := now
	if params.ScheduledAt != nil {
		scheduledAt = params.ScheduledAt.UTC()
	}
	if horizon := s.cfg.ScheduleHorizon; horizon > 0 && scheduledAt.After(now.Add(horizon)) {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "scheduled_at is beyond the scheduling horizon").
			WithDetails(map[string]any{"horizon": horizon.String()})
	}

	maxRetries := s.cfg.MaxRetriesFor(category)
	if params.MaxRetries != nil {
		if *params.MaxRetries < 0 {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "max_retries must be non-negative")
		}
		maxRetries = *params.MaxRetries
	}

	priority := params.Priority
	if priority <= 0 {
		priority = PriorityDefault
	}

	job := &models.MailJob{
		Recipient:   recipient,
		SenderEmail: strings.TrimSpace(params.SenderEmail),
		SenderName:  strings.TrimSpace(params.SenderName),
		Subject:     params.Subject,
		BodyHTML:    params.BodyHTML,
		BodyText:    params.BodyText,
		Category:    category,
		Status:      enums.MailStatusPending,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		RetryCount:  0,
		MaxRetries:  maxRetries,
		Metadata:    dbtypes.JSONMap(params.Metadata),
	}
	if job.Metadata == nil {
		job.Metadata = dbtypes.JSONMap{}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist mail job")
	}

	ctx = s.logg.WithJobID(ctx, job.ID.String())
	ctx = s.logg.WithCategory(ctx, category)
	s.logg.Info(ctx, "mail job enqueued")

	if s.kicker != nil {
		s.kicker.Kick(ctx)
	}
	return job.ID, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.MailJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "mail job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load mail job")
	}
	return job, nil
}

func (s *service) Claim(ctx context.Context, workerID string, limit int) ([]models.MailJob, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	jobs, err := s.repo.ClaimDue(ctx, workerID, limit, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim due jobs")
	}
	return jobs, nil
}

func (s *service) Complete(ctx context.Context, id uuid.UUID) error {
	updated, err := s.repo.MarkSent(ctx, id, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark job sent")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeNotFound, "job is not in sending state")
	}
	return nil
}

// Fail applies the retry policy to a claimed job. Retryable errors reschedule
// with exponential backoff while budget remains; everything else terminates
// the job as failed.
func (s *service) Fail(ctx context.Context, id uuid.UUID, sendErr error) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != enums.MailStatusSending {
		return pkgerrors.New(pkgerrors.CodeNotFound, "job is not in sending state")
	}

	now := s.now()
	reason := "send failed"
	if sendErr != nil {
		reason = sendErr.Error()
	}

	ctx = s.logg.WithJobID(ctx, job.ID.String())
	ctx = s.logg.WithCategory(ctx, job.Category)

	if pkgerrors.IsRetryable(sendErr) && job.RetryCount < job.MaxRetries {
		nextAt := now.Add(s.backoffDelay(job.RetryCount))
		updated, err := s.repo.MarkRetrying(ctx, id, nextAt, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark job retrying")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeNotFound, "job is not in sending state")
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"retry_count": job.RetryCount + 1,
			"next_at":     nextAt,
		}), "mail job rescheduled")
		return nil
	}

	updated, err := s.repo.MarkFailed(ctx, id, now, reason)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark job failed")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeNotFound, "job is not in sending state")
	}
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{"last_error": reason}), "mail job failed", sendErr)
	return nil
}

// backoffDelay doubles per completed attempt, starting at the configured base
// and never exceeding the cap.
func (s *service) backoffDelay(retryCount int) time.Duration {
	base := s.cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	maxDelay := s.cfg.BackoffCap
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}

	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (s *service) Requeue(ctx context.Context, id uuid.UUID) error {
	updated, err := s.repo.Requeue(ctx, id, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue job")
	}
	if !updated {
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only failed jobs with retry budget can be requeued").
			WithDetails(map[string]any{"status": job.Status, "retry_count": job.RetryCount})
	}
	if s.kicker != nil {
		s.kicker.Kick(ctx)
	}
	return nil
}

func (s *service) RequeueAllFailed(ctx context.Context) (int64, error) {
	count, err := s.repo.RequeueAllFailed(ctx, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue failed jobs")
	}
	if count > 0 && s.kicker != nil {
		s.kicker.Kick(ctx)
	}
	return count, nil
}

// Delete removes one job. Deleting a job the dispatcher already claimed is
// rejected rather than ripping it out from under an in-flight send.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete job")
	}
	if !deleted {
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "job is currently being sent").
			WithDetails(map[string]any{"status": job.Status})
	}
	return nil
}

func (s *service) DeleteByStatus(ctx context.Context, status enums.MailStatus) (int64, error) {
	if !status.IsValid() || status == enums.MailStatusSending {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "status must be a non-sending mail status")
	}
	count, err := s.repo.DeleteByStatus(ctx, status)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bulk delete jobs")
	}
	return count, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := listJobsParams{
		Category: strings.TrimSpace(params.Category),
		Search:   strings.TrimSpace(params.Search),
		From:     params.From,
		To:       params.To,
		Limit:    params.Limit,
	}
	if params.Status != "" {
		status, err := enums.ParseMailStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list jobs")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
