package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

type mailHistoryPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type codePruner interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJobParams configure the history retention job.
type RetentionJobParams struct {
	Logger    *logger.Logger
	MailRepo  mailHistoryPruner
	CodeRepo  codePruner
	Retention config.RetentionConfig
}

// NewRetentionJob builds the cron job that trims terminal mail jobs and
// expired verification codes past their retention horizon.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.MailRepo == nil {
		return nil, fmt.Errorf("mail repository required")
	}
	if params.CodeRepo == nil {
		return nil, fmt.Errorf("code repository required")
	}
	return &retentionJob{
		logg:      params.Logger,
		mailRepo:  params.MailRepo,
		codeRepo:  params.CodeRepo,
		retention: params.Retention,
		now:       time.Now,
	}, nil
}

type retentionJob struct {
	logg      *logger.Logger
	mailRepo  mailHistoryPruner
	codeRepo  codePruner
	retention config.RetentionConfig
	now       func() time.Time
}

func (j *retentionJob) Name() string { return "history-retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.pruneMail(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.pruneCodes(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *retentionJob) pruneMail(ctx context.Context) error {
	days := j.retention.MailDays
	if days <= 0 {
		return nil
	}
	cutoff := j.now().UTC().AddDate(0, 0, -days)
	removed, err := j.mailRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune mail history: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"removed": removed, "cutoff": cutoff}), "mail history pruned")
	return nil
}

func (j *retentionJob) pruneCodes(ctx context.Context) error {
	days := j.retention.CodeDays
	if days <= 0 {
		return nil
	}
	cutoff := j.now().UTC().AddDate(0, 0, -days)
	removed, err := j.codeRepo.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune verification codes: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"removed": removed, "cutoff": cutoff}), "expired codes pruned")
	return nil
}
