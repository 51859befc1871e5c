package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

type fakeMailPruner struct {
	cutoff  time.Time
	removed int64
	err     error
}

func (f *fakeMailPruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.removed, f.err
}

type fakeCodePruner struct {
	cutoff  time.Time
	removed int64
	err     error
}

func (f *fakeCodePruner) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.removed, f.err
}

func TestRetentionJobPrunesBothStores(t *testing.T) {
	mail := &fakeMailPruner{removed: 12}
	codes := &fakeCodePruner{removed: 3}
	job, err := NewRetentionJob(RetentionJobParams{
		Logger:    logger.New(logger.Options{Level: zerolog.ErrorLevel}),
		MailRepo:  mail,
		CodeRepo:  codes,
		Retention: config.RetentionConfig{MailDays: 90, CodeDays: 7},
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.(*retentionJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -90), mail.cutoff)
	assert.Equal(t, now.AddDate(0, 0, -7), codes.cutoff)
}

func TestRetentionJobSkipsDisabledWindows(t *testing.T) {
	mail := &fakeMailPruner{}
	codes := &fakeCodePruner{}
	job, err := NewRetentionJob(RetentionJobParams{
		Logger:    logger.New(logger.Options{Level: zerolog.ErrorLevel}),
		MailRepo:  mail,
		CodeRepo:  codes,
		Retention: config.RetentionConfig{MailDays: 0, CodeDays: 0},
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, mail.cutoff.IsZero())
	assert.True(t, codes.cutoff.IsZero())
}

func TestRetentionJobCombinesFailures(t *testing.T) {
	mail := &fakeMailPruner{err: errors.New("mail boom")}
	codes := &fakeCodePruner{err: errors.New("code boom")}
	job, err := NewRetentionJob(RetentionJobParams{
		Logger:    logger.New(logger.Options{Level: zerolog.ErrorLevel}),
		MailRepo:  mail,
		CodeRepo:  codes,
		Retention: config.RetentionConfig{MailDays: 30, CodeDays: 7},
	})
	require.NoError(t, err)

	runErr := job.Run(context.Background())
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "mail boom")
	assert.Contains(t, runErr.Error(), "code boom")
}

func TestRetentionJobParamValidation(t *testing.T) {
	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	_, err := NewRetentionJob(RetentionJobParams{Logger: logg, CodeRepo: &fakeCodePruner{}})
	require.Error(t, err)
	_, err = NewRetentionJob(RetentionJobParams{MailRepo: &fakeMailPruner{}, CodeRepo: &fakeCodePruner{}})
	require.Error(t, err)
}
